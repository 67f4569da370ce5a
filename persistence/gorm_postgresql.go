// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/session"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db      *gorm.DB
	channel string
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接. Every committed write
// sends the game code on channel via pg_notify; an empty channel disables it.
func NewGormPostgreSQL(dsn, channel string) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db, channel: channel}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormGame{},
		&models.GormPlayer{},
		&models.GormRoundResult{},
		&models.GormSessionBinding{},
	)
}

func (p *GormPostgreSQL) notify(tx *gorm.DB, code string) error {
	if p.channel == "" {
		return nil
	}
	return tx.Exec("SELECT pg_notify(?, ?)", p.channel, code).Error
}

func (p *GormPostgreSQL) CreateGame(ctx context.Context, g *models.Game) error {
	now := time.Now()
	stored := g.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	game, players, results := models.ToRows(stored)

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&game).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrCodeTaken
			}
			return err
		}
		if len(players) > 0 {
			if err := tx.Create(&players).Error; err != nil {
				return err
			}
		}
		if len(results) > 0 {
			if err := tx.Create(&results).Error; err != nil {
				return err
			}
		}
		return p.notify(tx, g.Code)
	})
}

// loadGame reads the aggregate. With lock set the game row is held
// FOR UPDATE until the surrounding transaction ends.
func loadGame(tx *gorm.DB, code string, lock bool) (*models.Game, error) {
	var row models.GormGame
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("code = ?", code).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var players []models.GormPlayer
	if err := tx.Where("game_code = ?", code).Order("seq").Find(&players).Error; err != nil {
		return nil, err
	}
	var results []models.GormRoundResult
	if err := tx.Where("game_code = ?", code).Order("round_number, seq").Find(&results).Error; err != nil {
		return nil, err
	}
	return models.FromRows(row, players, results)
}

func (p *GormPostgreSQL) LoadGame(ctx context.Context, code string) (*models.Game, error) {
	return loadGame(p.db.WithContext(ctx), code, false)
}

func (p *GormPostgreSQL) UpdateGame(ctx context.Context, code string, fn func(g *models.Game) error) (*models.Game, error) {
	var out *models.Game
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := loadGame(tx, code, true)
		if err != nil {
			return err
		}
		before := g.Clone()
		if err := fn(g); err != nil {
			return err
		}
		g.UpdatedAt = time.Now()
		if err := saveDiff(tx, before, g); err != nil {
			return err
		}
		if err := p.notify(tx, code); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// saveDiff writes the game row, upserts the roster, drops removed players
// and inserts round results appended since before.
func saveDiff(tx *gorm.DB, before, after *models.Game) error {
	game, players, _ := models.ToRows(after)
	if err := tx.Save(&game).Error; err != nil {
		return err
	}

	if len(players) > 0 {
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_code"}, {Name: "id"}},
			UpdateAll: true,
		}
		if err := tx.Clauses(upsert).Create(&players).Error; err != nil {
			return err
		}
	}

	var removed []string
	for _, old := range before.Players {
		if after.Player(old.ID) == nil {
			removed = append(removed, old.ID)
		}
	}
	if len(removed) > 0 {
		err := tx.Where("game_code = ? AND id IN ?", after.Code, removed).
			Delete(&models.GormPlayer{}).Error
		if err != nil {
			return err
		}
	}

	for i := len(before.RoundResults); i < len(after.RoundResults); i++ {
		rows := models.RoundResultRows(after, after.RoundResults[i])
		if len(rows) == 0 {
			continue
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}
	return nil
}

func (p *GormPostgreSQL) DeleteGame(ctx context.Context, code string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game_code = ?", code).Delete(&models.GormRoundResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_code = ?", code).Delete(&models.GormPlayer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("game_code = ?", code).Delete(&models.GormSessionBinding{}).Error; err != nil {
			return err
		}
		res := tx.Where("code = ?", code).Delete(&models.GormGame{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return p.notify(tx, code)
	})
}

// SaveBinding upserts the binding for clientID.
func (p *GormPostgreSQL) SaveBinding(ctx context.Context, clientID string, b session.Binding) error {
	row := models.GormSessionBinding{
		ClientID: clientID,
		GameCode: b.GameCode,
		PlayerID: b.PlayerID,
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (p *GormPostgreSQL) LoadBinding(ctx context.Context, clientID string) (session.Binding, error) {
	var row models.GormSessionBinding
	if err := p.db.WithContext(ctx).Where("client_id = ?", clientID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Binding{}, session.ErrNoBinding
		}
		return session.Binding{}, err
	}
	return session.Binding{GameCode: row.GameCode, PlayerID: row.PlayerID}, nil
}

func (p *GormPostgreSQL) DeleteBinding(ctx context.Context, clientID string) error {
	return p.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&models.GormSessionBinding{}).Error
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
