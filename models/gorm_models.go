// models/gorm_models.go
package models

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMalformedState is returned when stored rows cannot form a valid Game.
var ErrMalformedState = errors.New("malformed game state")

// GormGame 游戏表
type GormGame struct {
	Code            string `gorm:"primaryKey;size:16"`
	HostID          string `gorm:"size:16;not null"`
	Phase           string `gorm:"size:16;not null"`
	CurrentRound    int    `gorm:"not null;default:0"`
	RoundStartTime  sql.NullTime
	RoundDurationMS int64 `gorm:"not null"`
	VotingEndTime   sql.NullTime
	Winner          sql.NullString `gorm:"size:16"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (GormGame) TableName() string { return "games" }

// GormPlayer 玩家表. Player ids are unique only within their game.
type GormPlayer struct {
	GameCode        string         `gorm:"primaryKey;size:16"`
	ID              string         `gorm:"primaryKey;size:16"`
	Seq             int            `gorm:"not null"`
	Name            string         `gorm:"size:64;not null"`
	Suit            sql.NullString `gorm:"size:16"`
	IsJack          bool           `gorm:"not null;default:false"`
	IsHost          bool           `gorm:"not null;default:false"`
	Status          string         `gorm:"size:16;not null"`
	EliminatedRound sql.NullInt32
	LastVote        sql.NullString `gorm:"size:16"`
	JoinedAt        time.Time
}

func (GormPlayer) TableName() string { return "players" }

// GormRoundResult is one resolved player in one round.
type GormRoundResult struct {
	ID          uint           `gorm:"primaryKey"`
	GameCode    string         `gorm:"uniqueIndex:idx_round_player;size:16;not null"`
	RoundNumber int            `gorm:"uniqueIndex:idx_round_player;not null"`
	PlayerID    string         `gorm:"uniqueIndex:idx_round_player;size:16;not null"`
	PlayerName  string         `gorm:"size:64;not null"`
	Vote        sql.NullString `gorm:"size:16"`
	ActualSuit  string         `gorm:"size:16;not null"`
	Correct     bool           `gorm:"not null"`
	Eliminated  bool           `gorm:"not null"`
	Seq         int            `gorm:"not null"`
	CreatedAt   time.Time
}

func (GormRoundResult) TableName() string { return "round_results" }

// GormSessionBinding persists one client's game binding.
type GormSessionBinding struct {
	ClientID  string `gorm:"primaryKey;size:64"`
	GameCode  string `gorm:"size:16;not null"`
	PlayerID  string `gorm:"size:16;not null"`
	UpdatedAt time.Time
}

func (GormSessionBinding) TableName() string { return "session_bindings" }

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ToRows flattens a Game into its table rows.
func ToRows(g *Game) (GormGame, []GormPlayer, []GormRoundResult) {
	game := GormGame{
		Code:            g.Code,
		HostID:          g.HostID,
		Phase:           string(g.Phase),
		CurrentRound:    g.CurrentRound,
		RoundStartTime:  nullTime(g.RoundStartTime),
		RoundDurationMS: g.RoundDuration.Milliseconds(),
		VotingEndTime:   nullTime(g.VotingEndTime),
		Winner:          nullString(string(g.Winner)),
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}

	players := make([]GormPlayer, 0, len(g.Players))
	for i, p := range g.Players {
		row := GormPlayer{
			ID:       p.ID,
			GameCode: g.Code,
			Seq:      i,
			Name:     p.Name,
			Suit:     nullString(string(p.Suit)),
			IsJack:   p.IsJack,
			IsHost:   p.IsHost,
			Status:   string(p.Status),
			LastVote: nullString(string(p.LastVote)),
			JoinedAt: p.JoinedAt,
		}
		if p.EliminatedRound > 0 {
			row.EliminatedRound = sql.NullInt32{Int32: int32(p.EliminatedRound), Valid: true}
		}
		players = append(players, row)
	}

	var results []GormRoundResult
	for _, r := range g.RoundResults {
		results = append(results, RoundResultRows(g, r)...)
	}
	return game, players, results
}

// RoundResultRows flattens one round. Eliminations come first, then
// survivors, each in the order recorded.
func RoundResultRows(g *Game, r RoundResult) []GormRoundResult {
	rows := make([]GormRoundResult, 0, len(r.Eliminations)+len(r.Survivors))
	seq := 0
	for _, e := range r.Eliminations {
		rows = append(rows, GormRoundResult{
			GameCode:    g.Code,
			RoundNumber: r.Round,
			PlayerID:    e.PlayerID,
			PlayerName:  e.PlayerName,
			Vote:        nullString(string(e.GuessedSuit)),
			ActualSuit:  string(e.ActualSuit),
			Correct:     false,
			Eliminated:  true,
			Seq:         seq,
		})
		seq++
	}
	for _, s := range r.Survivors {
		actual := SuitNone
		if p := g.Player(s.PlayerID); p != nil {
			actual = p.Suit
		}
		rows = append(rows, GormRoundResult{
			GameCode:    g.Code,
			RoundNumber: r.Round,
			PlayerID:    s.PlayerID,
			PlayerName:  s.PlayerName,
			Vote:        nullString(string(actual)),
			ActualSuit:  string(actual),
			Correct:     true,
			Eliminated:  false,
			Seq:         seq,
		})
		seq++
	}
	return rows
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedState, fmt.Sprintf(format, args...))
}

// FromRows rebuilds a Game. Players must be ordered by Seq; round result rows
// may come in any order.
func FromRows(row GormGame, players []GormPlayer, results []GormRoundResult) (*Game, error) {
	phase, err := ParsePhase(row.Phase)
	if err != nil {
		return nil, malformed("game %s: %v", row.Code, err)
	}
	if row.HostID == "" {
		return nil, malformed("game %s: missing host", row.Code)
	}

	g := &Game{
		Code:          row.Code,
		HostID:        row.HostID,
		Phase:         phase,
		CurrentRound:  row.CurrentRound,
		RoundDuration: time.Duration(row.RoundDurationMS) * time.Millisecond,
		Winner:        Winner(row.Winner.String),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		Players:       make([]*Player, 0, len(players)),
	}
	if row.RoundStartTime.Valid {
		g.RoundStartTime = row.RoundStartTime.Time
	}
	if row.VotingEndTime.Valid {
		g.VotingEndTime = row.VotingEndTime.Time
	}

	for _, pr := range players {
		status := PlayerStatus(pr.Status)
		if !status.Valid() {
			return nil, malformed("player %s: unknown status %q", pr.ID, pr.Status)
		}
		p := &Player{
			ID:       pr.ID,
			Name:     pr.Name,
			IsJack:   pr.IsJack,
			IsHost:   pr.IsHost,
			Status:   status,
			JoinedAt: pr.JoinedAt,
		}
		if pr.Suit.Valid {
			if p.Suit, err = ParseSuit(pr.Suit.String); err != nil {
				return nil, malformed("player %s: %v", pr.ID, err)
			}
		}
		if pr.LastVote.Valid {
			if p.LastVote, err = ParseSuit(pr.LastVote.String); err != nil {
				return nil, malformed("player %s: %v", pr.ID, err)
			}
		}
		if pr.EliminatedRound.Valid {
			p.EliminatedRound = int(pr.EliminatedRound.Int32)
		}
		g.Players = append(g.Players, p)
	}

	rounds, err := groupRoundResults(results)
	if err != nil {
		return nil, err
	}
	g.RoundResults = rounds

	if err := g.Validate(); err != nil {
		return nil, malformed("game %s: %v", row.Code, err)
	}
	return g, nil
}

func groupRoundResults(rows []GormRoundResult) ([]RoundResult, error) {
	sorted := append([]GormRoundResult(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RoundNumber != sorted[j].RoundNumber {
			return sorted[i].RoundNumber < sorted[j].RoundNumber
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	var rounds []RoundResult
	for _, r := range sorted {
		if len(rounds) == 0 || rounds[len(rounds)-1].Round != r.RoundNumber {
			rounds = append(rounds, RoundResult{Round: r.RoundNumber, Eliminations: []Elimination{}, Survivors: []Survivor{}})
		}
		cur := &rounds[len(rounds)-1]
		if !r.Eliminated {
			cur.Survivors = append(cur.Survivors, Survivor{PlayerID: r.PlayerID, PlayerName: r.PlayerName})
			continue
		}
		actual, err := ParseSuit(r.ActualSuit)
		if err != nil {
			return nil, malformed("round %d player %s: %v", r.RoundNumber, r.PlayerID, err)
		}
		e := Elimination{
			PlayerID:   r.PlayerID,
			PlayerName: r.PlayerName,
			ActualSuit: actual,
			Abstained:  !r.Vote.Valid,
		}
		if r.Vote.Valid {
			if e.GuessedSuit, err = ParseSuit(r.Vote.String); err != nil {
				return nil, malformed("round %d player %s: %v", r.RoundNumber, r.PlayerID, err)
			}
		}
		cur.Eliminations = append(cur.Eliminations, e)
	}
	return rounds, nil
}
