// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/jackofhearts/models"
)

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
	ErrCodeTaken      = errors.New("game code already exists")
	ErrDuplicateID    = errors.New("player id already in game")
	// ErrMalformedState aliases models.ErrMalformedState so callers need one
	// import.
	ErrMalformedState = models.ErrMalformedState
)

// Store holds the canonical game aggregates keyed by code. Every method
// returns copies; callers never share memory with the store.
type Store interface {
	// CreateGame inserts g, failing with ErrCodeTaken on a duplicate code.
	CreateGame(ctx context.Context, g *models.Game) error
	LoadGame(ctx context.Context, code string) (*models.Game, error)
	// UpdateGame applies fn to the current aggregate atomically. If fn
	// returns an error nothing is written and that error is returned as is.
	UpdateGame(ctx context.Context, code string, fn func(g *models.Game) error) (*models.Game, error)
	DeleteGame(ctx context.Context, code string) error
	Close() error
}

// Precondition is checked inside the same atomic update as the write.
type Precondition func(g *models.Game) error

func check(g *models.Game, pre Precondition) error {
	if pre == nil {
		return nil
	}
	return pre(g)
}

// AppendPlayer adds p at the end of the roster.
func AppendPlayer(ctx context.Context, s Store, code string, p *models.Player, pre Precondition) (*models.Game, error) {
	return s.UpdateGame(ctx, code, func(g *models.Game) error {
		if err := check(g, pre); err != nil {
			return err
		}
		if g.Player(p.ID) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
		cp := *p
		g.Players = append(g.Players, &cp)
		return nil
	})
}

// DeletePlayer removes a player from the roster.
func DeletePlayer(ctx context.Context, s Store, code, playerID string, pre Precondition) (*models.Game, error) {
	return s.UpdateGame(ctx, code, func(g *models.Game) error {
		if err := check(g, pre); err != nil {
			return err
		}
		for i, p := range g.Players {
			if p.ID == playerID {
				g.Players = append(g.Players[:i], g.Players[i+1:]...)
				return nil
			}
		}
		return ErrRecordNotFound
	})
}

// GameFields is a partial update of the game record. Nil fields are kept.
type GameFields struct {
	Phase          *models.Phase
	CurrentRound   *int
	RoundStartTime *time.Time
	VotingEndTime  *time.Time
	Winner         *models.Winner
}

func (f GameFields) apply(g *models.Game) {
	if f.Phase != nil {
		g.Phase = *f.Phase
	}
	if f.CurrentRound != nil {
		g.CurrentRound = *f.CurrentRound
	}
	if f.RoundStartTime != nil {
		g.RoundStartTime = *f.RoundStartTime
	}
	if f.VotingEndTime != nil {
		g.VotingEndTime = *f.VotingEndTime
	}
	if f.Winner != nil {
		g.Winner = *f.Winner
	}
}

// UpdateFields replaces the given game fields.
func UpdateFields(ctx context.Context, s Store, code string, f GameFields, pre Precondition) (*models.Game, error) {
	return s.UpdateGame(ctx, code, func(g *models.Game) error {
		if err := check(g, pre); err != nil {
			return err
		}
		f.apply(g)
		return nil
	})
}

// PlayerFields is a partial update of one player. Nil fields are kept.
type PlayerFields struct {
	Suit            *models.Suit
	IsJack          *bool
	Status          *models.PlayerStatus
	LastVote        *models.Suit
	EliminatedRound *int
}

func (f PlayerFields) apply(p *models.Player) {
	if f.Suit != nil {
		p.Suit = *f.Suit
	}
	if f.IsJack != nil {
		p.IsJack = *f.IsJack
	}
	if f.Status != nil {
		p.Status = *f.Status
	}
	if f.LastVote != nil {
		p.LastVote = *f.LastVote
	}
	if f.EliminatedRound != nil {
		p.EliminatedRound = *f.EliminatedRound
	}
}

// UpdatePlayerFields replaces the given fields of one player.
func UpdatePlayerFields(ctx context.Context, s Store, code, playerID string, f PlayerFields, pre Precondition) (*models.Game, error) {
	return s.UpdateGame(ctx, code, func(g *models.Game) error {
		if err := check(g, pre); err != nil {
			return err
		}
		p := g.Player(playerID)
		if p == nil {
			return ErrRecordNotFound
		}
		f.apply(p)
		return nil
	})
}

// AppendRoundResult records a resolved round.
func AppendRoundResult(ctx context.Context, s Store, code string, r models.RoundResult, pre Precondition) (*models.Game, error) {
	return s.UpdateGame(ctx, code, func(g *models.Game) error {
		if err := check(g, pre); err != nil {
			return err
		}
		for _, existing := range g.RoundResults {
			if existing.Round == r.Round {
				return fmt.Errorf("round %d already recorded", r.Round)
			}
		}
		g.RoundResults = append(g.RoundResults, r)
		return nil
	})
}
