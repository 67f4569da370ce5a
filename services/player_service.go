// services/player_service.go
package services

import (
	"context"
	"errors"

	"github.com/wfunc/jackofhearts/idgen"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/persistence"
	"github.com/wfunc/jackofhearts/state"
)

// JoinGame adds a player to a lobby.
func (s *GameService) JoinGame(ctx context.Context, code, name string) (Joined, error) {
	defer s.observe(string(state.EventJoin), s.clock.Now())

	code = NormalizeCode(code)
	name, err := normalizeName(name)
	if err != nil {
		return Joined{}, err
	}

	now := s.clock.Now()
	canJoin := func(g *models.Game) error {
		if g.Phase != models.PhaseLobby {
			return ErrAlreadyStarted
		}
		if _, err := s.machine.Check(g, state.EventJoin, state.Input{Now: now}); err != nil {
			return err
		}
		if s.cfg.MaxPlayers > 0 && len(g.Players) >= s.cfg.MaxPlayers {
			return ErrGameFull
		}
		return nil
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		p := &models.Player{
			ID:       idgen.Code(s.cfg.CodeLength),
			Name:     name,
			Status:   models.StatusActive,
			JoinedAt: now,
		}
		g, err := persistence.AppendPlayer(ctx, s.store, code, p, canJoin)
		if errors.Is(err, persistence.ErrDuplicateID) {
			continue
		}
		err = classify(err)
		s.metrics.Transition(string(state.EventJoin), err)
		if err != nil {
			return Joined{}, err
		}

		s.afterWrite(g)
		logger.Log.Infof("game=%s player=%s joined as %q", code, p.ID, name)
		return Joined{Code: code, PlayerID: p.ID}, nil
	}
	return Joined{}, classify(persistence.ErrDuplicateID)
}

// LeaveGame removes playerID from a lobby at their own request.
func (s *GameService) LeaveGame(ctx context.Context, code, playerID string) error {
	defer s.observe(string(state.EventLeave), s.clock.Now())

	code = NormalizeCode(code)
	now := s.clock.Now()
	g, err := persistence.DeletePlayer(ctx, s.store, code, playerID, func(g *models.Game) error {
		p := g.Player(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if p.IsHost {
			return ErrHostCannotLeave
		}
		_, err := s.machine.Check(g, state.EventLeave, state.Input{Actor: playerID, Now: now})
		return err
	})
	err = classify(err)
	s.metrics.Transition(string(state.EventLeave), err)
	if err != nil {
		return err
	}

	s.afterWrite(g)
	logger.Log.Infof("game=%s player=%s left", code, playerID)
	return nil
}

// RemovePlayer lets the host drop another player from the lobby.
func (s *GameService) RemovePlayer(ctx context.Context, code, actorID, targetID string) error {
	defer s.observe(string(state.EventRemovePlayer), s.clock.Now())

	code = NormalizeCode(code)
	now := s.clock.Now()
	g, err := persistence.DeletePlayer(ctx, s.store, code, targetID, func(g *models.Game) error {
		if _, err := s.machine.Check(g, state.EventRemovePlayer, state.Input{Actor: actorID, Now: now}); err != nil {
			return err
		}
		target := g.Player(targetID)
		if target == nil {
			return ErrPlayerNotFound
		}
		if target.IsHost {
			return ErrCannotRemoveHost
		}
		return nil
	})
	err = classify(err)
	s.metrics.Transition(string(state.EventRemovePlayer), err)
	if err != nil {
		return err
	}

	s.afterWrite(g)
	logger.Log.Infof("game=%s player=%s removed by %s", code, targetID, actorID)
	return nil
}

// SubmitVote records playerID's guess for their own suit. Votes are final
// for the round. With auto-resolve on, the last missing vote resolves the
// round straight away.
func (s *GameService) SubmitVote(ctx context.Context, code, playerID string, suit models.Suit) error {
	defer s.observe(string(state.EventVote), s.clock.Now())

	if !suit.Valid() {
		return ErrInvalidSuit
	}
	code = NormalizeCode(code)
	now := s.clock.Now()

	g, err := persistence.UpdatePlayerFields(ctx, s.store, code, playerID,
		persistence.PlayerFields{LastVote: &suit},
		func(g *models.Game) error {
			if _, err := s.machine.Check(g, state.EventVote, state.Input{Actor: playerID, Now: now}); err != nil {
				return err
			}
			p := g.Player(playerID)
			switch {
			case p == nil:
				return ErrPlayerNotFound
			case p.Status != models.StatusActive:
				return ErrNotActive
			case p.HasVoted():
				return ErrAlreadyVoted
			}
			return nil
		})
	err = classify(err)
	s.metrics.Transition(string(state.EventVote), err)
	if err != nil {
		return err
	}

	s.notifier.Notify(code)
	logger.Log.Debugf("game=%s player=%s voted", code, playerID)

	if s.cfg.AutoResolve && g.AllVoted() {
		if _, err := s.resolve(ctx, code, state.Input{}, true); err != nil && !IsIgnorable(err) {
			logger.Log.Errorf("game=%s auto resolve failed: %v", code, err)
		}
	}
	return nil
}
