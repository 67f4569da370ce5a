package services

import (
	"context"
	"time"

	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/state"
)

const deadlineTimeout = 5 * time.Second

// schedule arms the server-side deadline for g's current phase: the round
// timer while playing, the voting timer while voting. Any other phase
// cancels it.
func (s *GameService) schedule(g *models.Game) {
	if s.scheduler == nil {
		return
	}
	code := g.Code
	switch g.Phase {
	case models.PhasePlaying:
		round := g.CurrentRound
		s.scheduler.AddTimer(code, g.RoundEndTime(), func() {
			s.onDeadline(code, state.EventStartVoting, round)
		})
	case models.PhaseVoting:
		round := g.CurrentRound
		s.scheduler.AddTimer(code, g.VotingEndTime, func() {
			s.onDeadline(code, state.EventProcessResults, round)
		})
	default:
		s.scheduler.RemoveTimer(code)
	}
}

// onDeadline fires event with host authority if the game is still in the
// round the timer was armed for.
func (s *GameService) onDeadline(code string, event state.Event, round int) {
	ctx, cancel := context.WithTimeout(context.Background(), deadlineTimeout)
	defer cancel()

	g, err := s.store.LoadGame(ctx, code)
	if err != nil {
		if err = classify(err); !IsIgnorable(err) {
			logger.Log.Errorf("game=%s deadline load failed: %v", code, err)
		}
		return
	}
	if g.CurrentRound != round {
		return
	}

	if event == state.EventProcessResults {
		_, err = s.resolve(ctx, code, state.Input{}, true)
	} else {
		_, err = s.fire(ctx, code, event, state.Input{}, true)
	}
	if err != nil && !IsIgnorable(err) {
		logger.Log.Errorf("game=%s deadline %s failed: %v", code, event, err)
		return
	}
	logger.Log.Debugf("game=%s deadline %s round=%d", code, event, round)
}

// Track loads a game and arms its deadline. It is used when a game becomes
// relevant to this process without having been written by it, such as after
// a restart.
func (s *GameService) Track(ctx context.Context, code string) error {
	if s.scheduler == nil {
		return nil
	}
	code = NormalizeCode(code)
	if _, ok := s.scheduler.Pending(code); ok {
		return nil
	}
	g, err := s.Game(ctx, code)
	if err != nil {
		return err
	}
	s.schedule(g)
	return nil
}
