// services/game_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/jackofhearts/broadcast"
	"github.com/wfunc/jackofhearts/game"
	"github.com/wfunc/jackofhearts/idgen"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/monitor"
	"github.com/wfunc/jackofhearts/persistence"
	"github.com/wfunc/jackofhearts/state"
	"github.com/wfunc/jackofhearts/timer"
)

const (
	MaxNameLength = 24

	defaultMinPlayers = 3
	createAttempts    = 5
)

// Config tunes a GameService. Zero values fall back to the defaults.
type Config struct {
	CodeLength     int
	MinPlayers     int
	MaxPlayers     int
	RoundDuration  time.Duration
	VotingDuration time.Duration
	AutoResolve    bool

	Clock   clockwork.Clock
	Rand    game.Rand
	Metrics *monitor.Metrics
	// Notifier is told about every write in addition to the local hub.
	Notifier broadcast.Notifier
	// Scheduler, when set, drives round and voting deadlines server side.
	Scheduler *timer.Scheduler
}

// Joined identifies the player created by CreateGame or JoinGame.
type Joined struct {
	Code     string `json:"code"`
	PlayerID string `json:"player_id"`
}

// GameService applies game operations to the store. Every write goes
// through one atomic Store.UpdateGame, then subscribers are notified.
type GameService struct {
	store     persistence.Store
	hub       *broadcast.Hub
	notifier  broadcast.Notifier
	machine   *state.Machine
	clock     clockwork.Clock
	metrics   *monitor.Metrics
	scheduler *timer.Scheduler
	cfg       Config
}

func NewGameService(store persistence.Store, hub *broadcast.Hub, cfg Config) *GameService {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = idgen.DefaultLength
	}
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = defaultMinPlayers
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = 10 * time.Minute
	}
	if cfg.VotingDuration <= 0 {
		cfg.VotingDuration = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if hub == nil {
		hub = broadcast.NewHub()
	}

	notifier := broadcast.Notifier(hub)
	if cfg.Notifier != nil {
		notifier = broadcast.Fanout{hub, cfg.Notifier}
	}

	return &GameService{
		store:    store,
		hub:      hub,
		notifier: notifier,
		machine: state.NewGameMachine(state.Rules{
			MinPlayers:     cfg.MinPlayers,
			VotingDuration: cfg.VotingDuration,
			Rand:           cfg.Rand,
		}),
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		scheduler: cfg.Scheduler,
		cfg:       cfg,
	}
}

// NormalizeCode upper-cases and trims a game code typed by a player.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func (s *GameService) observe(op string, start time.Time) {
	s.metrics.ObserveOperation(op, s.clock.Since(start))
}

// CreateGame opens a lobby with hostName as its host.
func (s *GameService) CreateGame(ctx context.Context, hostName string) (Joined, error) {
	defer s.observe("create", s.clock.Now())

	name, err := normalizeName(hostName)
	if err != nil {
		return Joined{}, err
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		now := s.clock.Now()
		host := &models.Player{
			ID:       idgen.Code(s.cfg.CodeLength),
			Name:     name,
			IsHost:   true,
			Status:   models.StatusActive,
			JoinedAt: now,
		}
		g := &models.Game{
			Code:          idgen.Code(s.cfg.CodeLength),
			HostID:        host.ID,
			Phase:         models.PhaseLobby,
			RoundDuration: s.cfg.RoundDuration,
			Players:       []*models.Player{host},
			RoundResults:  []models.RoundResult{},
			CreatedAt:     now,
		}

		err := s.store.CreateGame(ctx, g)
		if errors.Is(err, persistence.ErrCodeTaken) {
			logger.Log.Debugf("game code %s taken, retrying", g.Code)
			continue
		}
		if err != nil {
			return Joined{}, classify(err)
		}

		s.metrics.GameCreated()
		s.notifier.Notify(g.Code)
		logger.Log.Infof("game created game=%s host=%s", g.Code, host.ID)
		return Joined{Code: g.Code, PlayerID: host.ID}, nil
	}
	return Joined{}, classify(persistence.ErrCodeTaken)
}

// fire applies one state machine event inside an atomic update. With asHost
// set the event runs with host authority, as timers and auto-resolve do.
func (s *GameService) fire(ctx context.Context, code string, event state.Event, in state.Input, asHost bool) (*models.Game, error) {
	defer s.observe(string(event), s.clock.Now())

	code = NormalizeCode(code)
	in.Now = s.clock.Now()
	g, err := s.store.UpdateGame(ctx, code, func(g *models.Game) error {
		if asHost {
			in.Actor = g.HostID
		}
		_, err := s.machine.Fire(g, event, in)
		return err
	})
	err = classify(err)
	s.metrics.Transition(string(event), err)
	if err != nil {
		return nil, err
	}

	s.afterWrite(g)
	logger.Log.Infof("game=%s event=%s phase=%s round=%d", code, event, g.Phase, g.CurrentRound)
	return g, nil
}

// afterWrite notifies subscribers and re-arms the deadline driver.
func (s *GameService) afterWrite(g *models.Game) {
	s.notifier.Notify(g.Code)
	s.schedule(g)
}

func (s *GameService) StartGame(ctx context.Context, code, actorID string) error {
	_, err := s.fire(ctx, code, state.EventStart, state.Input{Actor: actorID}, false)
	return err
}

func (s *GameService) StartVoting(ctx context.Context, code, actorID string) error {
	_, err := s.fire(ctx, code, state.EventStartVoting, state.Input{Actor: actorID}, false)
	return err
}

func (s *GameService) ProcessRoundResults(ctx context.Context, code, actorID string) error {
	_, err := s.resolve(ctx, code, state.Input{Actor: actorID}, false)
	return err
}

// resolve runs round resolution and win evaluation as one write.
func (s *GameService) resolve(ctx context.Context, code string, in state.Input, asHost bool) (*models.Game, error) {
	g, err := s.fire(ctx, code, state.EventProcessResults, in, asHost)
	if err != nil {
		return nil, err
	}
	if n := len(g.RoundResults); n > 0 {
		last := g.RoundResults[n-1]
		s.metrics.RoundResolved(len(last.Eliminations))
		logger.Log.Infof("game=%s round=%d resolved eliminated=%d survivors=%d",
			g.Code, last.Round, len(last.Eliminations), len(last.Survivors))
	}
	if g.Phase == models.PhaseEnded {
		s.metrics.GameWon(string(g.Winner))
		logger.Log.Infof("game=%s ended winner=%s", g.Code, g.Winner)
	}
	return g, nil
}

func (s *GameService) ContinueToNextRound(ctx context.Context, code, actorID string) error {
	_, err := s.fire(ctx, code, state.EventContinue, state.Input{Actor: actorID}, false)
	return err
}

// EndGame terminates a running game. forced may be empty to let the roster
// decide.
func (s *GameService) EndGame(ctx context.Context, code, actorID string, forced models.Winner) error {
	if !forced.Valid() {
		return ErrInvalidWinner
	}
	g, err := s.fire(ctx, code, state.EventEnd, state.Input{Actor: actorID, Winner: forced}, false)
	if err != nil {
		return err
	}
	s.metrics.GameWon(string(g.Winner))
	return nil
}

// ResetGame destroys an ended game.
func (s *GameService) ResetGame(ctx context.Context, code, actorID string) error {
	defer s.observe(string(state.EventReset), s.clock.Now())

	code = NormalizeCode(code)
	g, err := s.store.LoadGame(ctx, code)
	if err != nil {
		return classify(err)
	}
	in := state.Input{Actor: actorID, Now: s.clock.Now()}
	if _, err := s.machine.Check(g, state.EventReset, in); err != nil {
		s.metrics.Transition(string(state.EventReset), err)
		return err
	}
	if err := s.store.DeleteGame(ctx, code); err != nil {
		return classify(err)
	}

	s.metrics.Transition(string(state.EventReset), nil)
	s.metrics.GameDeleted()
	if s.scheduler != nil {
		s.scheduler.RemoveTimer(code)
	}
	s.notifier.Notify(code)
	logger.Log.Infof("game=%s reset by %s", code, actorID)
	return nil
}

// Game returns the full aggregate, secrets included.
func (s *GameService) Game(ctx context.Context, code string) (*models.Game, error) {
	g, err := s.store.LoadGame(ctx, NormalizeCode(code))
	if err != nil {
		return nil, classify(err)
	}
	return g, nil
}

// View returns the game as playerID may see it.
func (s *GameService) View(ctx context.Context, code, playerID string) (*models.GameView, error) {
	g, err := s.Game(ctx, code)
	if err != nil {
		return nil, err
	}
	if g.Player(playerID) == nil {
		return nil, ErrPlayerNotFound
	}
	return models.ViewFor(g, playerID), nil
}

// Subscribe signals on every change to the game.
func (s *GameService) Subscribe(code string) *broadcast.Subscription {
	return s.hub.Subscribe(NormalizeCode(code))
}

// Watch is Subscribe behind the broadcast.Watcher interface.
func (s *GameService) Watch(code, playerID string) (broadcast.Watcher, error) {
	return s.Subscribe(code), nil
}
