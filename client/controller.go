// Package client holds the per-player session controller: the one object
// that owns a player's binding, cached view, change subscription and
// deadline trackers.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/jackofhearts/broadcast"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/services"
	"github.com/wfunc/jackofhearts/session"
	"github.com/wfunc/jackofhearts/timer"
)

// ErrNotBound is returned by game actions while no game is bound.
var ErrNotBound = errors.New("not in a game")

const autoTimeout = 10 * time.Second

// Backend is the game service as a client sees it. *services.GameService
// implements it in process and *Remote over a websocket.
type Backend interface {
	CreateGame(ctx context.Context, hostName string) (services.Joined, error)
	JoinGame(ctx context.Context, code, name string) (services.Joined, error)
	LeaveGame(ctx context.Context, code, playerID string) error
	RemovePlayer(ctx context.Context, code, actorID, targetID string) error
	StartGame(ctx context.Context, code, actorID string) error
	StartVoting(ctx context.Context, code, actorID string) error
	SubmitVote(ctx context.Context, code, playerID string, suit models.Suit) error
	ProcessRoundResults(ctx context.Context, code, actorID string) error
	ContinueToNextRound(ctx context.Context, code, actorID string) error
	EndGame(ctx context.Context, code, actorID string, forced models.Winner) error
	ResetGame(ctx context.Context, code, actorID string) error
	View(ctx context.Context, code, playerID string) (*models.GameView, error)
	Watch(code, playerID string) (broadcast.Watcher, error)
}

type Options struct {
	Backend  Backend
	Bindings session.BindingStore
	ClientID string
	Clock    clockwork.Clock
	// VotingDuration is only used to draw voting progress. Default 30s.
	VotingDuration time.Duration
	// OnChange is called with every new view, and with nil when the
	// binding is dropped. It must not call back into the controller
	// synchronously.
	OnChange func(view *models.GameView)
}

// Controller is the explicit session context of one player.
type Controller struct {
	backend   Backend
	bindings  session.BindingStore
	clientID  string
	clock     clockwork.Clock
	onChange  func(*models.GameView)
	votingFor time.Duration

	round  *timer.Tracker
	voting *timer.Tracker

	mu      sync.Mutex
	binding session.Binding
	view    *models.GameView
	watch   broadcast.Watcher
	busy    bool
	lastErr string
}

func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.VotingDuration <= 0 {
		opts.VotingDuration = 30 * time.Second
	}
	if opts.Bindings == nil {
		opts.Bindings = session.NewMemoryBindings()
	}
	c := &Controller{
		backend:  opts.Backend,
		bindings: opts.Bindings,
		clientID: opts.ClientID,
		clock:    opts.Clock,
		onChange: opts.OnChange,

		votingFor: opts.VotingDuration,
	}
	c.round = timer.NewTracker(c.clock, func() {
		c.autoAdvance(models.PhasePlaying, c.backend.StartVoting)
	})
	c.voting = timer.NewTracker(c.clock, func() {
		c.autoAdvance(models.PhaseVoting, c.backend.ProcessRoundResults)
	})
	return c
}

// Restore re-attaches a binding saved by an earlier run. A binding whose
// game no longer resolves is dropped and Restore returns nil: the client is
// simply not in a game.
func (c *Controller) Restore(ctx context.Context) error {
	b, err := c.bindings.LoadBinding(ctx, c.clientID)
	if errors.Is(err, session.ErrNoBinding) {
		return nil
	}
	if err != nil {
		logger.Log.Warnf("client=%s binding unreadable, starting fresh: %v", c.clientID, err)
		if err := c.bindings.DeleteBinding(ctx, c.clientID); err != nil {
			logger.Log.Warnf("client=%s could not clear binding: %v", c.clientID, err)
		}
		return nil
	}
	return c.attach(ctx, b)
}

// attach binds to b, starts watching and loads the first view. Watching
// first means no change between the two is lost.
func (c *Controller) attach(ctx context.Context, b session.Binding) error {
	watch, err := c.backend.Watch(b.GameCode, b.PlayerID)
	if err != nil {
		if dropsBinding(err) {
			logger.Log.Infof("client=%s game=%s no longer available: %v", c.clientID, b.GameCode, err)
			c.detach(ctx)
			return nil
		}
		c.setError(err)
		return err
	}
	view, err := c.backend.View(ctx, b.GameCode, b.PlayerID)
	if err != nil {
		watch.Close()
		if dropsBinding(err) {
			logger.Log.Infof("client=%s game=%s no longer available: %v", c.clientID, b.GameCode, err)
			c.detach(ctx)
			return nil
		}
		c.setError(err)
		return err
	}
	if err := c.bindings.SaveBinding(ctx, c.clientID, b); err != nil {
		logger.Log.Warnf("client=%s save binding failed: %v", c.clientID, err)
	}

	c.mu.Lock()
	old := c.watch
	c.binding = b
	c.watch = watch
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go c.watchLoop(watch, b)
	c.apply(view)
	return nil
}

// detach drops the binding, the subscription and the trackers.
func (c *Controller) detach(ctx context.Context) {
	c.mu.Lock()
	watch := c.watch
	c.watch = nil
	c.binding = session.Binding{}
	c.view = nil
	c.mu.Unlock()

	if watch != nil {
		watch.Close()
	}
	c.round.Stop()
	c.voting.Stop()
	if err := c.bindings.DeleteBinding(ctx, c.clientID); err != nil {
		logger.Log.Warnf("client=%s delete binding failed: %v", c.clientID, err)
	}
	if c.onChange != nil {
		c.onChange(nil)
	}
}

func dropsBinding(err error) bool {
	return errors.Is(err, services.ErrGameNotFound) ||
		errors.Is(err, services.ErrPlayerNotFound) ||
		errors.Is(err, services.ErrMalformedState)
}

func (c *Controller) watchLoop(watch broadcast.Watcher, b session.Binding) {
	for range watch.C() {
		c.mu.Lock()
		current := c.binding
		c.mu.Unlock()
		if current != b {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), autoTimeout)
		c.refresh(ctx, b)
		cancel()
	}
}

// refresh re-reads the view for b. A vanished game or player unbinds.
func (c *Controller) refresh(ctx context.Context, b session.Binding) {
	view, err := c.backend.View(ctx, b.GameCode, b.PlayerID)
	if err != nil {
		if dropsBinding(err) {
			c.mu.Lock()
			stale := c.binding != b
			c.mu.Unlock()
			if !stale {
				c.detach(ctx)
			}
			return
		}
		logger.Log.Warnf("client=%s refresh failed: %v", c.clientID, err)
		return
	}
	c.mu.Lock()
	stale := c.binding != b
	c.mu.Unlock()
	if !stale {
		c.apply(view)
	}
}

// apply caches view and re-targets the trackers.
func (c *Controller) apply(view *models.GameView) {
	c.mu.Lock()
	c.view = view
	c.mu.Unlock()

	c.round.Set(view.RoundStartTime, view.RoundEndTime, view.Phase == models.PhasePlaying)
	votingStart := view.VotingEndTime
	if !votingStart.IsZero() {
		votingStart = votingStart.Add(-c.votingFor)
	}
	c.voting.Set(votingStart, view.VotingEndTime, view.Phase == models.PhaseVoting)

	if c.onChange != nil {
		c.onChange(view)
	}
}

// autoAdvance is the deadline action. Only the host's controller acts, and
// a transition someone else already made is ignored.
func (c *Controller) autoAdvance(phase models.Phase, action func(ctx context.Context, code, actorID string) error) {
	c.mu.Lock()
	b, view := c.binding, c.view
	c.mu.Unlock()
	if b.Empty() || view == nil || !view.IsHost() || view.Phase != phase {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), autoTimeout)
	defer cancel()
	if err := action(ctx, b.GameCode, b.PlayerID); err != nil && !services.IsIgnorable(err) {
		logger.Log.Warnf("client=%s game=%s deadline action failed: %v", c.clientID, b.GameCode, err)
	}
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.lastErr = services.UserMessage(err)
	c.mu.Unlock()
}

// begin marks the controller busy. It fails if another action is pending.
func (c *Controller) begin() (session.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return c.binding, false
	}
	c.busy = true
	c.lastErr = ""
	return c.binding, true
}

func (c *Controller) end(err error) {
	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.lastErr = services.UserMessage(err)
	}
	c.mu.Unlock()
}

var errBusy = errors.New("another action is in progress")

// act runs a user action against the bound game and refreshes on success.
func (c *Controller) act(ctx context.Context, fn func(b session.Binding) error) (err error) {
	b, ok := c.begin()
	if !ok {
		return errBusy
	}
	defer func() { c.end(err) }()

	if b.Empty() {
		return ErrNotBound
	}
	if err = fn(b); err != nil {
		if errors.Is(err, services.ErrGameNotFound) {
			c.detach(ctx)
		}
		return err
	}
	c.refresh(ctx, b)
	return nil
}

// CreateGame hosts a new game and binds to it.
func (c *Controller) CreateGame(ctx context.Context, hostName string) (err error) {
	if _, ok := c.begin(); !ok {
		return errBusy
	}
	defer func() { c.end(err) }()

	joined, err := c.backend.CreateGame(ctx, hostName)
	if err != nil {
		return err
	}
	return c.attach(ctx, session.Binding{GameCode: joined.Code, PlayerID: joined.PlayerID})
}

// JoinGame joins an existing lobby and binds to it.
func (c *Controller) JoinGame(ctx context.Context, code, name string) (err error) {
	if _, ok := c.begin(); !ok {
		return errBusy
	}
	defer func() { c.end(err) }()

	joined, err := c.backend.JoinGame(ctx, code, name)
	if err != nil {
		return err
	}
	return c.attach(ctx, session.Binding{GameCode: joined.Code, PlayerID: joined.PlayerID})
}

// Leave removes the player from a lobby, then drops the binding. Outside
// the lobby only the local binding is dropped.
func (c *Controller) Leave(ctx context.Context) (err error) {
	b, ok := c.begin()
	if !ok {
		return errBusy
	}
	defer func() { c.end(err) }()

	if b.Empty() {
		return nil
	}
	view := c.View()
	if view != nil && view.Phase == models.PhaseLobby {
		err = c.backend.LeaveGame(ctx, b.GameCode, b.PlayerID)
		if err != nil && !dropsBinding(err) {
			return err
		}
	}
	c.detach(ctx)
	return nil
}

// Reset destroys an ended game when called by its host. The local binding
// is dropped in every case except a transient store failure.
func (c *Controller) Reset(ctx context.Context) (err error) {
	b, ok := c.begin()
	if !ok {
		return errBusy
	}
	defer func() { c.end(err) }()

	if b.Empty() {
		return nil
	}
	view := c.View()
	if view != nil && view.IsHost() && view.Phase == models.PhaseEnded {
		err = c.backend.ResetGame(ctx, b.GameCode, b.PlayerID)
		if errors.Is(err, services.ErrStoreUnavailable) {
			return err
		}
	}
	c.detach(ctx)
	return nil
}

func (c *Controller) RemovePlayer(ctx context.Context, targetID string) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.RemovePlayer(ctx, b.GameCode, b.PlayerID, targetID)
	})
}

func (c *Controller) StartGame(ctx context.Context) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.StartGame(ctx, b.GameCode, b.PlayerID)
	})
}

func (c *Controller) StartVoting(ctx context.Context) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.StartVoting(ctx, b.GameCode, b.PlayerID)
	})
}

func (c *Controller) SubmitVote(ctx context.Context, suit models.Suit) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.SubmitVote(ctx, b.GameCode, b.PlayerID, suit)
	})
}

func (c *Controller) ProcessRoundResults(ctx context.Context) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.ProcessRoundResults(ctx, b.GameCode, b.PlayerID)
	})
}

func (c *Controller) ContinueToNextRound(ctx context.Context) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.ContinueToNextRound(ctx, b.GameCode, b.PlayerID)
	})
}

func (c *Controller) EndGame(ctx context.Context, forced models.Winner) error {
	return c.act(ctx, func(b session.Binding) error {
		return c.backend.EndGame(ctx, b.GameCode, b.PlayerID, forced)
	})
}

// Resume re-evaluates both trackers after the process was suspended.
func (c *Controller) Resume() {
	c.round.Resume()
	c.voting.Resume()
}

// View returns the cached view, nil when not in a game.
func (c *Controller) View() *models.GameView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Controller) Binding() session.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// LastError is the user message of the last failed action.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) RoundTimer() timer.Snapshot  { return c.round.Snapshot() }
func (c *Controller) VotingTimer() timer.Snapshot { return c.voting.Snapshot() }

// Close stops watching without touching the stored binding, so the next
// Restore picks the game up again.
func (c *Controller) Close() {
	c.mu.Lock()
	watch := c.watch
	c.watch = nil
	c.binding = session.Binding{}
	c.mu.Unlock()
	if watch != nil {
		watch.Close()
	}
	c.round.Stop()
	c.voting.Stop()
}
