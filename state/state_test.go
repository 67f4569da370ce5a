package state

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/wfunc/jackofhearts/models"
)

// MockState is a test double for the State interface.
// It helps us track which methods have been called.
type MockState struct {
	ID            models.Phase
	OnEnterCalled bool
	OnExitCalled  bool
}

func (m *MockState) GetID() models.Phase { return m.ID }

func (m *MockState) OnEnter(g *models.Game, in Input) { m.OnEnterCalled = true }

func (m *MockState) OnExit(g *models.Game, in Input) { m.OnExitCalled = true }

func newLobby(n int) *models.Game {
	g := &models.Game{Code: "GAME01", HostID: "P0", Phase: models.PhaseLobby}
	for i := 0; i < n; i++ {
		g.Players = append(g.Players, &models.Player{
			ID:     "P" + string(rune('0'+i)),
			Name:   "player",
			IsHost: i == 0,
			Status: models.StatusActive,
		})
	}
	return g
}

func newTestMachine() *Machine {
	return NewGameMachine(Rules{
		MinPlayers:     3,
		VotingDuration: 30 * time.Second,
		Rand:           rand.New(rand.NewSource(1)),
	})
}

func TestMachine_HooksRunOnPhaseChange(t *testing.T) {
	stateA := &MockState{ID: "a"}
	stateB := &MockState{ID: "b"}

	sm := NewMachine()
	sm.AddState(stateA)
	sm.AddState(stateB)
	if err := sm.AddTransition(Transition{From: "a", Event: "go", To: "b"}); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}
	if err := sm.AddTransition(Transition{From: "b", Event: "stay", To: "b"}); err != nil {
		t.Fatalf("AddTransition failed: %v", err)
	}

	g := &models.Game{Phase: "a"}
	to, err := sm.Fire(g, "go", Input{})
	if err != nil {
		t.Fatalf("Fire should not return an error, but got: %v", err)
	}
	if to != "b" || g.Phase != "b" {
		t.Errorf("Expected phase b, got %s", g.Phase)
	}
	if !stateA.OnExitCalled {
		t.Error("Expected OnExit to be called on the old state")
	}
	if !stateB.OnEnterCalled {
		t.Error("Expected OnEnter to be called on the new state")
	}

	stateB.OnEnterCalled = false
	if _, err := sm.Fire(g, "stay", Input{}); err != nil {
		t.Fatalf("self transition failed: %v", err)
	}
	if stateB.OnEnterCalled || stateB.OnExitCalled {
		t.Error("hooks should not run on a self transition")
	}
}

func TestMachine_BlockedTransition(t *testing.T) {
	stateB := &MockState{ID: "b"}
	sm := NewMachine()
	sm.AddState(stateB)
	blocked := errors.New("blocked")
	_ = sm.AddTransition(Transition{
		From:   "a",
		Event:  "go",
		To:     "b",
		Guards: []Guard{func(*models.Game, Input) error { return blocked }},
	})

	g := &models.Game{Phase: "a"}
	if _, err := sm.Fire(g, "go", Input{}); !errors.Is(err, blocked) {
		t.Errorf("Expected guard error, got: %v", err)
	}
	if g.Phase != "a" {
		t.Errorf("Expected phase to remain a after a blocked transition, got %s", g.Phase)
	}
	if stateB.OnEnterCalled {
		t.Error("OnEnter should not be called if the transition is blocked")
	}

	if _, err := sm.Fire(g, "unknown", Input{}); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected ErrTransitionNotAllowed, got: %v", err)
	}
}

func TestMachine_DuplicateTransition(t *testing.T) {
	sm := NewMachine()
	if err := sm.AddTransition(Transition{From: "a", Event: "go", To: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := sm.AddTransition(Transition{From: "a", Event: "go", To: "c"}); err == nil {
		t.Error("Expected duplicate transition to be rejected")
	}
}

func TestGameMachine_StartRequiresHostAndPlayers(t *testing.T) {
	sm := newTestMachine()
	now := time.Unix(1000, 0)

	g := newLobby(2)
	if _, err := sm.Fire(g, EventStart, Input{Actor: "P0", Now: now}); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("Expected ErrNotEnoughPlayers, got %v", err)
	}

	g = newLobby(3)
	if _, err := sm.Fire(g, EventStart, Input{Actor: "P1", Now: now}); !errors.Is(err, ErrNotHost) {
		t.Errorf("Expected ErrNotHost, got %v", err)
	}

	if _, err := sm.Fire(g, EventStart, Input{Actor: "P0", Now: now}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if g.Phase != models.PhasePlaying || g.CurrentRound != 1 || !g.RoundStartTime.Equal(now) {
		t.Errorf("unexpected game after start: phase=%s round=%d start=%v", g.Phase, g.CurrentRound, g.RoundStartTime)
	}
	if g.Jack() == nil {
		t.Error("start should assign a jack")
	}
}

func TestGameMachine_MinPlayersFloor(t *testing.T) {
	sm := NewGameMachine(Rules{MinPlayers: 1, Rand: rand.New(rand.NewSource(1))})
	now := time.Unix(1000, 0)

	g := newLobby(2)
	if _, err := sm.Fire(g, EventStart, Input{Actor: "P0", Now: now}); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("Expected ErrNotEnoughPlayers below the floor, got %v", err)
	}
	g = newLobby(3)
	if _, err := sm.Fire(g, EventStart, Input{Actor: "P0", Now: now}); err != nil {
		t.Errorf("start with 3 players failed: %v", err)
	}
}

func TestGameMachine_JoinOnlyInLobby(t *testing.T) {
	sm := newTestMachine()
	g := newLobby(3)
	if _, err := sm.Check(g, EventJoin, Input{}); err != nil {
		t.Fatalf("join in lobby rejected: %v", err)
	}
	g.Phase = models.PhasePlaying
	if _, err := sm.Check(g, EventJoin, Input{}); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected join after start to be rejected, got %v", err)
	}
}

func TestGameMachine_VotingDeadlineLifecycle(t *testing.T) {
	sm := newTestMachine()
	now := time.Unix(1000, 0)
	g := newLobby(3)
	if _, err := sm.Fire(g, EventStart, Input{Actor: "P0", Now: now}); err != nil {
		t.Fatal(err)
	}

	if _, err := sm.Fire(g, EventStartVoting, Input{Actor: "P0", Now: now}); err != nil {
		t.Fatalf("start voting failed: %v", err)
	}
	if !g.VotingEndTime.Equal(now.Add(30 * time.Second)) {
		t.Errorf("Expected voting deadline 30s out, got %v", g.VotingEndTime)
	}
	if _, err := sm.Fire(g, EventStartVoting, Input{Actor: "P0", Now: now}); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("duplicate start voting should be rejected, got %v", err)
	}

	for _, p := range g.Players {
		p.LastVote = p.Suit
	}
	to, err := sm.Fire(g, EventProcessResults, Input{Actor: "P0", Now: now})
	if err != nil {
		t.Fatalf("process results failed: %v", err)
	}
	if to != models.PhaseResults {
		t.Fatalf("Expected results with everybody correct, got %s", to)
	}
	if !g.VotingEndTime.IsZero() {
		t.Error("voting deadline must be cleared after voting")
	}
	if len(g.RoundResults) != 1 || len(g.RoundResults[0].Eliminations) != 0 {
		t.Errorf("Expected one empty round result, got %+v", g.RoundResults)
	}

	later := now.Add(time.Minute)
	if _, err := sm.Fire(g, EventContinue, Input{Actor: "P0", Now: later}); err != nil {
		t.Fatalf("continue failed: %v", err)
	}
	if g.CurrentRound != 2 || !g.RoundStartTime.Equal(later) || !g.VotingEndTime.IsZero() {
		t.Errorf("unexpected state after continue: round=%d start=%v voting=%v", g.CurrentRound, g.RoundStartTime, g.VotingEndTime)
	}
}

func TestGameMachine_EndAndReset(t *testing.T) {
	sm := newTestMachine()
	g := newLobby(3)
	if _, err := sm.Fire(g, EventEnd, Input{Actor: "P0"}); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("end from lobby should be rejected, got %v", err)
	}
	if _, err := sm.Fire(g, EventStart, Input{Actor: "P0", Now: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Fire(g, EventEnd, Input{Actor: "P0", Winner: models.WinnerJack}); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if g.Phase != models.PhaseEnded || g.Winner != models.WinnerJack {
		t.Errorf("Expected ended with jack winner, got %s/%s", g.Phase, g.Winner)
	}
	if _, err := sm.Fire(g, EventStartVoting, Input{Actor: "P0"}); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Error("ended must be inert")
	}
	if _, err := sm.Check(g, EventReset, Input{Actor: "P0"}); err != nil {
		t.Errorf("reset from ended should be allowed, got %v", err)
	}
}
