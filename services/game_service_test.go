package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfunc/jackofhearts/broadcast"
	"github.com/wfunc/jackofhearts/game"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/monitor"
	"github.com/wfunc/jackofhearts/persistence"
	"github.com/wfunc/jackofhearts/timer"
)

// MockStore fails every write after failWrites is set.
type MockStore struct {
	*persistence.MemoryStore
	failWrites bool
}

func (m *MockStore) UpdateGame(ctx context.Context, code string, fn func(g *models.Game) error) (*models.Game, error) {
	if m.failWrites {
		return nil, errors.New("dial tcp: connection refused")
	}
	return m.MemoryStore.UpdateGame(ctx, code, fn)
}

type fixture struct {
	svc   *GameService
	store *persistence.MemoryStore
	hub   *broadcast.Hub
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, autoResolve bool) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := persistence.NewMemoryStore(clock)
	hub := broadcast.NewHub()
	svc := NewGameService(store, hub, Config{
		MinPlayers:  3,
		MaxPlayers:  16,
		AutoResolve: autoResolve,
		Clock:       clock,
		Rand:        game.NewRand(42),
		Metrics:     monitor.NewMetrics("test", prometheus.NewRegistry()),
	})
	return &fixture{svc: svc, store: store, hub: hub, clock: clock}
}

// startedGame creates Ana's game, adds Beto and Carla and starts it.
func (f *fixture) startedGame(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()
	host, err := f.svc.CreateGame(ctx, "Ana")
	if err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}
	ids := []string{host.PlayerID}
	for _, name := range []string{"Beto", "Carla"} {
		j, err := f.svc.JoinGame(ctx, host.Code, name)
		if err != nil {
			t.Fatalf("JoinGame(%s) failed: %v", name, err)
		}
		ids = append(ids, j.PlayerID)
	}
	if err := f.svc.StartGame(ctx, host.Code, host.PlayerID); err != nil {
		t.Fatalf("StartGame failed: %v", err)
	}
	return host.Code, ids
}

func (f *fixture) load(t *testing.T, code string) *models.Game {
	t.Helper()
	g, err := f.svc.Game(context.Background(), code)
	if err != nil {
		t.Fatalf("Game(%s) failed: %v", code, err)
	}
	return g
}

func wrongSuit(s models.Suit) models.Suit {
	for _, other := range models.Suits {
		if other != s {
			return other
		}
	}
	return models.SuitNone
}

func TestScenario_CreateJoinStart(t *testing.T) {
	f := newFixture(t, false)
	code, ids := f.startedGame(t)

	g := f.load(t, code)
	if g.Phase != models.PhasePlaying || g.CurrentRound != 1 {
		t.Fatalf("Expected playing round 1, got %s round %d", g.Phase, g.CurrentRound)
	}
	if len(g.Players) != 3 {
		t.Fatalf("Expected 3 players, got %d", len(g.Players))
	}
	jacks := 0
	for _, p := range g.Players {
		if !p.Suit.Valid() {
			t.Errorf("player %s has no valid suit: %q", p.Name, p.Suit)
		}
		if p.IsJack {
			jacks++
		}
	}
	if jacks != 1 {
		t.Errorf("Expected exactly one jack, got %d", jacks)
	}
	if g.HostID != ids[0] || !g.Players[0].IsHost {
		t.Error("Ana should be the host")
	}
	if !g.RoundStartTime.Equal(f.clock.Now()) {
		t.Errorf("Expected round start %v, got %v", f.clock.Now(), g.RoundStartTime)
	}
}

func TestScenario_JackEliminatedPlayersWin(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)

	if err := f.svc.StartVoting(ctx, code, ids[0]); err != nil {
		t.Fatalf("StartVoting failed: %v", err)
	}
	g := f.load(t, code)
	for _, p := range g.Players {
		vote := p.Suit
		if p.IsJack {
			vote = wrongSuit(p.Suit)
		}
		if err := f.svc.SubmitVote(ctx, code, p.ID, vote); err != nil {
			t.Fatalf("SubmitVote(%s) failed: %v", p.Name, err)
		}
	}
	if err := f.svc.ProcessRoundResults(ctx, code, ids[0]); err != nil {
		t.Fatalf("ProcessRoundResults failed: %v", err)
	}

	g = f.load(t, code)
	if g.Phase != models.PhaseEnded || g.Winner != models.WinnerPlayers {
		t.Fatalf("Expected ended/players, got %s/%s", g.Phase, g.Winner)
	}
	if len(g.RoundResults) != 1 || len(g.RoundResults[0].Eliminations) != 1 {
		t.Fatalf("Expected exactly one elimination, got %+v", g.RoundResults)
	}
	if g.RoundResults[0].Eliminations[0].PlayerID != g.Jack().ID {
		t.Error("only the jack should have been eliminated")
	}
	if !g.VotingEndTime.IsZero() {
		t.Error("voting end time must be cleared outside voting")
	}
}

func TestScenario_JackSurvivesAlone(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)

	if err := f.svc.StartVoting(ctx, code, ids[0]); err != nil {
		t.Fatalf("StartVoting failed: %v", err)
	}
	g := f.load(t, code)
	for _, p := range g.Players {
		vote := wrongSuit(p.Suit)
		if p.IsJack {
			vote = p.Suit
		}
		if err := f.svc.SubmitVote(ctx, code, p.ID, vote); err != nil {
			t.Fatalf("SubmitVote(%s) failed: %v", p.Name, err)
		}
	}
	if err := f.svc.ProcessRoundResults(ctx, code, ids[0]); err != nil {
		t.Fatalf("ProcessRoundResults failed: %v", err)
	}

	g = f.load(t, code)
	if g.Phase != models.PhaseEnded || g.Winner != models.WinnerJack {
		t.Fatalf("Expected ended/jack, got %s/%s", g.Phase, g.Winner)
	}
	if got := len(g.RoundResults[0].Eliminations); got != 2 {
		t.Errorf("Expected 2 eliminations, got %d", got)
	}
}

func TestScenario_ContinueToNextRound(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)

	if err := f.svc.StartVoting(ctx, code, ids[0]); err != nil {
		t.Fatalf("StartVoting failed: %v", err)
	}
	if f.load(t, code).VotingEndTime.IsZero() {
		t.Fatal("voting end time should be set while voting")
	}
	for _, p := range f.load(t, code).Players {
		if err := f.svc.SubmitVote(ctx, code, p.ID, p.Suit); err != nil {
			t.Fatalf("SubmitVote failed: %v", err)
		}
	}
	if err := f.svc.ProcessRoundResults(ctx, code, ids[0]); err != nil {
		t.Fatalf("ProcessRoundResults failed: %v", err)
	}
	g := f.load(t, code)
	if g.Phase != models.PhaseResults {
		t.Fatalf("Expected results, got %s", g.Phase)
	}
	if len(g.RoundResults) != 1 || len(g.RoundResults[0].Eliminations) != 0 || len(g.RoundResults[0].Survivors) != 3 {
		t.Fatalf("Expected a round with no eliminations, got %+v", g.RoundResults)
	}

	f.clock.Advance(time.Minute)
	if err := f.svc.ContinueToNextRound(ctx, code, ids[0]); err != nil {
		t.Fatalf("ContinueToNextRound failed: %v", err)
	}
	g = f.load(t, code)
	if g.CurrentRound != 2 {
		t.Errorf("Expected round 2, got %d", g.CurrentRound)
	}
	if g.Phase != models.PhasePlaying {
		t.Errorf("Expected playing, got %s", g.Phase)
	}
	if !g.VotingEndTime.IsZero() {
		t.Error("voting end time should be cleared")
	}
	if !g.RoundStartTime.Equal(f.clock.Now()) {
		t.Error("round start should be restamped")
	}
	for _, p := range g.Players {
		if p.HasVoted() {
			t.Errorf("vote of %s should be cleared", p.Name)
		}
	}
}

func TestJoinAfterStartRejected(t *testing.T) {
	f := newFixture(t, false)
	code, _ := f.startedGame(t)

	_, err := f.svc.JoinGame(context.Background(), code, "Late")
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Expected ErrAlreadyStarted, got %v", err)
	}
	if n := len(f.load(t, code).Players); n != 3 {
		t.Errorf("roster changed after rejected join: %d players", n)
	}
	if UserMessage(err) != "This game has already started." {
		t.Errorf("unexpected user message %q", UserMessage(err))
	}
}

func TestJoinGame_Errors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.svc.JoinGame(ctx, "NOPE99", "Beto"); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("Expected ErrGameNotFound, got %v", err)
	}
	host, _ := f.svc.CreateGame(ctx, "Ana")
	if _, err := f.svc.JoinGame(ctx, host.Code, "   "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Expected ErrInvalidName, got %v", err)
	}
	// codes are case and space insensitive
	j, err := f.svc.JoinGame(ctx, "  "+toLower(host.Code)+" ", " Beto ")
	if err != nil {
		t.Fatalf("JoinGame with lower-case code failed: %v", err)
	}
	if j.Code != host.Code {
		t.Errorf("Expected code %s, got %s", host.Code, j.Code)
	}
	if name := f.load(t, host.Code).Player(j.PlayerID).Name; name != "Beto" {
		t.Errorf("Expected trimmed name, got %q", name)
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestJoinGame_Full(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := NewGameService(persistence.NewMemoryStore(clock), nil, Config{MaxPlayers: 3, Clock: clock})
	ctx := context.Background()
	host, _ := svc.CreateGame(ctx, "Ana")
	svc.JoinGame(ctx, host.Code, "Beto")
	svc.JoinGame(ctx, host.Code, "Carla")
	if _, err := svc.JoinGame(ctx, host.Code, "Dani"); !errors.Is(err, ErrGameFull) {
		t.Fatalf("Expected ErrGameFull, got %v", err)
	}
}

func TestStartGame_Guards(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	host, _ := f.svc.CreateGame(ctx, "Ana")
	beto, _ := f.svc.JoinGame(ctx, host.Code, "Beto")

	if err := f.svc.StartGame(ctx, host.Code, host.PlayerID); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("Expected ErrNotEnoughPlayers, got %v", err)
	}
	f.svc.JoinGame(ctx, host.Code, "Carla")
	if err := f.svc.StartGame(ctx, host.Code, beto.PlayerID); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Expected ErrNotHost, got %v", err)
	}
	if g := f.load(t, host.Code); g.Phase != models.PhaseLobby || g.Jack() != nil {
		t.Fatal("failed start must not change the game")
	}
	if err := f.svc.StartGame(ctx, host.Code, host.PlayerID); err != nil {
		t.Fatalf("StartGame failed: %v", err)
	}
	// a duplicate start is an invalid transition and changes nothing
	before := f.load(t, host.Code)
	if err := f.svc.StartGame(ctx, host.Code, host.PlayerID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	after := f.load(t, host.Code)
	for i := range before.Players {
		if before.Players[i].Suit != after.Players[i].Suit || before.Players[i].IsJack != after.Players[i].IsJack {
			t.Fatal("suits must not be reassigned by a duplicate start")
		}
	}
}

func TestSubmitVote_Rules(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)

	if err := f.svc.SubmitVote(ctx, code, ids[1], models.SuitHearts); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition before voting, got %v", err)
	}
	f.svc.StartVoting(ctx, code, ids[0])

	if err := f.svc.SubmitVote(ctx, code, ids[1], models.Suit("stars")); !errors.Is(err, ErrInvalidSuit) {
		t.Fatalf("Expected ErrInvalidSuit, got %v", err)
	}
	if err := f.svc.SubmitVote(ctx, code, "ghost", models.SuitHearts); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("Expected ErrPlayerNotFound, got %v", err)
	}
	if err := f.svc.SubmitVote(ctx, code, ids[1], models.SuitHearts); err != nil {
		t.Fatalf("SubmitVote failed: %v", err)
	}
	if err := f.svc.SubmitVote(ctx, code, ids[1], models.SuitClubs); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("Expected ErrAlreadyVoted, got %v", err)
	}
	if v := f.load(t, code).Player(ids[1]).LastVote; v != models.SuitHearts {
		t.Errorf("first vote must stand, got %s", v)
	}
}

func TestSubmitVote_EliminatedCannotVote(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)
	f.svc.StartVoting(ctx, code, ids[0])

	// everyone but the jack and one other player votes right; that one abstains
	g := f.load(t, code)
	var abstainer string
	for _, p := range g.Players {
		if !p.IsJack && abstainer == "" {
			abstainer = p.ID
			continue
		}
		f.svc.SubmitVote(ctx, code, p.ID, p.Suit)
	}
	if err := f.svc.ProcessRoundResults(ctx, code, ids[0]); err != nil {
		t.Fatalf("ProcessRoundResults failed: %v", err)
	}
	g = f.load(t, code)
	if g.Phase != models.PhaseResults {
		t.Fatalf("Expected results, got %s", g.Phase)
	}
	elim := g.RoundResults[0].Eliminations
	if len(elim) != 1 || elim[0].PlayerID != abstainer || !elim[0].Abstained || elim[0].GuessedSuit != models.SuitNone {
		t.Fatalf("Expected abstainer eliminated with no-vote marker, got %+v", elim)
	}

	f.svc.ContinueToNextRound(ctx, code, ids[0])
	f.svc.StartVoting(ctx, code, ids[0])
	if err := f.svc.SubmitVote(ctx, code, abstainer, models.SuitHearts); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Expected ErrNotActive, got %v", err)
	}
}

func TestSubmitVote_AutoResolve(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	code, ids := f.startedGame(t)
	f.svc.StartVoting(ctx, code, ids[0])

	g := f.load(t, code)
	for i, p := range g.Players {
		if err := f.svc.SubmitVote(ctx, code, p.ID, p.Suit); err != nil {
			t.Fatalf("SubmitVote failed: %v", err)
		}
		if i < len(g.Players)-1 && f.load(t, code).Phase != models.PhaseVoting {
			t.Fatal("round resolved before everyone voted")
		}
	}
	if phase := f.load(t, code).Phase; phase != models.PhaseResults {
		t.Fatalf("Expected auto resolution to results, got %s", phase)
	}
	// a late manual trigger is a harmless invalid transition
	if err := f.svc.ProcessRoundResults(ctx, code, ids[0]); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestRemoveAndLeave(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	host, _ := f.svc.CreateGame(ctx, "Ana")
	beto, _ := f.svc.JoinGame(ctx, host.Code, "Beto")
	carla, _ := f.svc.JoinGame(ctx, host.Code, "Carla")

	if err := f.svc.RemovePlayer(ctx, host.Code, beto.PlayerID, carla.PlayerID); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Expected ErrNotHost, got %v", err)
	}
	if err := f.svc.RemovePlayer(ctx, host.Code, host.PlayerID, host.PlayerID); !errors.Is(err, ErrCannotRemoveHost) {
		t.Fatalf("Expected ErrCannotRemoveHost, got %v", err)
	}
	if err := f.svc.RemovePlayer(ctx, host.Code, host.PlayerID, carla.PlayerID); err != nil {
		t.Fatalf("RemovePlayer failed: %v", err)
	}
	if err := f.svc.LeaveGame(ctx, host.Code, host.PlayerID); !errors.Is(err, ErrHostCannotLeave) {
		t.Fatalf("Expected ErrHostCannotLeave, got %v", err)
	}
	if err := f.svc.LeaveGame(ctx, host.Code, beto.PlayerID); err != nil {
		t.Fatalf("LeaveGame failed: %v", err)
	}
	g := f.load(t, host.Code)
	if len(g.Players) != 1 || g.Players[0].ID != host.PlayerID {
		t.Fatalf("Expected only the host left, got %+v", g.Players)
	}
	if _, err := f.svc.View(ctx, host.Code, beto.PlayerID); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("Expected ErrPlayerNotFound for departed player, got %v", err)
	}
}

func TestRemovePlayer_OnlyInLobby(t *testing.T) {
	f := newFixture(t, false)
	code, ids := f.startedGame(t)
	if err := f.svc.RemovePlayer(context.Background(), code, ids[0], ids[1]); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestEndAndReset(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)

	if err := f.svc.ResetGame(ctx, code, ids[0]); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected reset before end to fail, got %v", err)
	}
	if err := f.svc.EndGame(ctx, code, ids[0], models.Winner("nobody")); !errors.Is(err, ErrInvalidWinner) {
		t.Fatalf("Expected ErrInvalidWinner, got %v", err)
	}
	if err := f.svc.EndGame(ctx, code, ids[1], models.WinnerJack); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Expected ErrNotHost, got %v", err)
	}
	if err := f.svc.EndGame(ctx, code, ids[0], models.WinnerJack); err != nil {
		t.Fatalf("EndGame failed: %v", err)
	}
	g := f.load(t, code)
	if g.Phase != models.PhaseEnded || g.Winner != models.WinnerJack {
		t.Fatalf("Expected ended/jack, got %s/%s", g.Phase, g.Winner)
	}

	sub := f.svc.Subscribe(code)
	defer sub.Close()
	if err := f.svc.ResetGame(ctx, code, ids[1]); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Expected ErrNotHost, got %v", err)
	}
	if err := f.svc.ResetGame(ctx, code, ids[0]); err != nil {
		t.Fatalf("ResetGame failed: %v", err)
	}
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("subscribers should be told about the reset")
	}
	if _, err := f.svc.Game(ctx, code); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("Expected ErrGameNotFound after reset, got %v", err)
	}
}

func TestEndGame_DefaultWinner(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)
	if err := f.svc.EndGame(ctx, code, ids[0], models.WinnerNone); err != nil {
		t.Fatalf("EndGame failed: %v", err)
	}
	if w := f.load(t, code).Winner; w != models.WinnerPlayers {
		t.Errorf("Expected players by default, got %s", w)
	}
}

func TestView_HidesSecrets(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	code, ids := f.startedGame(t)

	hostView, err := f.svc.View(ctx, code, ids[0])
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if !hostView.IsHost() {
		t.Fatal("host view should report host")
	}
	for _, p := range hostView.Players {
		if p.IsJack {
			t.Error("jack must stay hidden until the game ends")
		}
		if p.IsSelf && p.Suit != models.SuitNone {
			t.Error("a player never sees their own suit")
		}
		if !p.IsSelf && p.Suit == models.SuitNone {
			t.Error("host should see other players' suits")
		}
	}

	other, _ := f.svc.View(ctx, code, ids[1])
	for _, p := range other.Players {
		if p.Suit != models.SuitNone {
			t.Error("non-host should see no suits")
		}
	}
}

func TestSubscribe_SignalsOnWrite(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	host, _ := f.svc.CreateGame(ctx, "Ana")

	sub := f.svc.Subscribe(toLower(host.Code))
	defer sub.Close()
	if _, err := f.svc.JoinGame(ctx, host.Code, "Beto"); err != nil {
		t.Fatalf("JoinGame failed: %v", err)
	}
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("expected change signal after join")
	}
}

func TestStoreUnavailable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &MockStore{MemoryStore: persistence.NewMemoryStore(clock)}
	svc := NewGameService(store, nil, Config{Clock: clock})
	ctx := context.Background()
	host, _ := svc.CreateGame(ctx, "Ana")

	store.failWrites = true
	_, err := svc.JoinGame(ctx, host.Code, "Beto")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Expected ErrStoreUnavailable, got %v", err)
	}
	if UserMessage(err) != "Something went wrong. Please try again." {
		t.Errorf("unexpected message %q", UserMessage(err))
	}
}

func TestDeadlineDriver(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := persistence.NewMemoryStore(clock)
	sched := timer.NewScheduler(clock, 100*time.Millisecond)
	svc := NewGameService(store, nil, Config{
		Clock:          clock,
		Rand:           game.NewRand(7),
		RoundDuration:  10 * time.Minute,
		VotingDuration: 30 * time.Second,
		Scheduler:      sched,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("scheduler did not start: %v", err)
	}

	host, _ := svc.CreateGame(ctx, "Ana")
	svc.JoinGame(ctx, host.Code, "Beto")
	svc.JoinGame(ctx, host.Code, "Carla")
	if err := svc.StartGame(ctx, host.Code, host.PlayerID); err != nil {
		t.Fatalf("StartGame failed: %v", err)
	}
	if at, ok := sched.Pending(host.Code); !ok || !at.Equal(clock.Now().Add(10*time.Minute)) {
		t.Fatalf("Expected round deadline scheduled, got %v %v", at, ok)
	}

	waitPhase := func(want models.Phase) *models.Game {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			g, err := svc.Game(ctx, host.Code)
			if err == nil && g.Phase == want {
				return g
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("game never reached %s", want)
		return nil
	}

	clock.Advance(10 * time.Minute)
	voting := waitPhase(models.PhaseVoting)

	// the voting deadline is armed right after the write lands
	deadline := time.Now().Add(2 * time.Second)
	for {
		if at, ok := sched.Pending(host.Code); ok && at.Equal(voting.VotingEndTime) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("voting deadline was never scheduled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	clock.Advance(30 * time.Second)
	g := waitPhase(models.PhaseEnded)
	// nobody voted: every player including the jack is eliminated
	if g.Winner != models.WinnerPlayers {
		t.Errorf("Expected players to win, got %s", g.Winner)
	}
	if _, ok := sched.Pending(host.Code); ok {
		t.Error("no deadline should remain after the game ended")
	}
}

func TestErrorCodeRoundTrip(t *testing.T) {
	for _, err := range []error{ErrGameNotFound, ErrAlreadyStarted, ErrInvalidTransition, ErrAlreadyVoted, ErrStoreUnavailable} {
		code := ErrorCode(err)
		if back := ErrorFromCode(code, UserMessage(err)); !errors.Is(back, err) {
			t.Errorf("%v: code %s mapped back to %v", err, code, back)
		}
	}
	if ErrorCode(errors.New("boom")) != "internal" {
		t.Error("unknown errors should map to internal")
	}
}
