package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wfunc/jackofhearts/client"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/monitor"
	"github.com/wfunc/jackofhearts/network"
	"github.com/wfunc/jackofhearts/persistence"
	"github.com/wfunc/jackofhearts/services"
)

type testServer struct {
	games *services.GameService
	http  *httptest.Server
	wsURL string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	games := services.NewGameService(persistence.NewMemoryStore(nil), nil, services.Config{})
	gs := NewGameServer("", games, Options{Monitor: monitor.NewMonitor("jackofhearts_test")})
	ts := httptest.NewServer(gs.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		gs.Shutdown(ctx)
		ts.Close()
	})
	return &testServer{
		games: games,
		http:  ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (ts *testServer) controller(t *testing.T, clientID string) *client.Controller {
	t.Helper()
	remote, err := client.DialRemote(context.Background(), ts.wsURL, clientID)
	if err != nil {
		t.Fatalf("DialRemote failed: %v", err)
	}
	c := client.NewController(client.Options{Backend: remote, ClientID: clientID})
	t.Cleanup(func() {
		c.Close()
		remote.Close()
	})
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_RemoteGameFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	host := ts.controller(t, "host")
	if err := host.CreateGame(ctx, "Ana"); err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}
	code := host.Binding().GameCode

	var guests []*client.Controller
	for _, name := range []string{"Beto", "Carla"} {
		g := ts.controller(t, "guest-"+name)
		if err := g.JoinGame(ctx, code, name); err != nil {
			t.Fatalf("JoinGame(%s) failed: %v", name, err)
		}
		guests = append(guests, g)
	}

	eventually(t, "host to see all players", func() bool {
		v := host.View()
		return v != nil && len(v.Players) == 3
	})

	err := guests[0].StartGame(ctx)
	if !errors.Is(err, services.ErrNotHost) {
		t.Fatalf("Expected ErrNotHost over the wire, got %v", err)
	}
	if guests[0].LastError() != services.UserMessage(services.ErrNotHost) {
		t.Errorf("unexpected last error %q", guests[0].LastError())
	}

	if err := host.StartGame(ctx); err != nil {
		t.Fatalf("StartGame failed: %v", err)
	}
	for _, g := range guests {
		g := g
		eventually(t, "guest to see playing", func() bool {
			v := g.View()
			return v != nil && v.Phase == models.PhasePlaying
		})
		if self := g.View().Self(); self.Suit != models.SuitNone || self.IsJack {
			t.Errorf("guest must not see its own suit, got %+v", self)
		}
	}

	if err := host.StartVoting(ctx); err != nil {
		t.Fatalf("StartVoting failed: %v", err)
	}
	for _, c := range append([]*client.Controller{host}, guests...) {
		c := c
		eventually(t, "voting phase", func() bool {
			v := c.View()
			return v != nil && v.Phase == models.PhaseVoting
		})
		if err := c.SubmitVote(ctx, models.SuitHearts); err != nil {
			t.Fatalf("SubmitVote failed: %v", err)
		}
	}
	if err := host.SubmitVote(ctx, models.SuitSpades); !errors.Is(err, services.ErrAlreadyVoted) {
		t.Errorf("Expected ErrAlreadyVoted, got %v", err)
	}

	if err := host.ProcessRoundResults(ctx); err != nil {
		t.Fatalf("ProcessRoundResults failed: %v", err)
	}
	g, err := ts.games.Game(ctx, code)
	if err != nil {
		t.Fatalf("Game failed: %v", err)
	}
	if len(g.RoundResults) != 1 {
		t.Fatalf("Expected one round result, got %d", len(g.RoundResults))
	}
	eventually(t, "guest to see the round result", func() bool {
		v := guests[1].View()
		return v != nil && len(v.RoundResults) == 1
	})
}

func TestServer_UnknownMessage(t *testing.T) {
	ts := newTestServer(t)
	conn, err := network.Dial(context.Background(), ts.wsURL)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := network.SendJSON(conn, 999, network.Request{Seq: 5}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	packet, err := conn.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if packet.MsgID != network.MsgTypeReply {
		t.Fatalf("Expected reply, got %d", packet.MsgID)
	}
	var reply network.Reply
	if err := json.Unmarshal(packet.Data, &reply); err != nil {
		t.Fatalf("bad reply: %v", err)
	}
	if reply.Seq != 5 || reply.Error == nil || reply.Error.Code != "internal" {
		t.Errorf("Expected internal error for seq 5, got %+v", reply)
	}
}

func TestServer_BindUnknownGame(t *testing.T) {
	ts := newTestServer(t)
	conn, err := network.Dial(context.Background(), ts.wsURL)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	network.SendJSON(conn, network.MsgTypeBind, network.Request{Seq: 1, Code: "NOPE42", PlayerID: "P1"})
	packet, err := conn.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	var reply network.Reply
	json.Unmarshal(packet.Data, &reply)
	if reply.Error == nil || reply.Error.Code != "not_found" {
		t.Errorf("Expected not_found, got %+v", reply.Error)
	}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestServer_GetGameView(t *testing.T) {
	ts := newTestServer(t)
	joined, err := ts.games.CreateGame(context.Background(), "Ana")
	if err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}

	status, body := get(t, ts.http.URL+"/api/games/"+strings.ToLower(joined.Code)+"?player="+joined.PlayerID)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, body)
	}
	var view models.GameView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("bad view: %v", err)
	}
	if view.Code != joined.Code || view.ViewerID != joined.PlayerID {
		t.Errorf("unexpected view %+v", view)
	}

	status, body = get(t, ts.http.URL+"/api/games/NOPE42?player=x")
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
	var e network.ErrorBody
	json.Unmarshal(body, &e)
	if e.Code != "not_found" {
		t.Errorf("Expected not_found, got %+v", e)
	}

	if status, _ := get(t, ts.http.URL+"/api/games/"+joined.Code); status != http.StatusBadRequest {
		t.Errorf("Expected 400 without player, got %d", status)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	if status, _ := get(t, ts.http.URL+"/healthz"); status != http.StatusOK {
		t.Errorf("Expected healthz 200, got %d", status)
	}

	c := ts.controller(t, "c1")
	if err := c.CreateGame(context.Background(), "Ana"); err != nil {
		t.Fatalf("CreateGame failed: %v", err)
	}
	status, body := get(t, ts.http.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("Expected metrics 200, got %d", status)
	}
	if !strings.Contains(string(body), "jackofhearts_test_messages_received_total") {
		t.Errorf("metrics output lacks the message counter")
	}
}
