package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/monitor"
	"github.com/wfunc/jackofhearts/network"
	"github.com/wfunc/jackofhearts/room"
	"github.com/wfunc/jackofhearts/services"
	"github.com/wfunc/jackofhearts/session"
)

const requestTimeout = 10 * time.Second

type Options struct {
	// Heartbeat is the expected client heartbeat interval. 0 disables the
	// read deadline.
	Heartbeat time.Duration
	// RateLimit caps REST requests per IP per minute. 0 disables it.
	RateLimit int
	Monitor   *monitor.Monitor
}

type GameServer struct {
	addr           string
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	games          *services.GameService
	monitor        *monitor.Monitor
	metrics        *monitor.Metrics
	opts           Options
	httpServer     *http.Server
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
}

func NewGameServer(addr string, games *services.GameService, opts Options) *GameServer {
	s := &GameServer{
		addr:           addr,
		roomManager:    room.NewRoomManager(games),
		sessionManager: session.NewManager(),
		games:          games,
		monitor:        opts.Monitor,
		opts:           opts,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	if opts.Monitor != nil {
		s.metrics = opts.Monitor.Metrics
	}
	return s
}

// Router builds the HTTP routes.
func (s *GameServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	if s.monitor != nil {
		r.Handle("/metrics", s.monitor.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet},
		}))
		if s.opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
		}
		r.Get("/games/{code}", s.handleGetGame)
	})
	return r
}

func (s *GameServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes every live session.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}
	s.roomManager.Close()
	return err
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessionManager.Count(),
		"rooms":    s.roomManager.Count(),
	})
}

// handleGetGame serves GET /api/games/{code}?player=ID, the view of one
// player.
func (s *GameServer) handleGetGame(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		writeError(w, http.StatusBadRequest, services.ErrPlayerNotFound)
		return
	}
	view, err := s.games.View(r.Context(), code, playerID)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrGameNotFound), errors.Is(err, services.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrMalformedState):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, network.ErrorBody{Code: services.ErrorCode(err), Message: services.UserMessage(err)})
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(network.NewWSConnection(conn))
}

func (s *GameServer) handleConnection(wsConn network.Connection) {
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.metrics.SessionOpened()
	if s.opts.Heartbeat > 0 {
		wsConn.SetHeartbeat(s.opts.Heartbeat)
	}

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.roomManager.Leave(sess)
		s.sessionManager.Remove(sess.GetID())
		s.metrics.SessionClosed()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	sess.Touch()
	s.metrics.MessageReceived()

	if packet.MsgID == network.MsgTypeHeartbeat {
		if err := sess.Send(network.MsgTypeHeartbeat, nil); err != nil {
			logger.Log.Debugf("session=%s heartbeat reply failed: %v", sess.ID, err)
		}
		return
	}

	var req network.Request
	if len(packet.Data) > 0 {
		if err := json.Unmarshal(packet.Data, &req); err != nil {
			logger.Log.Warnf("session=%s bad request %d: %v", sess.ID, packet.MsgID, err)
			return
		}
	}
	if req.ClientID != "" {
		sess.ClientID = req.ClientID
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	reply := network.Reply{Seq: req.Seq}
	err := s.dispatch(ctx, sess, packet.MsgID, req, &reply)
	if errors.Is(err, errUnknownMessage) {
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
	if err != nil {
		reply.Error = &network.ErrorBody{Code: services.ErrorCode(err), Message: services.UserMessage(err)}
	}
	if err := sess.SendJSON(network.MsgTypeReply, reply); err != nil {
		logger.Log.Debugf("session=%s reply failed: %v", sess.ID, err)
	}
}

var errUnknownMessage = errors.New("unknown message type")

// dispatch runs one request. Only bind and unbind touch the session; every
// game action names its game and player explicitly.
func (s *GameServer) dispatch(ctx context.Context, sess *session.Session, msgID uint16, req network.Request, reply *network.Reply) error {
	switch msgID {
	case network.MsgTypeBind:
		return s.handleBind(ctx, sess, req, reply)
	case network.MsgTypeUnbind:
		s.roomManager.Leave(sess)
		return nil
	case network.MsgTypeCreate:
		joined, err := s.games.CreateGame(ctx, req.Name)
		reply.Code, reply.PlayerID = joined.Code, joined.PlayerID
		return err
	case network.MsgTypeJoin:
		joined, err := s.games.JoinGame(ctx, req.Code, req.Name)
		reply.Code, reply.PlayerID = joined.Code, joined.PlayerID
		return err
	case network.MsgTypeLeave:
		return s.games.LeaveGame(ctx, req.Code, req.PlayerID)
	case network.MsgTypeRemove:
		return s.games.RemovePlayer(ctx, req.Code, req.PlayerID, req.TargetID)
	case network.MsgTypeStart:
		return s.games.StartGame(ctx, req.Code, req.PlayerID)
	case network.MsgTypeStartVoting:
		return s.games.StartVoting(ctx, req.Code, req.PlayerID)
	case network.MsgTypeVote:
		suit, err := models.ParseSuit(req.Suit)
		if err != nil {
			return services.ErrInvalidSuit
		}
		return s.games.SubmitVote(ctx, req.Code, req.PlayerID, suit)
	case network.MsgTypeProcessResults:
		return s.games.ProcessRoundResults(ctx, req.Code, req.PlayerID)
	case network.MsgTypeContinue:
		return s.games.ContinueToNextRound(ctx, req.Code, req.PlayerID)
	case network.MsgTypeEnd:
		return s.games.EndGame(ctx, req.Code, req.PlayerID, models.Winner(req.Winner))
	case network.MsgTypeReset:
		return s.games.ResetGame(ctx, req.Code, req.PlayerID)
	case network.MsgTypeGetView:
		return s.writeView(ctx, req, reply)
	default:
		return errUnknownMessage
	}
}

func (s *GameServer) writeView(ctx context.Context, req network.Request, reply *network.Reply) error {
	view, err := s.games.View(ctx, req.Code, req.PlayerID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	reply.Code, reply.PlayerID, reply.View = view.Code, req.PlayerID, data
	return nil
}

// handleBind attaches the session to a player of an existing game. The
// session then receives a game_state push on every change.
func (s *GameServer) handleBind(ctx context.Context, sess *session.Session, req network.Request, reply *network.Reply) error {
	if err := s.writeView(ctx, req, reply); err != nil {
		return err
	}
	b := session.Binding{GameCode: reply.Code, PlayerID: req.PlayerID}
	s.roomManager.Join(sess, b)
	if err := s.games.Track(ctx, b.GameCode); err != nil {
		logger.Log.Warnf("game=%s track failed: %v", b.GameCode, err)
	}
	logger.Log.Infof("session=%s bound to game=%s player=%s", sess.ID, b.GameCode, b.PlayerID)
	return nil
}
