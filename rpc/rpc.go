package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/services"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers the admin service for games.
func NewServer(addr string, games *services.GameService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Admin", NewAdmin(games)); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// Admin exposes operator methods over net/rpc.
type Admin struct {
	games *services.GameService
}

func NewAdmin(games *services.GameService) *Admin {
	return &Admin{games: games}
}

type GetGameArgs struct {
	Code string
}

// GetGameReply carries the full aggregate, secrets included.
type GetGameReply struct {
	Game models.Game
}

func (a *Admin) GetGame(args *GetGameArgs, reply *GetGameReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	g, err := a.games.Game(ctx, args.Code)
	if err != nil {
		return err
	}
	reply.Game = *g
	return nil
}

type EndGameArgs struct {
	Code   string
	Winner models.Winner
}

type EndGameReply struct {
	Winner models.Winner
}

// EndGame force-ends a running game with host authority.
func (a *Admin) EndGame(args *EndGameArgs, reply *EndGameReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	g, err := a.games.Game(ctx, args.Code)
	if err != nil {
		return err
	}
	if err := a.games.EndGame(ctx, args.Code, g.HostID, args.Winner); err != nil {
		return err
	}
	g, err = a.games.Game(ctx, args.Code)
	if err != nil {
		return err
	}
	reply.Winner = g.Winner
	logger.Log.Infof("game=%s ended by admin winner=%s", g.Code, g.Winner)
	return nil
}
