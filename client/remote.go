package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wfunc/jackofhearts/broadcast"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/network"
	"github.com/wfunc/jackofhearts/services"
)

// ErrConnectionClosed is returned for calls made after the connection died.
var ErrConnectionClosed = errors.New("connection closed")

// Remote is a Backend that talks to a game server over one websocket
// connection. Replies are matched to requests by sequence number.
type Remote struct {
	conn     network.Connection
	clientID string
	seq      uint32

	mu      sync.Mutex
	pending map[uint32]chan network.Reply
	watch   *remoteWatch
	closed  chan struct{}
	once    sync.Once
}

// DialRemote connects to url, for example ws://localhost:8080/ws.
func DialRemote(ctx context.Context, url, clientID string) (*Remote, error) {
	conn, err := network.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStoreUnavailable, err)
	}
	return NewRemote(conn, clientID), nil
}

func NewRemote(conn network.Connection, clientID string) *Remote {
	r := &Remote{
		conn:     conn,
		clientID: clientID,
		pending:  make(map[uint32]chan network.Reply),
		closed:   make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// Done is closed when the connection is gone.
func (r *Remote) Done() <-chan struct{} {
	return r.closed
}

func (r *Remote) readLoop() {
	defer r.shutdown()
	for {
		packet, err := r.conn.ReadPacket()
		if err != nil {
			logger.Log.Debugf("remote read stopped: %v", err)
			return
		}

		switch packet.MsgID {
		case network.MsgTypeReply:
			var reply network.Reply
			if err := json.Unmarshal(packet.Data, &reply); err != nil {
				logger.Log.Warnf("remote: bad reply: %v", err)
				continue
			}
			r.mu.Lock()
			ch := r.pending[reply.Seq]
			delete(r.pending, reply.Seq)
			r.mu.Unlock()
			if ch != nil {
				ch <- reply
			}
		case network.MsgTypeGameState, network.MsgTypeUnbound:
			r.signal()
		case network.MsgTypeHeartbeat:
		default:
			logger.Log.Debugf("remote: ignoring message %d", packet.MsgID)
		}
	}
}

func (r *Remote) signal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watch != nil {
		r.watch.signal()
	}
}

func (r *Remote) shutdown() {
	r.once.Do(func() {
		r.mu.Lock()
		close(r.closed)
		if r.watch != nil {
			r.watch.close()
			r.watch = nil
		}
		r.mu.Unlock()
	})
}

// call sends one request and waits for its reply. Transport failures are
// reported as services.ErrStoreUnavailable.
func (r *Remote) call(ctx context.Context, msgID uint16, req network.Request) (network.Reply, error) {
	req.Seq = atomic.AddUint32(&r.seq, 1)
	req.ClientID = r.clientID
	ch := make(chan network.Reply, 1)

	r.mu.Lock()
	select {
	case <-r.closed:
		r.mu.Unlock()
		return network.Reply{}, fmt.Errorf("%w: %v", services.ErrStoreUnavailable, ErrConnectionClosed)
	default:
	}
	r.pending[req.Seq] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, req.Seq)
		r.mu.Unlock()
	}()

	if err := network.SendJSON(r.conn, msgID, req); err != nil {
		return network.Reply{}, fmt.Errorf("%w: %v", services.ErrStoreUnavailable, err)
	}

	select {
	case reply := <-ch:
		if reply.Error != nil {
			return reply, services.ErrorFromCode(reply.Error.Code, reply.Error.Message)
		}
		return reply, nil
	case <-ctx.Done():
		return network.Reply{}, fmt.Errorf("%w: %v", services.ErrStoreUnavailable, ctx.Err())
	case <-r.closed:
		return network.Reply{}, fmt.Errorf("%w: %v", services.ErrStoreUnavailable, ErrConnectionClosed)
	}
}

func (r *Remote) CreateGame(ctx context.Context, hostName string) (services.Joined, error) {
	reply, err := r.call(ctx, network.MsgTypeCreate, network.Request{Name: hostName})
	if err != nil {
		return services.Joined{}, err
	}
	return services.Joined{Code: reply.Code, PlayerID: reply.PlayerID}, nil
}

func (r *Remote) JoinGame(ctx context.Context, code, name string) (services.Joined, error) {
	reply, err := r.call(ctx, network.MsgTypeJoin, network.Request{Code: code, Name: name})
	if err != nil {
		return services.Joined{}, err
	}
	return services.Joined{Code: reply.Code, PlayerID: reply.PlayerID}, nil
}

func (r *Remote) LeaveGame(ctx context.Context, code, playerID string) error {
	_, err := r.call(ctx, network.MsgTypeLeave, network.Request{Code: code, PlayerID: playerID})
	return err
}

func (r *Remote) RemovePlayer(ctx context.Context, code, actorID, targetID string) error {
	_, err := r.call(ctx, network.MsgTypeRemove, network.Request{Code: code, PlayerID: actorID, TargetID: targetID})
	return err
}

func (r *Remote) StartGame(ctx context.Context, code, actorID string) error {
	_, err := r.call(ctx, network.MsgTypeStart, network.Request{Code: code, PlayerID: actorID})
	return err
}

func (r *Remote) StartVoting(ctx context.Context, code, actorID string) error {
	_, err := r.call(ctx, network.MsgTypeStartVoting, network.Request{Code: code, PlayerID: actorID})
	return err
}

func (r *Remote) SubmitVote(ctx context.Context, code, playerID string, suit models.Suit) error {
	_, err := r.call(ctx, network.MsgTypeVote, network.Request{Code: code, PlayerID: playerID, Suit: string(suit)})
	return err
}

func (r *Remote) ProcessRoundResults(ctx context.Context, code, actorID string) error {
	_, err := r.call(ctx, network.MsgTypeProcessResults, network.Request{Code: code, PlayerID: actorID})
	return err
}

func (r *Remote) ContinueToNextRound(ctx context.Context, code, actorID string) error {
	_, err := r.call(ctx, network.MsgTypeContinue, network.Request{Code: code, PlayerID: actorID})
	return err
}

func (r *Remote) EndGame(ctx context.Context, code, actorID string, forced models.Winner) error {
	_, err := r.call(ctx, network.MsgTypeEnd, network.Request{Code: code, PlayerID: actorID, Winner: string(forced)})
	return err
}

func (r *Remote) ResetGame(ctx context.Context, code, actorID string) error {
	_, err := r.call(ctx, network.MsgTypeReset, network.Request{Code: code, PlayerID: actorID})
	return err
}

func (r *Remote) View(ctx context.Context, code, playerID string) (*models.GameView, error) {
	reply, err := r.call(ctx, network.MsgTypeGetView, network.Request{Code: code, PlayerID: playerID})
	if err != nil {
		return nil, err
	}
	var view models.GameView
	if err := json.Unmarshal(reply.View, &view); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrMalformedState, err)
	}
	return &view, nil
}

// Watch binds the connection to the game on the server. Only one watch is
// live per connection; a new one replaces the old.
func (r *Remote) Watch(code, playerID string) (broadcast.Watcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), autoTimeout)
	defer cancel()
	if _, err := r.call(ctx, network.MsgTypeBind, network.Request{Code: code, PlayerID: playerID}); err != nil {
		return nil, err
	}

	w := &remoteWatch{remote: r, ch: make(chan struct{}, 1)}
	r.mu.Lock()
	old := r.watch
	r.watch = w
	r.mu.Unlock()
	if old != nil {
		old.detach()
	}
	return w, nil
}

func (r *Remote) Close() error {
	err := r.conn.Close()
	r.shutdown()
	return err
}

type remoteWatch struct {
	remote *Remote
	ch     chan struct{}
	once   sync.Once
}

func (w *remoteWatch) C() <-chan struct{} { return w.ch }

// signal and close are called with remote.mu held.
func (w *remoteWatch) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *remoteWatch) close() {
	w.once.Do(func() { close(w.ch) })
}

func (w *remoteWatch) detach() {
	w.remote.mu.Lock()
	w.close()
	w.remote.mu.Unlock()
}

// Close stops the watch and, if it is still the live one, unbinds on the
// server.
func (w *remoteWatch) Close() {
	r := w.remote
	r.mu.Lock()
	live := r.watch == w
	if live {
		r.watch = nil
	}
	w.close()
	r.mu.Unlock()

	// 不等待应答, seq 0 的回复会被丢弃
	if live {
		if err := network.SendJSON(r.conn, network.MsgTypeUnbind, network.Request{ClientID: r.clientID}); err != nil {
			logger.Log.Debugf("remote unbind: %v", err)
		}
	}
}
