// room/room.go
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/jackofhearts/broadcast"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/models"
	"github.com/wfunc/jackofhearts/network"
	"github.com/wfunc/jackofhearts/services"
	"github.com/wfunc/jackofhearts/session"
)

// Unbound 原因
const (
	ReasonGameGone = "game_not_found"
	ReasonRemoved  = "removed"
)

const pushTimeout = 5 * time.Second

// Source is the read side a room needs. *services.GameService implements it.
type Source interface {
	Game(ctx context.Context, code string) (*models.Game, error)
	Subscribe(code string) *broadcast.Subscription
}

// Room 是一局游戏在本进程内的会话组. It subscribes once to the game's
// change feed and pushes each bound session its own view.
type Room struct {
	Code        string
	Players     map[string]*session.Session // sessionID -> session
	CreatedAt   time.Time
	source      Source
	sub         *broadcast.Subscription
	release     func(sessionID string)
	playerMutex sync.RWMutex
	closeChan   chan struct{}
	closeOnce   sync.Once
}

// NewRoom 创建一个新房间并开始推送
func NewRoom(code string, source Source) *Room {
	r := &Room{
		Code:      code,
		Players:   make(map[string]*session.Session),
		CreatedAt: time.Now(),
		source:    source,
		sub:       source.Subscribe(code),
		closeChan: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Room) GetID() string {
	return r.Code
}

// AddPlayer 添加一个会话到房间
func (r *Room) AddPlayer(s *session.Session) {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()
	r.Players[s.ID] = s
}

// RemovePlayer 从房间移除一个会话, returns how many remain.
func (r *Room) RemovePlayer(sessionID string) int {
	r.playerMutex.Lock()
	defer r.playerMutex.Unlock()
	delete(r.Players, sessionID)
	return len(r.Players)
}

func (r *Room) GetPlayer(sessionID string) (*session.Session, bool) {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()
	s, exists := r.Players[sessionID]
	return s, exists
}

// GetSessions returns a snapshot of the sessions in the room.
func (r *Room) GetSessions() []*session.Session {
	r.playerMutex.RLock()
	defer r.playerMutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.Players))
	for _, s := range r.Players {
		sessions = append(sessions, s)
	}
	return sessions
}

// Push loads the game once and sends every given session its view. With no
// sessions given it pushes to the whole room. Sessions whose game or player
// is gone are told so and unbound.
func (r *Room) Push(ctx context.Context, sessions ...*session.Session) {
	if len(sessions) == 0 {
		sessions = r.GetSessions()
	}
	if len(sessions) == 0 {
		return
	}

	g, err := r.source.Game(ctx, r.Code)
	if err != nil && !errors.Is(err, services.ErrGameNotFound) {
		logger.Log.Warnf("room=%s load failed: %v", r.Code, err)
		return
	}

	for _, s := range sessions {
		b := s.Binding()
		if b.GameCode != r.Code {
			continue
		}
		switch {
		case g == nil:
			r.unbind(s, ReasonGameGone)
		case g.Player(b.PlayerID) == nil:
			r.unbind(s, ReasonRemoved)
		default:
			if err := s.SendJSON(network.MsgTypeGameState, models.ViewFor(g, b.PlayerID)); err != nil {
				logger.Log.Debugf("room=%s session=%s push failed: %v", r.Code, s.ID, err)
			}
		}
	}
}

func (r *Room) unbind(s *session.Session, reason string) {
	if r.release != nil {
		r.release(s.ID)
	} else {
		r.RemovePlayer(s.ID)
	}
	s.Unbind()
	if err := s.SendJSON(network.MsgTypeUnbound, network.Unbound{Code: r.Code, Reason: reason}); err != nil {
		logger.Log.Debugf("room=%s session=%s unbound push failed: %v", r.Code, s.ID, err)
	}
	logger.Log.Infof("room=%s session=%s unbound: %s", r.Code, s.ID, reason)
}

// loop 是房间的主循环, driven by change notifications
func (r *Room) loop() {
	for {
		select {
		case _, ok := <-r.sub.C():
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			r.Push(ctx)
			cancel()
		case <-r.closeChan:
			return
		}
	}
}

// Close 关闭房间，停止主循环
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
		r.sub.Close()
	})
}

// --- 房间管理器 ---

// Manager 管理所有房间
type Manager struct {
	source Source
	rooms  map[string]*Room
	mutex  sync.Mutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager(source Source) *Manager {
	return &Manager{
		source: source,
		rooms:  make(map[string]*Room),
	}
}

// Join binds s to the player in b, moving it out of any previous room, and
// returns the room it now belongs to.
func (m *Manager) Join(s *session.Session, b session.Binding) *Room {
	prev := s.Bind(b)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !prev.Empty() && prev.GameCode != b.GameCode {
		m.leaveLocked(prev.GameCode, s.ID)
	}
	room, exists := m.rooms[b.GameCode]
	if !exists {
		room = NewRoom(b.GameCode, m.source)
		code := b.GameCode
		room.release = func(sessionID string) {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			m.leaveLocked(code, sessionID)
		}
		m.rooms[b.GameCode] = room
	}
	room.AddPlayer(s)
	return room
}

// Leave unbinds s and drops its room once empty.
func (m *Manager) Leave(s *session.Session) {
	prev := s.Unbind()
	if prev.Empty() {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.leaveLocked(prev.GameCode, s.ID)
}

func (m *Manager) leaveLocked(code, sessionID string) {
	room, exists := m.rooms[code]
	if !exists {
		return
	}
	if _, member := room.GetPlayer(sessionID); !member {
		return
	}
	if room.RemovePlayer(sessionID) == 0 {
		room.Close()
		delete(m.rooms, code)
	}
}

// GetRoom 从管理器中获取一个房间
func (m *Manager) GetRoom(code string) (*Room, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	room, exists := m.rooms[code]
	return room, exists
}

func (m *Manager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.rooms)
}

// Close 关闭所有房间
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for code, room := range m.rooms {
		room.Close()
		delete(m.rooms, code)
	}
}
