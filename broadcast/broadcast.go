// broadcast/broadcast.go
package broadcast

import (
	"sync"
)

// Notifier is told the code of every game whose stored state changed.
type Notifier interface {
	Notify(code string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(code string)

func (f NotifierFunc) Notify(code string) { f(code) }

// Fanout 广播到多个通知器
type Fanout []Notifier

func (f Fanout) Notify(code string) {
	for _, n := range f {
		if n != nil {
			n.Notify(code)
		}
	}
}

// Subscription receives a signal whenever its game changes. Signals
// coalesce: a slow reader sees one pending signal, never a backlog, and
// re-reads the game to catch up.
type Subscription struct {
	code   string
	ch     chan struct{}
	hub    *Hub
	closed sync.Once
}

func (s *Subscription) Code() string { return s.code }

// C is closed when the subscription is closed.
func (s *Subscription) C() <-chan struct{} { return s.ch }

func (s *Subscription) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Close is safe to call more than once.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.hub.remove(s)
	})
}

// Hub 基于游戏代码的订阅中心
type Hub struct {
	subs  map[string]map[*Subscription]struct{}
	mutex sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

func (h *Hub) Subscribe(code string) *Subscription {
	s := &Subscription{
		code: code,
		ch:   make(chan struct{}, 1),
		hub:  h,
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	set, ok := h.subs[code]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[code] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if set, ok := h.subs[s.code]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			close(s.ch)
		}
		if len(set) == 0 {
			delete(h.subs, s.code)
		}
	}
}

// Notify signals every subscriber of code. It never blocks.
func (h *Hub) Notify(code string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for s := range h.subs[code] {
		s.signal()
	}
}

// Subscribers returns the number of live subscriptions for code.
func (h *Hub) Subscribers(code string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subs[code])
}

// Codes returns every game code that currently has subscribers.
func (h *Hub) Codes() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	codes := make([]string, 0, len(h.subs))
	for code := range h.subs {
		codes = append(codes, code)
	}
	return codes
}

// Watcher is the consumer side of a subscription.
type Watcher interface {
	C() <-chan struct{}
	Close()
}
