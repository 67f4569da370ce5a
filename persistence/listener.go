package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wfunc/jackofhearts/logger"
)

const (
	DefaultPingInterval     = 90 * time.Second
	DefaultFallbackInterval = 30 * time.Second
)

// ChangeSink receives the code of every game changed by any process.
type ChangeSink func(code string)

// ActiveCodes lists the games that currently have local subscribers.
type ActiveCodes func() []string

// Listener turns Postgres NOTIFY payloads on the change channel into sink
// calls, so games written by other server processes reach local subscribers.
// Notifications sent while the connection was down are lost, so after a
// reconnect and on every fallback tick all active codes are re-signalled.
type Listener struct {
	listener         *pq.Listener
	notify           <-chan *pq.Notification
	ping             func() error
	channel          string
	sink             ChangeSink
	active           ActiveCodes
	pingInterval     time.Duration
	fallbackInterval time.Duration
}

func NewListener(dsn, channel string, sink ChangeSink, active ActiveCodes) (*Listener, error) {
	l := pq.NewListener(
		dsn,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Log.Errorw("change listener event", "event", ev, "error", err)
			}
		},
	)
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel %s: %w", channel, err)
	}

	logger.Log.Infow("listening for game changes", "channel", channel)

	return &Listener{
		listener:         l,
		notify:           l.Notify,
		ping:             l.Ping,
		channel:          channel,
		sink:             sink,
		active:           active,
		pingInterval:     DefaultPingInterval,
		fallbackInterval: DefaultFallbackInterval,
	}, nil
}

// Start blocks until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.pingInterval)
	fallbackTicker := time.NewTicker(l.fallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Infow("change listener shutting down", "channel", l.channel)
			return l.Stop()
		case note := <-l.notify:
			l.handle(note)
		case <-fallbackTicker.C:
			l.resync()
		case <-pingTicker.C:
			if err := l.ping(); err != nil {
				logger.Log.Errorw("failed to ping change listener", "error", err)
			}
		}
	}
}

func (l *Listener) handle(note *pq.Notification) {
	if note == nil {
		// 连接已重建, 期间的通知可能丢失
		logger.Log.Infow("change listener reconnected, resyncing", "channel", l.channel)
		l.resync()
		return
	}
	if note.Extra == "" {
		return
	}
	l.sink(note.Extra)
}

func (l *Listener) resync() {
	if l.active == nil {
		return
	}
	for _, code := range l.active() {
		l.sink(code)
	}
}

func (l *Listener) Stop() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}
