package broadcast

import (
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/wfunc/jackofhearts/logger"
)

// NATSRelay forwards change notifications between server processes that
// share a store. Outgoing codes are published on <subject>.<code>; incoming
// ones from other processes are handed to local.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	origin  string
	local   Notifier
	sub     *nats.Subscription
}

// ConnectNATS dials url, adding token auth when token is set.
func ConnectNATS(url, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("jackofhearts"),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return nats.Connect(url, opts...)
}

func NewNATSRelay(conn *nats.Conn, subject string, local Notifier) *NATSRelay {
	return &NATSRelay{
		conn:    conn,
		subject: subject,
		origin:  uuid.NewString(),
		local:   local,
	}
}

// Notify publishes code to the other processes.
func (r *NATSRelay) Notify(code string) {
	if err := r.conn.Publish(r.subject+"."+code, []byte(r.origin)); err != nil {
		logger.Log.Errorw("nats publish failed", "subject", r.subject, "code", code, "error", err)
	}
}

// Start subscribes to changes published by other processes.
func (r *NATSRelay) Start() error {
	sub, err := r.conn.Subscribe(r.subject+".*", r.handleMessage)
	if err != nil {
		return err
	}
	r.sub = sub
	logger.Log.Infow("nats relay subscribed", "subject", r.subject+".*")
	return nil
}

func (r *NATSRelay) handleMessage(msg *nats.Msg) {
	if string(msg.Data) == r.origin {
		return
	}
	code := strings.TrimPrefix(msg.Subject, r.subject+".")
	if code == "" || code == msg.Subject {
		return
	}
	r.local.Notify(code)
}

func (r *NATSRelay) Close() error {
	if r.sub != nil {
		return r.sub.Unsubscribe()
	}
	return nil
}
