package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/profile"
)

// FakeConn is a link.Connection driven by a test.
type FakeConn struct {
	id     string
	addr   string
	events chan event.ProtocolEvent
	end    chan error
	once   sync.Once
}

// NewFakeConn creates a connection with the given id.
func NewFakeConn(id string) *FakeConn {
	return &FakeConn{
		id:     id,
		addr:   fmt.Sprintf("fa:ke:00:00:00:%02x", len(id)),
		events: make(chan event.ProtocolEvent, 16),
		end:    make(chan error, 1),
	}
}

func (c *FakeConn) ID() string         { return c.id }
func (c *FakeConn) RemoteAddr() string { return c.addr }

// Send queues an inbound protocol event for the session.
func (c *FakeConn) Send(ev event.ProtocolEvent) {
	c.events <- ev
}

// Close ends the session with err; nil is a normal disconnect.
func (c *FakeConn) Close(err error) {
	c.once.Do(func() {
		c.end <- err
		close(c.end)
	})
}

// Notification is one notification captured by FakeLink.
type Notification struct {
	Conn string
	Attr profile.Attribute
	Data []byte
}

// FakeLink is an in-memory link.Link.
//
// Connections handed to Accept are returned by Advertise in order.
// Notifications are captured on the Notifications channel.
type FakeLink struct {
	accept        chan *FakeConn
	Notifications chan Notification

	mu           sync.Mutex
	values       map[profile.Attribute][]byte
	advertised   int
	disconnected []string
	notifyErr    error
}

// NewFakeLink creates an empty fake link.
func NewFakeLink() *FakeLink {
	return &FakeLink{
		accept:        make(chan *FakeConn, 16),
		Notifications: make(chan Notification, 64),
		values:        make(map[profile.Attribute][]byte),
	}
}

// Accept makes the next Advertise call return conn.
func (l *FakeLink) Accept(conn *FakeConn) {
	l.accept <- conn
}

// SetNotifyError makes Notify fail with err; nil clears it.
func (l *FakeLink) SetNotifyError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifyErr = err
}

func (l *FakeLink) Advertise(ctx context.Context, adv *profile.Advertisement) (link.Connection, error) {
	l.mu.Lock()
	l.advertised++
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn := <-l.accept:
		return conn, nil
	}
}

func (l *FakeLink) Run(ctx context.Context, conn link.Connection, dispatch func(event.ProtocolEvent)) error {
	fc, ok := conn.(*FakeConn)
	if !ok {
		return &link.SessionError{Conn: conn.ID(), Err: link.ErrNotConnected}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fc.end:
			if err != nil {
				return &link.SessionError{Conn: fc.id, Err: err}
			}
			return nil
		case ev := <-fc.events:
			dispatch(ev)
		}
	}
}

func (l *FakeLink) Notify(conn link.Connection, attr profile.Attribute, data []byte) error {
	l.mu.Lock()
	err := l.notifyErr
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.Notifications <- Notification{Conn: conn.ID(), Attr: attr, Data: append([]byte(nil), data...)}
	return nil
}

func (l *FakeLink) SetValue(attr profile.Attribute, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[attr] = append([]byte(nil), data...)
	return nil
}

func (l *FakeLink) Disconnect(conn link.Connection) error {
	l.mu.Lock()
	l.disconnected = append(l.disconnected, conn.ID())
	l.mu.Unlock()

	if fc, ok := conn.(*FakeConn); ok {
		fc.Close(nil)
	}
	return nil
}

// Value returns the last value published for attr.
func (l *FakeLink) Value(attr profile.Attribute) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values[attr]
}

// Advertised returns how many times Advertise was called.
func (l *FakeLink) Advertised() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.advertised
}

// Disconnected returns the ids of connections closed through Disconnect.
func (l *FakeLink) Disconnected() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.disconnected...)
}
