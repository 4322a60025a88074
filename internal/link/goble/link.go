// Package goble implements link.Link as a GATT server on top of go-ble.
package goble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/groutine"
	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/profile"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultMaxConnections caps concurrently served physical connections.
	DefaultMaxConnections = 2

	// sessionEventBuffer is how many inbound events a session buffers while
	// its coordinator is busy.
	sessionEventBuffer = 16
)

// Peripheral is the subset of ble.Device used by Link.
type Peripheral interface {
	AddService(svc *ble.Service) error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
}

// ----------------------------
// Session
// ----------------------------

// session is one peer connection seen by the GATT server. A peer becomes a
// session on its first ATT request.
type session struct {
	id     string
	conn   ble.Conn
	events chan event.ProtocolEvent
	closed chan struct{}

	mu        sync.Mutex
	notifiers map[profile.Attribute]ble.Notifier
}

func (s *session) ID() string { return s.id }

func (s *session) RemoteAddr() string {
	if s.conn == nil || s.conn.RemoteAddr() == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

func (s *session) dispatch(ev event.ProtocolEvent) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *session) setNotifier(attr profile.Attribute, n ble.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		delete(s.notifiers, attr)
		return
	}
	s.notifiers[attr] = n
}

func (s *session) notifier(attr profile.Attribute) ble.Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifiers[attr]
}

// ----------------------------
// Link
// ----------------------------

// Link serves the presenter GATT profile through a Peripheral.
type Link struct {
	dev            Peripheral
	logger         *logrus.Logger
	maxConnections int

	mu       sync.Mutex
	values   map[profile.Attribute][]byte
	sessions map[ble.Conn]*session
	nextID   int
	// pending holds sessions not yet returned by Advertise, oldest first.
	pending []*session

	ready chan struct{}
}

// New registers the presenter services on dev and returns the Link.
// maxConnections <= 0 selects DefaultMaxConnections.
func New(dev Peripheral, maxConnections int, logger *logrus.Logger) (*Link, error) {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = logrus.New()
	}

	l := &Link{
		dev:            dev,
		logger:         logger,
		maxConnections: maxConnections,
		values:         make(map[profile.Attribute][]byte),
		sessions:       make(map[ble.Conn]*session),
		ready:          make(chan struct{}, 1),
	}

	for _, svc := range profile.Services {
		bs, err := l.buildService(svc)
		if err != nil {
			return nil, err
		}
		if err := dev.AddService(bs); err != nil {
			return nil, fmt.Errorf("failed to add service %s: %w", svc.UUID, NormalizeError(err))
		}
	}
	return l, nil
}

func (l *Link) buildService(svc profile.Service) (*ble.Service, error) {
	uuid, err := ble.Parse(svc.UUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid %q: %w", svc.UUID, err)
	}
	bs := ble.NewService(uuid)

	for _, ch := range svc.Characteristics {
		cu, err := ble.Parse(ch.UUID)
		if err != nil {
			return nil, fmt.Errorf("invalid characteristic uuid %q: %w", ch.UUID, err)
		}
		c := bs.NewCharacteristic(cu)
		attr := ch.Attr
		if ch.Props&profile.PropRead != 0 {
			c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				l.serveRead(attr, req, rsp)
			}))
		}
		if ch.Props&profile.PropWrite != 0 {
			c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				l.serveWrite(attr, req, rsp)
			}))
		}
		if ch.Props&profile.PropNotify != 0 {
			c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				l.serveNotify(attr, req, n)
			}))
		}
	}
	return bs, nil
}

// ----------------------------
// link.Link
// ----------------------------

// Advertise advertises adv until a new peer issues its first request.
func (l *Link) Advertise(ctx context.Context, adv *profile.Advertisement) (link.Connection, error) {
	if s := l.nextPending(); s != nil {
		return s, nil
	}

	uuids := make([]ble.UUID, 0, len(adv.ServiceUUIDs()))
	for _, u := range adv.ServiceUUIDs() {
		uuid, err := ble.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid service uuid %q", link.ErrAdvertisingFailed, u)
		}
		uuids = append(uuids, uuid)
	}

	advCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	groutine.Go(advCtx, "advertiser", func(ctx context.Context) {
		errc <- l.dev.AdvertiseNameAndServices(ctx, adv.Name, uuids...)
	})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.ready:
			if s := l.nextPending(); s != nil {
				return s, nil
			}
		case err := <-errc:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("%w: %w", link.ErrAdvertisingFailed, NormalizeError(err))
			}
			// The stack stopped advertising on its own; keep waiting for
			// a peer that connected meanwhile.
			errc = nil
		}
	}
}

// Run pumps inbound events of conn into dispatch until the peer disconnects.
func (l *Link) Run(ctx context.Context, conn link.Connection, dispatch func(event.ProtocolEvent)) error {
	s, ok := conn.(*session)
	if !ok {
		return &link.SessionError{Conn: conn.ID(), Err: link.ErrNotConnected}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case ev := <-s.events:
			dispatch(ev)
		}
	}
}

func (l *Link) Notify(conn link.Connection, attr profile.Attribute, data []byte) error {
	s, ok := conn.(*session)
	if !ok {
		return link.ErrNotConnected
	}
	n := s.notifier(attr)
	if n == nil {
		return link.ErrNotSubscribed
	}
	if _, err := n.Write(data); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (l *Link) SetValue(attr profile.Attribute, data []byte) error {
	if _, ok := profile.Lookup(attr); !ok {
		return fmt.Errorf("%w: %s", link.ErrUnknownAttribute, attr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[attr] = append([]byte(nil), data...)
	return nil
}

func (l *Link) Disconnect(conn link.Connection) error {
	s, ok := conn.(*session)
	if !ok {
		return link.ErrNotConnected
	}
	return NormalizeError(s.conn.Close())
}

// Sessions returns the number of live peer sessions.
func (l *Link) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// ----------------------------
// GATT handlers
// ----------------------------

// sessionFor returns the session of conn, creating it on first sight.
// Returns nil when the connection cap is reached.
func (l *Link) sessionFor(conn ble.Conn) *session {
	l.mu.Lock()
	if s, ok := l.sessions[conn]; ok {
		l.mu.Unlock()
		return s
	}
	if len(l.sessions) >= l.maxConnections {
		l.mu.Unlock()
		l.logger.WithField("peer", conn.RemoteAddr()).Warn("Connection limit reached, closing peer")
		_ = conn.Close()
		return nil
	}

	l.nextID++
	s := &session{
		id:        fmt.Sprintf("conn-%d", l.nextID),
		conn:      conn,
		events:    make(chan event.ProtocolEvent, sessionEventBuffer),
		closed:    make(chan struct{}),
		notifiers: make(map[profile.Attribute]ble.Notifier),
	}
	l.sessions[conn] = s
	l.pending = append(l.pending, s)
	l.mu.Unlock()

	groutine.Go(context.Background(), "session-"+s.id, func(context.Context) {
		<-conn.Disconnected()
		l.mu.Lock()
		delete(l.sessions, conn)
		l.dropPending(s)
		l.mu.Unlock()
		close(s.closed)
		l.logger.WithField("conn", s.id).Debug("Peer disconnected")
	})

	select {
	case l.ready <- struct{}{}:
	default:
	}
	return s
}

// nextPending pops the oldest session not yet handed out by Advertise.
func (l *Link) nextPending() *session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s
}

// dropPending removes s from the pending queue. Callers hold l.mu.
func (l *Link) dropPending(s *session) {
	for i, p := range l.pending {
		if p == s {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return
		}
	}
}

func (l *Link) serveRead(attr profile.Attribute, req ble.Request, rsp ble.ResponseWriter) {
	l.sessionFor(req.Conn())

	l.mu.Lock()
	value := l.values[attr]
	l.mu.Unlock()

	if _, err := rsp.Write(value); err != nil {
		l.logger.WithField("attr", attr).WithError(err).Debug("Read response truncated")
	}
}

func (l *Link) serveWrite(attr profile.Attribute, req ble.Request, rsp ble.ResponseWriter) {
	s := l.sessionFor(req.Conn())
	if s == nil {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}

	ev, err := decodeWrite(attr, req.Data())
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"conn": s.id,
			"attr": attr,
		}).WithError(err).Warn("Rejected write")
		rsp.SetStatus(ble.ErrInvalAttrValueLen)
		return
	}
	s.dispatch(ev)
}

func (l *Link) serveNotify(attr profile.Attribute, req ble.Request, n ble.Notifier) {
	s := l.sessionFor(req.Conn())
	if s == nil {
		return
	}

	s.setNotifier(attr, n)
	s.dispatch(event.NotifyToggled{Attr: attr, Enabled: true})

	select {
	case <-n.Context().Done():
	case <-s.closed:
	}

	s.setNotifier(attr, nil)
	s.dispatch(event.NotifyToggled{Attr: attr, Enabled: false})
}

// decodeWrite turns a characteristic write into a protocol event.
func decodeWrite(attr profile.Attribute, data []byte) (event.ProtocolEvent, error) {
	switch attr {
	case profile.AttrMeasurementInterval:
		if len(data) != 2 {
			return nil, fmt.Errorf("measurement interval expects 2 bytes, got %d", len(data))
		}
		return event.IntervalWritten{Seconds: binary.LittleEndian.Uint16(data)}, nil
	case profile.AttrFirmwareControl, profile.AttrFirmwareNextVersion,
		profile.AttrFirmwareOffset, profile.AttrFirmware:
		ev, err := event.DecodeUpdate(attr, data)
		if err != nil {
			return nil, err
		}
		return event.UpdateRequested{Update: ev}, nil
	default:
		return event.Unknown{Attr: attr, Data: append([]byte(nil), data...)}, nil
	}
}

// ----------------------------
// Errors
// ----------------------------

// NormalizeError maps go-ble peripheral error strings to link sentinels.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "peripheral manager has invalid state"):
		return fmt.Errorf("%w: %v", link.ErrAdvertisingFailed, err)
	case containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", link.ErrAdvertisingFailed, err)
	default:
		return link.NormalizeError(err)
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
