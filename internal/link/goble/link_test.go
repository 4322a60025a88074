package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/presenter/internal/event"
	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/profile"
	"github.com/srg/presenter/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const waitTimeout = time.Second

// ----------------------------
// go-ble fakes
// ----------------------------

type fakePeripheral struct {
	mu       sync.Mutex
	services []*ble.Service
	advErr   error
	adverts  int
}

func (p *fakePeripheral) AddService(svc *ble.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = append(p.services, svc)
	return nil
}

func (p *fakePeripheral) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	p.mu.Lock()
	p.adverts++
	err := p.advErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePeripheral) characteristic(uuid string) *ble.Characteristic {
	u := ble.MustParse(uuid)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, svc := range p.services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(u) {
				return c
			}
		}
	}
	return nil
}

type fakeConn struct {
	ble.Conn
	addr ble.Addr
	done chan struct{}
	once sync.Once
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: ble.NewAddr(addr), done: make(chan struct{})}
}

func (c *fakeConn) RemoteAddr() ble.Addr           { return c.addr }
func (c *fakeConn) Disconnected() <-chan struct{} { return c.done }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type fakeRequest struct {
	ble.Request
	conn ble.Conn
	data []byte
}

func (r *fakeRequest) Conn() ble.Conn { return r.conn }
func (r *fakeRequest) Data() []byte   { return r.data }

type fakeResponse struct {
	ble.ResponseWriter
	status ble.ATTError
	value  []byte
}

func (r *fakeResponse) SetStatus(status ble.ATTError) { r.status = status }
func (r *fakeResponse) Write(b []byte) (int, error) {
	r.value = append(r.value, b...)
	return len(b), nil
}

type fakeNotifier struct {
	ble.Notifier
	ctx     context.Context
	written chan []byte
}

func (n *fakeNotifier) Context() context.Context { return n.ctx }
func (n *fakeNotifier) Write(b []byte) (int, error) {
	n.written <- append([]byte(nil), b...)
	return len(b), nil
}

// ----------------------------
// Suite
// ----------------------------

type LinkTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	dev    *fakePeripheral
	link   *Link
	adv    *profile.Advertisement
}

func (suite *LinkTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.dev = &fakePeripheral{}

	l, err := New(suite.dev, 2, suite.helper.Logger)
	suite.Require().NoError(err)
	suite.link = l

	suite.adv, err = profile.NewAdvertisement("Drogue Presenter")
	suite.Require().NoError(err)
}

func (suite *LinkTestSuite) write(conn ble.Conn, uuid string, data []byte) *fakeResponse {
	c := suite.dev.characteristic(uuid)
	suite.Require().NotNil(c, "characteristic %s", uuid)
	suite.Require().NotNil(c.WriteHandler)

	rsp := &fakeResponse{}
	c.WriteHandler.ServeWrite(&fakeRequest{conn: conn, data: data}, rsp)
	return rsp
}

// accept advertises until conn issues its first request.
func (suite *LinkTestSuite) accept(conn ble.Conn, first func()) link.Connection {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	type result struct {
		conn link.Connection
		err  error
	}
	res := make(chan result, 1)
	go func() {
		c, err := suite.link.Advertise(ctx, suite.adv)
		res <- result{c, err}
	}()

	first()
	r := <-res
	suite.Require().NoError(r.err)
	return r.conn
}

func (suite *LinkTestSuite) runSession(conn link.Connection) (<-chan event.ProtocolEvent, <-chan error, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan event.ProtocolEvent, 16)
	done := make(chan error, 1)
	go func() {
		done <- suite.link.Run(ctx, conn, func(ev event.ProtocolEvent) { events <- ev })
	}()
	return events, done, cancel
}

func (suite *LinkTestSuite) nextEvent(events <-chan event.ProtocolEvent) event.ProtocolEvent {
	select {
	case ev := <-events:
		return ev
	case <-time.After(waitTimeout):
		suite.FailNow("no protocol event")
		return nil
	}
}

func (suite *LinkTestSuite) TestServicesRegistered() {
	suite.Len(suite.dev.services, len(profile.Services))
	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			c := suite.dev.characteristic(ch.UUID)
			suite.Require().NotNil(c, ch.Attr.String())
			suite.Equal(ch.Props&profile.PropRead != 0, c.ReadHandler != nil, "%s read", ch.Attr)
			suite.Equal(ch.Props&profile.PropWrite != 0, c.WriteHandler != nil, "%s write", ch.Attr)
			suite.Equal(ch.Props&profile.PropNotify != 0, c.NotifyHandler != nil, "%s notify", ch.Attr)
		}
	}
}

func (suite *LinkTestSuite) TestIntervalWriteIsDispatched() {
	peer := newFakeConn("aa:bb:cc:dd:ee:01")
	conn := suite.accept(peer, func() {
		suite.Equal(ble.ATTError(0), suite.write(peer, "2a21", []byte{0x02, 0x00}).status)
	})
	suite.Equal("conn-1", conn.ID())
	suite.Equal(peer.addr.String(), conn.RemoteAddr())

	events, done, cancel := suite.runSession(conn)
	defer cancel()

	suite.Equal(event.IntervalWritten{Seconds: 2}, suite.nextEvent(events))

	peer.Close()
	suite.NoError(<-done)
	suite.Require().Eventually(func() bool { return suite.link.Sessions() == 0 }, waitTimeout, time.Millisecond)
}

func (suite *LinkTestSuite) TestMalformedWritesAreRejected() {
	peer := newFakeConn("aa:bb:cc:dd:ee:02")
	conn := suite.accept(peer, func() {
		suite.Equal(ble.ErrInvalAttrValueLen, suite.write(peer, "2a21", []byte{1}).status)
	})

	rsp := suite.write(peer, "00001005-b0cd-11ec-871f-d45ddf138840", []byte{1, 2})
	suite.Equal(ble.ErrInvalAttrValueLen, rsp.status)

	rsp = suite.write(peer, "00001003-b0cd-11ec-871f-d45ddf138840", []byte{event.ControlStart})
	suite.Equal(ble.ATTError(0), rsp.status)

	events, _, cancel := suite.runSession(conn)
	defer cancel()
	suite.Equal(event.UpdateRequested{Update: event.UpdateEvent{Op: event.UpdateStart}}, suite.nextEvent(events))
}

func (suite *LinkTestSuite) TestFirmwareWritesBecomeUpdates() {
	peer := newFakeConn("aa:bb:cc:dd:ee:03")
	conn := suite.accept(peer, func() {
		suite.write(peer, "00001005-b0cd-11ec-871f-d45ddf138840", []byte{0x00, 0x10, 0x00, 0x00})
	})
	suite.write(peer, "00001006-b0cd-11ec-871f-d45ddf138840", []byte{0xde, 0xad})

	events, _, cancel := suite.runSession(conn)
	defer cancel()

	suite.Equal(event.UpdateRequested{Update: event.UpdateEvent{Op: event.UpdateSetOffset, Offset: 4096}}, suite.nextEvent(events))
	suite.Equal(event.UpdateRequested{Update: event.UpdateEvent{Op: event.UpdateWrite, Data: []byte{0xde, 0xad}}}, suite.nextEvent(events))
}

func (suite *LinkTestSuite) TestNotifySubscription() {
	peer := newFakeConn("aa:bb:cc:dd:ee:04")
	presses, ok := profile.Lookup(profile.AttrPresses)
	suite.Require().True(ok)
	c := suite.dev.characteristic(presses.UUID)
	suite.Require().NotNil(c.NotifyHandler)

	subCtx, unsubscribe := context.WithCancel(context.Background())
	notifier := &fakeNotifier{ctx: subCtx, written: make(chan []byte, 4)}
	served := make(chan struct{})

	conn := suite.accept(peer, func() {
		go func() {
			c.NotifyHandler.ServeNotify(&fakeRequest{conn: peer}, notifier)
			close(served)
		}()
	})

	events, _, cancel := suite.runSession(conn)
	defer cancel()
	suite.Equal(event.NotifyToggled{Attr: profile.AttrPresses, Enabled: true}, suite.nextEvent(events))

	suite.Require().NoError(suite.link.Notify(conn, profile.AttrPresses, []byte{1, 2}))
	suite.Equal([]byte{1, 2}, <-notifier.written)
	suite.ErrorIs(suite.link.Notify(conn, profile.AttrAccel, []byte{0}), link.ErrNotSubscribed)

	unsubscribe()
	<-served
	suite.Equal(event.NotifyToggled{Attr: profile.AttrPresses, Enabled: false}, suite.nextEvent(events))
	suite.ErrorIs(suite.link.Notify(conn, profile.AttrPresses, []byte{1, 2}), link.ErrNotSubscribed)
}

func (suite *LinkTestSuite) TestReadServesPublishedValue() {
	suite.Require().NoError(suite.link.SetValue(profile.AttrFirmwareVersion, []byte("1.0.0")))

	peer := newFakeConn("aa:bb:cc:dd:ee:05")
	c := suite.dev.characteristic("00001001-b0cd-11ec-871f-d45ddf138840")
	rsp := &fakeResponse{}
	suite.accept(peer, func() {
		c.ReadHandler.ServeRead(&fakeRequest{conn: peer}, rsp)
	})
	suite.Equal([]byte("1.0.0"), rsp.value)

	suite.ErrorIs(suite.link.SetValue(profile.AttrUnknown, nil), link.ErrUnknownAttribute)
}

func (suite *LinkTestSuite) TestConnectionLimit() {
	first := newFakeConn("aa:bb:cc:dd:ee:06")
	second := newFakeConn("aa:bb:cc:dd:ee:07")
	third := newFakeConn("aa:bb:cc:dd:ee:08")

	suite.accept(first, func() { suite.write(first, "2a21", []byte{1, 0}) })
	suite.accept(second, func() { suite.write(second, "2a21", []byte{1, 0}) })

	rsp := suite.write(third, "2a21", []byte{1, 0})
	suite.Equal(ble.ErrUnlikely, rsp.status)
	select {
	case <-third.Disconnected():
	default:
		suite.Fail("peer over the limit should be closed")
	}
	suite.Equal(2, suite.link.Sessions())
	suite.helper.WaitForLog("Connection limit reached, closing peer", waitTimeout)
}

func (suite *LinkTestSuite) TestPeerGoneBeforeAdvertiseIsSkipped() {
	// Single-slot link, registered on a clean peripheral.
	suite.dev = &fakePeripheral{}
	l, err := New(suite.dev, 1, suite.helper.Logger)
	suite.Require().NoError(err)
	suite.link = l

	gone := newFakeConn("aa:bb:cc:dd:ee:0a")
	suite.Equal(ble.ATTError(0), suite.write(gone, "2a21", []byte{1, 0}).status)
	gone.Close()
	suite.Require().Eventually(func() bool { return suite.link.Sessions() == 0 }, waitTimeout, time.Millisecond)

	// A later peer must not block behind the one that left.
	next := newFakeConn("aa:bb:cc:dd:ee:0b")
	written := make(chan *fakeResponse, 1)
	go func() { written <- suite.write(next, "2a21", []byte{2, 0}) }()
	select {
	case rsp := <-written:
		suite.Equal(ble.ATTError(0), rsp.status)
	case <-time.After(waitTimeout):
		suite.FailNow("write handler blocked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, err := suite.link.Advertise(ctx, suite.adv)
	suite.Require().NoError(err)
	suite.Equal("conn-2", conn.ID())
	suite.Equal(next.addr.String(), conn.RemoteAddr())
}

func (suite *LinkTestSuite) TestDisconnectClosesPeer() {
	peer := newFakeConn("aa:bb:cc:dd:ee:09")
	conn := suite.accept(peer, func() { suite.write(peer, "2a21", []byte{1, 0}) })

	suite.Require().NoError(suite.link.Disconnect(conn))
	select {
	case <-peer.Disconnected():
	case <-time.After(waitTimeout):
		suite.Fail("peer not closed")
	}
}

func (suite *LinkTestSuite) TestAdvertiseFailure() {
	suite.dev.advErr = errors.New("peripheral manager has invalid state: have=4 want=5")

	_, err := suite.link.Advertise(context.Background(), suite.adv)
	suite.ErrorIs(err, link.ErrAdvertisingFailed)
}

func (suite *LinkTestSuite) TestAdvertiseCancelled() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := suite.link.Advertise(ctx, suite.adv)
	suite.ErrorIs(err, context.DeadlineExceeded)
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}

func TestRunRejectsForeignConnection(t *testing.T) {
	l, err := New(&fakePeripheral{}, 1, nil)
	require.NoError(t, err)

	err = l.Run(context.Background(), testutils.NewFakeConn("x"), func(event.ProtocolEvent) {})
	var se *link.SessionError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, link.ErrNotConnected)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "darwin invalid state", err: errors.New("peripheral manager has invalid state: have=4 want=5"), want: link.ErrAdvertisingFailed},
		{name: "linux hci", err: errors.New("can't init hci: no devices available"), want: link.ErrAdvertisingFailed},
		{name: "disconnected", err: errors.New("device disconnected"), want: link.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := errors.New("something else")
	assert.Same(t, other, NormalizeError(other))
}
