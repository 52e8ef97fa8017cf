package connmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/mesh"
	"github.com/Cargill/splinter-sub011/pkg/token"
	"github.com/Cargill/splinter-sub011/pkg/transport"
)

type alwaysAuthorize struct{}

func (alwaysAuthorize) Authorize(ctx context.Context, id string, conn transport.Connection, outgoing bool, tokens token.PeerTokenPair) error {
	return nil
}

type neverAuthorize struct{ err error }

func (n neverAuthorize) Authorize(ctx context.Context, id string, conn transport.Connection, outgoing bool, tokens token.PeerTokenPair) error {
	return n.err
}

func testPair() token.PeerTokenPair {
	remote := token.NewTrustToken("peer-1")
	local := token.NewTrustToken("peer-0")
	return token.PeerTokenPair{RemoteRequired: remote, LocalProvided: local}
}

func newTestRegistry(t *testing.T, bind string) (*transport.Registry, transport.Listener) {
	t.Helper()
	reg := transport.NewRegistry()
	inprocTr := transport.NewInprocTransport()
	reg.Register(transport.SchemeInproc, inprocTr)
	ln, err := inprocTr.Listen(bind)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return reg, ln
}

func TestManager_RequestOutgoingSucceeds(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg, ln := newTestRegistry(t, "inproc://mgr-a")
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Disconnect()
		}
	}()

	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()

	mgr := New(DefaultConfig(), reg, m, alwaysAuthorize{}, logging.Noop())
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.RequestOutgoing(ctx, "conn-1", "inproc://mgr-a", testPair()); err != nil {
		t.Fatalf("RequestOutgoing: %v", err)
	}

	records := mgr.List()
	if len(records) != 1 || records[0].State != StateConnected {
		t.Fatalf("unexpected records: %+v", records)
	}
	_ = mgr.Remove("conn-1")
}

func TestManager_RequestOutgoingFailsOnUnreachableEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := transport.NewRegistry()
	reg.Register(transport.SchemeInproc, transport.NewInprocTransport())

	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.Backoff = Backoff{Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond, Jitter: 0}

	mgr := New(cfg, reg, m, alwaysAuthorize{}, logging.Noop())
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := mgr.RequestOutgoing(ctx, "conn-x", "inproc://nowhere", testPair())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestManager_RequestOutgoingFailsOnAuthorizationRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg, ln := newTestRegistry(t, "inproc://mgr-b")
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Disconnect()
		}
	}()

	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	mgr := New(cfg, reg, m, neverAuthorize{err: errors.New("bad identity")}, logging.Noop())
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := mgr.RequestOutgoing(ctx, "conn-y", "inproc://mgr-b", testPair())
	if err == nil {
		t.Fatal("expected authorization failure to surface")
	}
}

func TestManager_RemoveUnknownFails(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()

	reg := transport.NewRegistry()
	mgr := New(DefaultConfig(), reg, m, alwaysAuthorize{}, logging.Noop())
	defer mgr.Shutdown()

	if err := mgr.Remove("ghost"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestManager_SubscribeReceivesNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg, ln := newTestRegistry(t, "inproc://mgr-c")
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			_ = c.Disconnect()
		}
	}()

	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()

	mgr := New(DefaultConfig(), reg, m, alwaysAuthorize{}, logging.Noop())
	defer mgr.Shutdown()

	notifications := make(chan Notification, 4)
	mgr.Subscribe(func(n Notification) { notifications <- n })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.RequestOutgoing(ctx, "conn-z", "inproc://mgr-c", testPair()); err != nil {
		t.Fatalf("RequestOutgoing: %v", err)
	}
	select {
	case n := <-notifications:
		if n.ID != "conn-z" || n.State != StateConnected {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connected notification")
	}

	_ = mgr.Remove("conn-z")
	select {
	case n := <-notifications:
		if n.State != StateDisconnected {
			t.Fatalf("expected Disconnected notification, got %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Disconnected notification")
	}
}
