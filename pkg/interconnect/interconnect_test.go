package interconnect

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/mesh"
	"github.com/Cargill/splinter-sub011/pkg/routing"
	"github.com/Cargill/splinter-sub011/pkg/token"
	"github.com/Cargill/splinter-sub011/pkg/transport"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

func pipePair(t *testing.T, name string) (transport.Connection, transport.Connection) {
	t.Helper()
	tr := transport.NewInprocTransport()
	ln, err := tr.Listen("inproc://" + name)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan transport.Connection, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	client, err := tr.Connect("inproc://" + name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := <-accepted
	return client, server
}

type recordingInbox struct {
	received chan CircuitInbound
}

func newRecordingInbox() *recordingInbox {
	return &recordingInbox{received: make(chan CircuitInbound, 8)}
}

func (r *recordingInbox) Enqueue(fqsi string, msg CircuitInbound) error {
	r.received <- msg
	return nil
}

func TestInterconnect_DeliversLocalCircuitMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := pipePair(t, "ic-local")
	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()
	if err := m.Add("conn-1", server); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rt := routing.New()
	rt.AddNode("alpha", token.PeerTokenPair{})
	_ = rt.AddService("circuit-AAAAA-BBBBB", "svc0", "alpha")

	inbox := newRecordingInbox()
	ic := New("alpha", m, rt, inbox, nil, logging.Noop())
	go ic.Run()
	defer ic.Shutdown()

	env := wire.NewCircuitEnvelope(wire.CircuitMessage{
		CircuitId:          "circuit-AAAAA-BBBBB",
		RecipientServiceId: "svc0",
		SenderServiceId:    "svc1",
		Body:               []byte("hello"),
	})
	raw, err := wire.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := wire.WriteFrame(client, raw); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case msg := <-inbox.received:
		if string(msg.Body) != "hello" || msg.SenderService != "svc1" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
}

func TestInterconnect_UnknownRecipientRepliesCircuitError(t *testing.T) {
	defer goleak.VerifyNone(t)

	client, server := pipePair(t, "ic-unknown")
	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()
	if err := m.Add("conn-1", server); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rt := routing.New()
	inbox := newRecordingInbox()
	ic := New("alpha", m, rt, inbox, nil, logging.Noop())
	go ic.Run()
	defer ic.Shutdown()

	env := wire.NewCircuitEnvelope(wire.CircuitMessage{
		CircuitId:          "circuit-AAAAA-BBBBB",
		RecipientServiceId: "ghost",
		SenderServiceId:    "svc1",
		Body:               []byte("hello"),
	})
	raw, _ := wire.Encode(env)
	if err := wire.WriteFrame(client, raw); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	replyRaw, err := wire.ReadFrame(client)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	reply, err := wire.Decode(replyRaw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reply.Tag != wire.TagCircuit {
		t.Fatalf("got tag %v", reply.Tag)
	}
	if string(reply.Circuit.Body[:len(ErrCircuitPrefix)]) != ErrCircuitPrefix {
		t.Fatalf("expected circuit-error body, got %q", reply.Circuit.Body)
	}
}

func TestInterconnect_ForwardsToBoundPeer(t *testing.T) {
	defer goleak.VerifyNone(t)

	aClient, aServer := pipePair(t, "ic-fwd-a")
	bClient, bServer := pipePair(t, "ic-fwd-b")

	m := mesh.New(mesh.DefaultConfig(), logging.Noop())
	defer m.Shutdown()
	if err := m.Add("conn-a", aServer); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := m.Add("conn-b", bServer); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	rt := routing.New()
	rt.AddNode("beta", token.PeerTokenPair{})
	_ = rt.AddService("circuit-AAAAA-BBBBB", "svc0", "beta")

	inbox := newRecordingInbox()
	ic := New("alpha", m, rt, inbox, nil, logging.Noop())
	ic.BindPeerConnection("beta", "conn-b")
	go ic.Run()
	defer ic.Shutdown()

	env := wire.NewCircuitEnvelope(wire.CircuitMessage{
		CircuitId:          "circuit-AAAAA-BBBBB",
		RecipientServiceId: "svc0",
		SenderServiceId:    "svc1",
		Body:               []byte("forwarded"),
	})
	raw, _ := wire.Encode(env)
	if err := wire.WriteFrame(aClient, raw); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	replyRaw, err := wire.ReadFrame(bClient)
	if err != nil {
		t.Fatalf("ReadFrame on b: %v", err)
	}
	reply, err := wire.Decode(replyRaw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(reply.Circuit.Body) != "forwarded" {
		t.Fatalf("got %+v", reply.Circuit)
	}
}
