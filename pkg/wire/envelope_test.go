package wire

import (
	"bytes"
	"testing"
)

// TestEncodeDecode_Bijection exercises the §8 round-trip law: encoding and
// decoding a well-formed envelope is the identity transformation.
func TestEncodeDecode_Bijection(t *testing.T) {
	cases := []Envelope{
		NewEchoEnvelope(NetworkEcho{Payload: []byte("hi"), Recipient: "beta", TTL: 3}),
		NewHeartbeatEnvelope(),
		NewCircuitEnvelope(CircuitMessage{
			CircuitId:          "ABCDE-01234",
			RecipientServiceId: "svc0",
			SenderServiceId:    "svc1",
			CorrelationId:      "corr-1",
			Body:               []byte("payload"),
		}),
		NewAuthorizationEnvelope([]byte("auth-sub-message")),
	}

	for _, want := range cases {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v): %v", want.Tag, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%v): %v", want.Tag, err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: want %v got %v", want.Tag, got.Tag)
		}
		switch want.Tag {
		case TagNetworkEcho:
			if got.Echo == nil || !bytes.Equal(got.Echo.Payload, want.Echo.Payload) || got.Echo.Recipient != want.Echo.Recipient || got.Echo.TTL != want.Echo.TTL {
				t.Fatalf("echo mismatch: want %+v got %+v", want.Echo, got.Echo)
			}
		case TagCircuit:
			if got.Circuit == nil || got.Circuit.CircuitId != want.Circuit.CircuitId ||
				got.Circuit.RecipientServiceId != want.Circuit.RecipientServiceId ||
				got.Circuit.SenderServiceId != want.Circuit.SenderServiceId ||
				got.Circuit.CorrelationId != want.Circuit.CorrelationId ||
				!bytes.Equal(got.Circuit.Body, want.Circuit.Body) {
				t.Fatalf("circuit mismatch: want %+v got %+v", want.Circuit, got.Circuit)
			}
		case TagAuthorization:
			if got.Authorization == nil || !bytes.Equal(got.Authorization.Body, want.Authorization.Body) {
				t.Fatalf("authorization mismatch: want %+v got %+v", want.Authorization, got.Authorization)
			}
		}
	}
}

func TestEnvelope_ValidateRejectsMultipleBodies(t *testing.T) {
	e := Envelope{Tag: TagNetworkEcho, Echo: &NetworkEcho{}, Heartbeat: &NetworkHeartbeat{}}
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for envelope with two bodies set")
	}
}

func TestEnvelope_ValidateRejectsTagBodyMismatch(t *testing.T) {
	e := Envelope{Tag: TagCircuit, Heartbeat: &NetworkHeartbeat{}}
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for tag/body mismatch")
	}
}

func TestDecode_MalformedBytesIsDispatchError(t *testing.T) {
	if _, err := Decode([]byte("not a valid msgpack envelope at all ...")); err == nil {
		t.Fatal("expected decode error for garbage input")
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := []byte("a framed payload")
	if err := WriteFrame(buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame round-trip mismatch: want %q got %q", payload, got)
	}
}
