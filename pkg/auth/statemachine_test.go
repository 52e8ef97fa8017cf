package auth

import (
	"bytes"
	"testing"
)

func TestTrustHandshake_AcceptorReachesDone(t *testing.T) {
	accepting := NewAcceptingState(VariantTrust)
	msg := Message{Kind: MessageTrustRequest, TrustRequest: &TrustRequest{Identity: "node-42"}}

	next, reply, err := accepting.ApplyAccepting(msg, nil, nil)
	if err != nil {
		t.Fatalf("ApplyAccepting: %v", err)
	}
	if reply != nil {
		t.Fatal("trust acceptor should not reply")
	}
	if next.Status != StatusDone || next.Identity != "node-42" {
		t.Fatalf("got %+v", next)
	}
}

func TestTrustHandshake_UnexpectedKindIsUnauthorized(t *testing.T) {
	accepting := NewAcceptingState(VariantTrust)
	msg := Message{Kind: MessageSubmitRequest, SubmitRequest: &SubmitRequest{}}

	next, _, err := accepting.ApplyAccepting(msg, nil, nil)
	if err == nil {
		t.Fatal("expected error for mismatched message kind")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got status %v, want Unauthorized", next.Status)
	}
}

func TestChallengeHandshake_FullRoundTrip(t *testing.T) {
	pub := []byte("pubkey-1")
	sign := func(publicKey, nonce []byte) ([]byte, error) {
		return append([]byte("sig:"), nonce...), nil
	}
	verify := func(publicKey, nonce, signature []byte) bool {
		return bytes.Equal(signature, append([]byte("sig:"), nonce...))
	}

	accepting := NewAcceptingState(VariantChallenge)
	beginMsg, ok, err := Begin(VariantChallenge, SideAccepting, "")
	if err != nil || !ok {
		t.Fatalf("Begin: ok=%v err=%v", ok, err)
	}
	accepting = accepting.WithNonce(beginMsg.Nonce.Value)

	initiating := NewInitiatingState(VariantChallenge)
	nextInit, reply, err := initiating.ApplyInitiating(beginMsg, "node-a", [][]byte{pub}, nil, sign)
	if err != nil {
		t.Fatalf("ApplyInitiating: %v", err)
	}
	if nextInit.Status != StatusDone {
		t.Fatalf("initiator did not reach Done: %+v", nextInit)
	}
	if reply == nil || reply.Kind != MessageSubmitRequest {
		t.Fatalf("expected SubmitRequest reply, got %+v", reply)
	}

	nextAccept, ackReply, err := accepting.ApplyAccepting(*reply, nil, verify)
	if err != nil {
		t.Fatalf("ApplyAccepting: %v", err)
	}
	if ackReply != nil {
		t.Fatal("challenge acceptor should not reply after SubmitRequest")
	}
	if nextAccept.Status != StatusDone {
		t.Fatalf("acceptor did not reach Done: %+v", nextAccept)
	}
}

func TestChallengeHandshake_BadSignatureIsUnauthorized(t *testing.T) {
	verify := func(publicKey, nonce, signature []byte) bool { return false }

	accepting := NewAcceptingState(VariantChallenge).WithNonce([]byte("nonce"))
	msg := Message{Kind: MessageSubmitRequest, SubmitRequest: &SubmitRequest{
		Entries: []SubmitEntry{{PublicKey: []byte("pub"), Signature: []byte("bad")}},
	}}

	next, _, err := accepting.ApplyAccepting(msg, nil, verify)
	if err == nil {
		t.Fatal("expected signature verification failure")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got %+v", next)
	}
}

func TestChallengeHandshake_MissingExpectedKeyIsUnauthorized(t *testing.T) {
	verify := func(publicKey, nonce, signature []byte) bool { return true }
	expected := []byte("expected-pub")

	accepting := NewAcceptingState(VariantChallenge).WithNonce([]byte("nonce"))
	msg := Message{Kind: MessageSubmitRequest, SubmitRequest: &SubmitRequest{
		Entries: []SubmitEntry{{PublicKey: []byte("other-pub"), Signature: []byte("sig")}},
	}}

	next, _, err := accepting.ApplyAccepting(msg, expected, verify)
	if err == nil {
		t.Fatal("expected missing-expected-key failure")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got %+v", next)
	}
}

func TestTrustInitiating_AnyMessageIsUnauthorized(t *testing.T) {
	initiating := NewInitiatingState(VariantTrust)
	msg := Message{Kind: MessageTrustRequest, TrustRequest: &TrustRequest{Identity: "node-a"}}

	next, reply, err := initiating.ApplyInitiating(msg, "node-a", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error: trust initiator never expects an inbound message")
	}
	if reply != nil {
		t.Fatal("expected no reply")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got %+v", next)
	}
}

func TestChallengeInitiating_UnexpectedKindIsUnauthorized(t *testing.T) {
	initiating := NewInitiatingState(VariantChallenge)
	msg := Message{Kind: MessageSubmitRequest, SubmitRequest: &SubmitRequest{}}

	next, _, err := initiating.ApplyInitiating(msg, "node-a", [][]byte{[]byte("pub")}, nil, nil)
	if err == nil {
		t.Fatal("expected error for mismatched message kind")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got %+v", next)
	}
}

func TestChallengeInitiating_NoMatchingSigningKeyIsUnauthorized(t *testing.T) {
	initiating := NewInitiatingState(VariantChallenge)
	msg := Message{Kind: MessageNonce, Nonce: &Nonce{Value: []byte("nonce")}}

	next, _, err := initiating.ApplyInitiating(msg, "node-a", [][]byte{[]byte("pub-1")}, []byte("pub-2"), nil)
	if err == nil {
		t.Fatal("expected error: no signing key matches the expected public key")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got %+v", next)
	}
}

func TestChallengeInitiating_SignFailureIsUnauthorized(t *testing.T) {
	sign := func(publicKey, nonce []byte) ([]byte, error) {
		return nil, bytes.ErrTooLarge
	}
	initiating := NewInitiatingState(VariantChallenge)
	msg := Message{Kind: MessageNonce, Nonce: &Nonce{Value: []byte("nonce")}}

	next, _, err := initiating.ApplyInitiating(msg, "node-a", [][]byte{[]byte("pub-1")}, nil, sign)
	if err == nil {
		t.Fatal("expected error: signing the nonce failed")
	}
	if next.Status != StatusUnauthorized {
		t.Fatalf("got %+v", next)
	}
}

func TestInitiating_MessageAfterTerminalStateIsRejected(t *testing.T) {
	initiating := NewInitiatingState(VariantTrust)
	initiating.Status = StatusDone

	next, _, err := initiating.ApplyInitiating(Message{Kind: MessageTrustRequest}, "node-a", nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for message received after terminal state")
	}
	if next.Status != StatusDone {
		t.Fatalf("got %+v, want state left untouched", next)
	}
}

func TestMessageEncodeDecode_RoundTrip(t *testing.T) {
	original := Message{Kind: MessageSubmitRequest, SubmitRequest: &SubmitRequest{
		Entries: []SubmitEntry{{PublicKey: []byte("pub"), Signature: []byte("sig")}},
	}}
	encoded, err := EncodeMessage(original)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Kind != original.Kind || len(decoded.SubmitRequest.Entries) != 1 {
		t.Fatalf("got %+v", decoded)
	}
}

func TestMessageDecode_RejectsMalformed(t *testing.T) {
	if _, err := DecodeMessage([]byte("not msgpack")); err == nil {
		t.Fatal("expected decode error on garbage bytes")
	}
}
