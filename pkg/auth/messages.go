// Package auth implements C4: the authorization handshake that brings a
// freshly connected peer to an identified, trusted state (§4.3). Each
// connection runs two independent substates — initiating (we prove
// ourselves) and accepting (they prove themselves) — as pure transition
// functions, the way the teacher's types.StateMachine commits an Entry and
// returns a new result without touching I/O itself
// (pkg/mcast/types/state_machine.go).
package auth

// SignerFunc signs nonce with the named private key, used by the
// initiating side of a Challenge handshake. The concrete signature scheme
// is out of scope here; callers supply it.
type SignerFunc func(publicKey, nonce []byte) (signature []byte, err error)

// VerifierFunc verifies that signature is a valid signature of nonce under
// publicKey, used by the accepting side of a Challenge handshake.
type VerifierFunc func(publicKey, nonce, signature []byte) bool

// TrustRequest is the sole message of the Trust variant: the initiator
// simply claims an identity.
type TrustRequest struct {
	Identity string
}

// Nonce is sent by the acceptor to open a Challenge handshake.
type Nonce struct {
	Value []byte
}

// SubmitEntry pairs a public key with its signature over the acceptor's
// nonce.
type SubmitEntry struct {
	PublicKey []byte
	Signature []byte
}

// SubmitRequest is the initiator's response to a Nonce.
type SubmitRequest struct {
	Entries []SubmitEntry
}

// MessageKind tags which of the above a Message carries.
type MessageKind int

const (
	MessageTrustRequest MessageKind = iota
	MessageNonce
	MessageSubmitRequest
)

// Message is the envelope carried inside wire.AuthorizationMessage.Body
// once decoded; pkg/wire keeps AuthorizationMessage opaque precisely so
// this package owns its own codec, avoiding an import cycle.
type Message struct {
	Kind          MessageKind
	TrustRequest  *TrustRequest
	Nonce         *Nonce
	SubmitRequest *SubmitRequest
}
