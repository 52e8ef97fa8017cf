package auth

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/Cargill/splinter-sub011/pkg/token"
)

// Variant selects which handshake protocol a connection runs.
type Variant int

const (
	VariantTrust Variant = iota
	VariantChallenge
)

// Status is the terminal/non-terminal classification of a substate.
type Status int

const (
	StatusInProgress Status = iota
	StatusDone
	StatusUnauthorized
)

// InitiatingState is the pure state of the "we prove ourselves" substate
// machine.
type InitiatingState struct {
	Variant Variant
	Status  Status
	Identity string // set once Status == StatusDone
}

// AcceptingState is the pure state of the "they prove themselves"
// substate machine.
type AcceptingState struct {
	Variant  Variant
	Status   Status
	Identity string // set once Status == StatusDone
	nonce    []byte // held while awaiting SubmitRequest
}

// NewInitiatingState starts the initiating substate for the given
// variant. It sends nothing itself; Begin produces the opening message.
func NewInitiatingState(variant Variant) InitiatingState {
	return InitiatingState{Variant: variant, Status: StatusInProgress}
}

// NewAcceptingState starts the accepting substate.
func NewAcceptingState(variant Variant) AcceptingState {
	return AcceptingState{Variant: variant, Status: StatusInProgress}
}

// Begin produces the first outbound message(s) for a handshake, if any.
// Trust's initiator begins by sending a TrustRequest; Challenge's acceptor
// begins by sending a Nonce. The other two combinations have nothing to
// send until they receive a message.
func Begin(variant Variant, side Side, identity string) (Message, bool, error) {
	switch {
	case variant == VariantTrust && side == SideInitiating:
		return Message{Kind: MessageTrustRequest, TrustRequest: &TrustRequest{Identity: identity}}, true, nil
	case variant == VariantChallenge && side == SideAccepting:
		nonce := make([]byte, 32)
		if _, err := rand.Read(nonce); err != nil {
			return Message{}, false, fmt.Errorf("generate nonce: %w", err)
		}
		return Message{Kind: MessageNonce, Nonce: &Nonce{Value: nonce}}, true, nil
	default:
		return Message{}, false, nil
	}
}

// Side distinguishes the two independent substates of a connection.
type Side int

const (
	SideInitiating Side = iota
	SideAccepting
)

// ApplyAccepting advances the accepting substate on receipt of msg,
// returning the next state and, when the protocol calls for a reply, the
// outbound message to send.
func (s AcceptingState) ApplyAccepting(msg Message, expectedPublicKey []byte, verify VerifierFunc) (AcceptingState, *Message, error) {
	if s.Status != StatusInProgress {
		return s, nil, fmt.Errorf("%w: message received after terminal state", ErrUnexpectedMessage)
	}
	switch s.Variant {
	case VariantTrust:
		if msg.Kind != MessageTrustRequest {
			return terminalUnauthorized(s), nil, fmt.Errorf("%w: trust acceptor expected TrustRequest, got kind %d", ErrUnexpectedMessage, msg.Kind)
		}
		next := s
		next.Status = StatusDone
		next.Identity = msg.TrustRequest.Identity
		return next, nil, nil

	case VariantChallenge:
		if msg.Kind != MessageSubmitRequest {
			return terminalUnauthorized(s), nil, fmt.Errorf("%w: challenge acceptor expected SubmitRequest, got kind %d", ErrUnexpectedMessage, msg.Kind)
		}
		if s.nonce == nil {
			return terminalUnauthorized(s), nil, fmt.Errorf("%w: SubmitRequest received before Nonce was sent", ErrUnexpectedMessage)
		}
		chosen, err := selectValidEntry(msg.SubmitRequest.Entries, s.nonce, expectedPublicKey, verify)
		if err != nil {
			return terminalUnauthorized(s), nil, err
		}
		next := s
		next.Status = StatusDone
		next.Identity = token.NewChallengeToken(chosen.PublicKey).Identity()
		return next, nil, nil

	default:
		return terminalUnauthorized(s), nil, fmt.Errorf("%w: unknown variant %d", ErrUnexpectedMessage, s.Variant)
	}
}

// WithNonce records the nonce this accepting substate sent, so a later
// SubmitRequest can be verified against it.
func (s AcceptingState) WithNonce(nonce []byte) AcceptingState {
	s.nonce = append([]byte(nil), nonce...)
	return s
}

// ApplyInitiating advances the initiating substate on receipt of msg.
func (s InitiatingState) ApplyInitiating(msg Message, identity string, signingKeys [][]byte, expectedPublicKey []byte, sign SignerFunc) (InitiatingState, *Message, error) {
	if s.Status != StatusInProgress {
		return s, nil, fmt.Errorf("%w: message received after terminal state", ErrUnexpectedMessage)
	}
	switch s.Variant {
	case VariantTrust:
		// The Trust initiator has nothing to receive; any inbound message is
		// unexpected on this substate (the acceptor's Done transition happens
		// on the *other* side's substate).
		return terminalUnauthorizedInitiating(s), nil, fmt.Errorf("%w: trust initiator received unexpected message kind %d", ErrUnexpectedMessage, msg.Kind)

	case VariantChallenge:
		if msg.Kind != MessageNonce {
			return terminalUnauthorizedInitiating(s), nil, fmt.Errorf("%w: challenge initiator expected Nonce, got kind %d", ErrUnexpectedMessage, msg.Kind)
		}
		keys := signingKeys
		if expectedPublicKey != nil {
			keys = filterMatching(signingKeys, expectedPublicKey)
		}
		if len(keys) == 0 {
			return terminalUnauthorizedInitiating(s), nil, fmt.Errorf("%w: no signing key matches expected public key", ErrMissingExpectedKey)
		}
		entries := make([]SubmitEntry, 0, len(keys))
		for _, pub := range keys {
			sig, err := sign(pub, msg.Nonce.Value)
			if err != nil {
				return terminalUnauthorizedInitiating(s), nil, fmt.Errorf("sign nonce: %w", err)
			}
			entries = append(entries, SubmitEntry{PublicKey: pub, Signature: sig})
		}
		reply := Message{Kind: MessageSubmitRequest, SubmitRequest: &SubmitRequest{Entries: entries}}
		// The initiating substate has nothing further to learn; per §4.3 only
		// the acceptor transitions to Done(identity) on this variant, but the
		// initiator locally considers itself done once it has replied, since
		// it already knows its own identity.
		next := s
		next.Status = StatusDone
		next.Identity = identity
		return next, &reply, nil

	default:
		return terminalUnauthorizedInitiating(s), nil, fmt.Errorf("%w: unknown variant %d", ErrUnexpectedMessage, s.Variant)
	}
}

func terminalUnauthorized(s AcceptingState) AcceptingState {
	s.Status = StatusUnauthorized
	return s
}

func terminalUnauthorizedInitiating(s InitiatingState) InitiatingState {
	s.Status = StatusUnauthorized
	return s
}

func selectValidEntry(entries []SubmitEntry, nonce, expectedPublicKey []byte, verify VerifierFunc) (SubmitEntry, error) {
	var firstValid *SubmitEntry
	for i := range entries {
		e := entries[i]
		if !verify(e.PublicKey, nonce, e.Signature) {
			continue
		}
		if expectedPublicKey != nil {
			if string(e.PublicKey) == string(expectedPublicKey) {
				return e, nil
			}
			continue
		}
		if firstValid == nil {
			firstValid = &e
		}
	}
	if expectedPublicKey != nil {
		return SubmitEntry{}, fmt.Errorf("%w: no entry matched expected public key", ErrMissingExpectedKey)
	}
	if firstValid == nil {
		return SubmitEntry{}, ErrSignatureInvalid
	}
	return *firstValid, nil
}

func filterMatching(keys [][]byte, expected []byte) [][]byte {
	var out [][]byte
	for _, k := range keys {
		if string(k) == string(expected) {
			out = append(out, k)
		}
	}
	return out
}

// Sentinel errors (§4.3, §7 AuthorizationError).
var (
	ErrUnexpectedMessage  = errors.New("unexpected message for current authorization state")
	ErrSignatureInvalid   = errors.New("no valid signature found")
	ErrMissingExpectedKey = errors.New("expected public key not available")
)
