package auth

import (
	"context"
	"fmt"

	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/token"
	"github.com/Cargill/splinter-sub011/pkg/transport"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// KeyProvider supplies the local signing keys and the sign/verify
// operations for a Challenge handshake. The public keys each side must
// present come from the connection's PeerTokenPair, not from here.
type KeyProvider interface {
	SigningKeys() [][]byte
	Sign(publicKey, nonce []byte) ([]byte, error)
	Verify(publicKey, nonce, signature []byte) bool
}

// Handshaker drives both substates of a connection's authorization
// handshake to completion and satisfies connmgr.Authorizer. Ordering
// within a connection is independent per direction (§4.3): it runs the
// initiating and accepting substates concurrently over the same framed
// stream, routing inbound messages to whichever substate they target.
type Handshaker struct {
	localIdentity string
	keys          KeyProvider
	log           logging.Logger
	completed     func(connID, identity string)
}

// NewHandshaker builds a Handshaker. completed, if non-nil, is invoked
// exactly once per connection with the negotiated identity once both
// substates reach Done (§4.3 "AuthorizationComplete(identity) exactly
// once").
func NewHandshaker(localIdentity string, keys KeyProvider, log logging.Logger, completed func(connID, identity string)) *Handshaker {
	return &Handshaker{localIdentity: localIdentity, keys: keys, log: log, completed: completed}
}

func variantFor(tokens token.PeerTokenPair) Variant {
	if tokens.RemoteRequired.Kind == token.Trust && tokens.LocalProvided.Kind == token.Trust {
		return VariantTrust
	}
	return VariantChallenge
}

// Authorize drives the handshake to Done on both substates, or returns an
// AuthorizationError-class error the moment either substate goes
// Unauthorized. It satisfies connmgr.Authorizer.
func (h *Handshaker) Authorize(ctx context.Context, connID string, conn transport.Connection, outgoing bool, tokens token.PeerTokenPair) error {
	variant := variantFor(tokens)
	initiating := NewInitiatingState(variant)
	accepting := NewAcceptingState(variant)

	send := func(m Message) error {
		body, err := EncodeMessage(m)
		if err != nil {
			return fmt.Errorf("encode authorization message: %w", err)
		}
		frame, err := wire.Encode(wire.NewAuthorizationEnvelope(body))
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
		return wire.WriteFrame(conn, frame)
	}

	if msg, ok, err := Begin(variant, SideInitiating, h.localIdentity); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	} else if ok {
		if err := send(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
	}
	if msg, ok, err := Begin(variant, SideAccepting, h.localIdentity); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	} else if ok {
		if err := send(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		if n := msg.Nonce; n != nil {
			accepting = accepting.WithNonce(n.Value)
		}
	}

	done := make(chan error, 1)
	go func() {
		for {
			if initiating.Status == StatusDone && accepting.Status == StatusDone {
				done <- nil
				return
			}
			frame, err := wire.ReadFrame(conn)
			if err != nil {
				done <- fmt.Errorf("%w: read: %v", ErrHandshakeFailed, err)
				return
			}
			env, err := wire.Decode(frame)
			if err != nil || env.Tag != wire.TagAuthorization {
				done <- fmt.Errorf("%w: expected Authorization envelope: %v", ErrHandshakeFailed, err)
				return
			}
			msg, err := DecodeMessage(env.Authorization.Body)
			if err != nil {
				done <- fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
				return
			}

			switch msg.Kind {
			case MessageNonce:
				next, reply, err := initiating.ApplyInitiating(msg, h.localIdentity, h.keys.SigningKeys(), localKeyFor(tokens), h.keys.Sign)
				initiating = next
				if err != nil {
					done <- fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
					return
				}
				if reply != nil {
					if err := send(*reply); err != nil {
						done <- fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
						return
					}
				}
			case MessageTrustRequest, MessageSubmitRequest:
				next, reply, err := accepting.ApplyAccepting(msg, expectedKeyFor(tokens), h.keys.Verify)
				accepting = next
				if err != nil {
					done <- fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
					return
				}
				if reply != nil {
					if err := send(*reply); err != nil {
						done <- fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
						return
					}
				}
			default:
				done <- fmt.Errorf("%w: unroutable message kind %d", ErrHandshakeFailed, msg.Kind)
				return
			}
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		identity := accepting.Identity
		if identity == "" {
			identity = initiating.Identity
		}
		if h.completed != nil {
			h.completed(connID, identity)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, ctx.Err())
	}
}

func expectedKeyFor(tokens token.PeerTokenPair) []byte {
	if tokens.RemoteRequired.Kind == token.Challenge {
		return tokens.RemoteRequired.PublicKey
	}
	return nil
}

// localKeyFor is the public key the remote party expects this side to
// sign with, i.e. the one named by our LocalProvided token.
func localKeyFor(tokens token.PeerTokenPair) []byte {
	if tokens.LocalProvided.Kind == token.Challenge {
		return tokens.LocalProvided.PublicKey
	}
	return nil
}

// ErrHandshakeFailed wraps any failure of the handshake (malformed
// message, signature failure, unexpected message, I/O error, or context
// cancellation), all of which are AuthorizationError-class per §7: the
// connection is torn down, never retried at this layer.
var ErrHandshakeFailed = fmt.Errorf("authorization handshake failed")
