// Package token defines the authorization-token data model shared by the
// auth, peer, connection-manager and routing packages: §3 "Authorization
// token" and "PeerTokenPair" of the specification.
package token

import "fmt"

// Kind distinguishes the two authorization token variants.
type Kind int

const (
	// Trust identifies a peer purely by its claimed node id, no
	// verification performed.
	Trust Kind = iota
	// Challenge identifies a peer by a public key that must sign a
	// server-issued nonce.
	Challenge
)

func (k Kind) String() string {
	switch k {
	case Trust:
		return "Trust"
	case Challenge:
		return "Challenge"
	default:
		return "Unknown"
	}
}

// AuthorizationToken names exactly one peering identity: either a trusted
// node id or a public key to be proven via challenge/signature.
type AuthorizationToken struct {
	Kind      Kind
	PeerId    string // set when Kind == Trust
	PublicKey []byte // set when Kind == Challenge
}

// NewTrustToken builds a Trust-kind token for the given peer id.
func NewTrustToken(peerID string) AuthorizationToken {
	return AuthorizationToken{Kind: Trust, PeerId: peerID}
}

// NewChallengeToken builds a Challenge-kind token for the given public key.
func NewChallengeToken(publicKey []byte) AuthorizationToken {
	return AuthorizationToken{Kind: Challenge, PublicKey: append([]byte(nil), publicKey...)}
}

// Identity renders a stable string identity for the token, used as a map
// key and for logging.
func (t AuthorizationToken) Identity() string {
	switch t.Kind {
	case Trust:
		return "trust::" + t.PeerId
	case Challenge:
		return fmt.Sprintf("challenge::%x", t.PublicKey)
	default:
		return "unknown"
	}
}

// PeerTokenPair names a peering relationship exactly: the token we require
// of the remote party, and the token we present locally. The same remote
// node may be peered with under different local identities, so the pair
// (not just the remote token) is the map key used throughout.
type PeerTokenPair struct {
	RemoteRequired AuthorizationToken
	LocalProvided  AuthorizationToken
}

// Key renders a PeerTokenPair as a stable, comparable string for use as a
// map key (Go map keys must be comparable; []byte inside
// AuthorizationToken is not, so struct values cannot be used directly).
func (p PeerTokenPair) Key() string {
	return p.RemoteRequired.Identity() + "|" + p.LocalProvided.Identity()
}
