package service

import "github.com/Cargill/splinter-sub011/pkg/admin/store"

// SubmitMessage carries a freshly proposed circuit definition to every
// prospective member (§4.8 step 1).
type SubmitMessage struct {
	Proposal  store.Proposal
	Signature []byte
}

// VoteMessage carries one member's ballot, gossiped to every other
// member so each can independently observe the commit condition
// (§4.8 step 2).
type VoteMessage struct {
	CircuitId   string
	CircuitHash string
	VoterNodeId string
	Vote        store.Vote
	PublicKey   []byte
	Signature   []byte
}

// MessageKind tags which of the above a Message carries.
type MessageKind int

const (
	MessageSubmit MessageKind = iota
	MessageVote
)

// Message is the envelope carried inside wire.AdminMessage.Body once
// decoded; pkg/wire keeps AdminMessage opaque so this package owns its
// own codec, the same way pkg/auth owns AuthorizationMessage's body.
type Message struct {
	Kind   MessageKind
	Submit *SubmitMessage
	Vote   *VoteMessage
}
