// Package store defines C9: the admin store's data model and the
// store-command abstraction that lets a caller batch several writes into
// one backend transaction (§4.7, §9 "command-batch pattern"). Two
// backends implement the Store interface: memstore (in-memory) and
// sqlstore (database/sql + lib/pq + sqlx).
package store

import "time"

// ProposalType enumerates the kinds of circuit proposal (§3).
type ProposalType int

const (
	ProposalCreate ProposalType = iota
	ProposalUpdateRoster
	ProposalAddNode
	ProposalRemoveNode
	ProposalDisband
	ProposalDestroy
)

// Vote is a member's ballot on a proposal.
type Vote int

const (
	VoteAccept Vote = iota
	VoteReject
)

// VoteRecord is one member's vote on a proposal (§3).
type VoteRecord struct {
	PublicKey   []byte
	Vote        Vote
	VoterNodeId string
}

// CircuitDefinition is the proposed shape of a circuit: its
// authorization type, members, and service roster, prior to being
// accepted into a Circuit row.
type CircuitDefinition struct {
	CircuitId         string
	AuthorizationType AuthorizationType
	Members           []Node
	Roster            []Service
	ManagementType    string
	CircuitVersion    int
	DisplayName       string
}

// Proposal is a pending circuit change awaiting member votes (§3).
type Proposal struct {
	CircuitId         string
	CircuitHash       string
	ProposalType      ProposalType
	Definition        CircuitDefinition
	Votes             []VoteRecord
	RequesterPublicKey []byte
	RequesterNodeId   string
}

// AuthorizationType mirrors token.Kind at the circuit level (kept
// separate to avoid store depending on token's map-key-oriented shape).
type AuthorizationType int

const (
	AuthTrust AuthorizationType = iota
	AuthChallenge
)

// CircuitStatus is a committed circuit's lifecycle phase (§3).
type CircuitStatus int

const (
	CircuitActive CircuitStatus = iota
	CircuitDisbanded
	CircuitAbandoned
)

// Node is a circuit member: its id and ordered, round-robin-tried
// endpoint list, plus an optional public key for Challenge circuits.
type Node struct {
	NodeId    string
	Endpoints []string
	PublicKey []byte
}

// Argument is one (key, value) pair in an ordered argument list; Position
// preserves insertion order across backends (§6 "position column").
type Argument struct {
	Key      string
	Value    string
	Position int
}

// Service is one roster entry within a circuit (§3).
type Service struct {
	ServiceId   string
	ServiceType string
	NodeId      string
	Arguments   []Argument
}

// Circuit is a committed, durable circuit (§3).
type Circuit struct {
	CircuitId         string
	AuthorizationType AuthorizationType
	Members           []Node
	Roster            []Service
	ManagementType    string
	CircuitVersion    int
	CircuitStatus     CircuitStatus
	DisplayName       string
}

// LifecycleCommand is the pending step for a service (§3, §4.9).
type LifecycleCommand int

const (
	CommandPrepare LifecycleCommand = iota
	CommandFinalize
	CommandRetire
	CommandPurge
)

// LifecycleStatus tracks whether a pending command has been completed.
type LifecycleStatus int

const (
	LifecycleNew LifecycleStatus = iota
	LifecycleComplete
)

// LifecycleService is one service's pending lifecycle step (§3).
type LifecycleService struct {
	Fqsi        string
	ServiceType string
	Arguments   []Argument
	Command     LifecycleCommand
	Status      LifecycleStatus
}

// EventType enumerates admin event kinds (§3).
type EventType int

const (
	EventProposalSubmitted EventType = iota
	EventProposalVote
	EventProposalAccepted
	EventProposalRejected
	EventCircuitReady
	EventCircuitDisbanded
)

// Event is one append-only admin event (§3).
type Event struct {
	Id               int64
	ManagementType   string
	Timestamp        time.Time
	Type             EventType
	ProposalSnapshot Proposal
}

// TwoPCRole distinguishes the two 2PC roles (§3).
type TwoPCRole int

const (
	RoleCoordinator TwoPCRole = iota
	RoleParticipant
)

// TwoPCContext is the durable per-(fqsi, epoch) 2PC state (§3).
type TwoPCContext struct {
	Fqsi               string
	Epoch              uint64
	Role               TwoPCRole
	State              string // serialized twopc.CoordinatorState/ParticipantState tag
	PendingValue       []byte
	Votes              map[string]bool
	VoteTimeoutStart   *time.Time
	DecisionTimeoutStart *time.Time
}

// ConsensusAction is an outbound 2PC message still to be sent.
type ConsensusAction struct {
	Id         int64
	Fqsi       string
	Epoch      uint64
	Payload    []byte
	ExecutedAt *time.Time
}

// ConsensusEvent is an inbound 2PC message still to be applied.
type ConsensusEvent struct {
	Id         int64
	Fqsi       string
	Epoch      uint64
	Payload    []byte
	ExecutedAt *time.Time
}

// CommitEntry is the durable record of a 2PC decision (§3).
type CommitEntry struct {
	Fqsi     string
	Epoch    uint64
	Value    []byte
	Decision *string // nil until decided; "Commit" or "Abort"
}

// AlarmKind distinguishes what a persisted alarm is for.
type AlarmKind int

const (
	AlarmLifecycle AlarmKind = iota
	AlarmVoteTimeout
	AlarmDecisionTimeout
)

// Alarm is a persisted wake-up time for a service (§3, §9).
type Alarm struct {
	Fqsi string
	Kind AlarmKind
	When time.Time
}

// Paging describes a page of results and whether more remain.
//
// HasNext uses the corrected inequality from the Open Questions: another
// page exists iff unreturned items remain, i.e. total > offset+limit. The
// naive total-offset>limit under-counts the boundary when
// total == offset+limit.
type Paging struct {
	Offset int
	Limit  int
	Total  int
}

// HasNext reports whether another page exists after this one.
func (p Paging) HasNext() bool {
	return p.Total > p.Offset+p.Limit
}

// ProposalFilter narrows list_proposals (§4.7).
type ProposalFilter struct {
	ManagementType string // empty = any
	MemberNodeId   string // empty = any
	Offset         int
	Limit          int
}

// CircuitPredicate narrows count_circuits (§4.7).
type CircuitPredicate struct {
	ManagementType string
	MemberSubset   []string
	Status         *CircuitStatus // nil defaults to Active
}
