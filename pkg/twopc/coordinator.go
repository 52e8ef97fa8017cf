package twopc

import "time"

// CoordinatorState is the coordinator-side state tag (§4.9 "Coordinator
// states: WaitingForStart → Voting{vote_timeout_start} → {WaitingForVote
// → Commit | Abort}").
type CoordinatorState int

const (
	CoordinatorWaitingForStart CoordinatorState = iota
	CoordinatorVoting
	CoordinatorWaitingForVote
	CoordinatorCommit
	CoordinatorAbort
)

// CoordinatorContext is the durable, restart-safe state for one epoch of
// a coordinated service (§3 "2PC context"). Nothing in this package or
// in the lifecycle executor stores it; pkg/admin/store.TwoPCContext is
// the store's row shape for such a context.
type CoordinatorContext struct {
	Fqsi             string
	Epoch            uint64
	State            CoordinatorState
	Value            []byte
	Participants      []string
	Votes            map[string]bool
	VoteTimeoutStart *time.Time
}

// NewCoordinatorContext builds a fresh, idle context for an epoch; the
// executor alarms it to begin consensus.
func NewCoordinatorContext(fqsi string, epoch uint64) CoordinatorContext {
	return CoordinatorContext{Fqsi: fqsi, Epoch: epoch, State: CoordinatorWaitingForStart}
}

// Alarm is the coordinator's tick entry point: while idle it asks the
// supervisor for a value to propose (§4.9 notification
// "RequestForStart"); while voting, it checks the vote timeout.
func Alarm(ctx CoordinatorContext, now time.Time, voteTimeout time.Duration) (CoordinatorContext, []Notification) {
	switch ctx.State {
	case CoordinatorWaitingForStart:
		return ctx, []Notification{{Kind: NotifyRequestForStart}}
	case CoordinatorVoting, CoordinatorWaitingForVote:
		if ctx.VoteTimeoutStart != nil && now.Sub(*ctx.VoteTimeoutStart) >= voteTimeout {
			return ApplyVoteTimeout(ctx)
		}
		return ctx, nil
	default:
		return ctx, nil
	}
}

// Start opens a new epoch with a value supplied by the supervisor in
// response to a RequestForStart notification, moving WaitingForStart →
// Voting and requesting a VoteRequest be broadcast to every participant.
func Start(ctx CoordinatorContext, value []byte, participants []string, now time.Time) (CoordinatorContext, []Notification) {
	ctx.State = CoordinatorVoting
	ctx.Value = value
	ctx.Participants = append([]string(nil), participants...)
	ctx.Votes = make(map[string]bool, len(participants))
	ctx.VoteTimeoutStart = &now
	return ctx, []Notification{{Kind: NotifyCoordinatorRequestForVote}}
}

// ApplyVoteResponse records one participant's vote. The first rejection
// decides Abort at once; once every participant has accepted, the
// coordinator decides Commit.
func ApplyVoteResponse(ctx CoordinatorContext, from string, resp VoteResponse) (CoordinatorContext, []Notification) {
	if ctx.State != CoordinatorVoting && ctx.State != CoordinatorWaitingForVote {
		return ctx, []Notification{{Kind: NotifyMessageDropped, Reason: "vote response received outside voting state"}}
	}
	if resp.Epoch != ctx.Epoch {
		return ctx, []Notification{{Kind: NotifyMessageDropped, Reason: "vote response epoch mismatch"}}
	}

	ctx.Votes[from] = resp.Accept
	ctx.State = CoordinatorWaitingForVote

	if !resp.Accept {
		ctx.State = CoordinatorAbort
		return ctx, []Notification{{Kind: NotifyAbort}}
	}
	if !allVoted(ctx) {
		return ctx, nil
	}
	ctx.State = CoordinatorCommit
	return ctx, []Notification{{Kind: NotifyCommit}}
}

func allVoted(ctx CoordinatorContext) bool {
	for _, p := range ctx.Participants {
		if accepted, voted := ctx.Votes[p]; !voted || !accepted {
			return false
		}
	}
	return true
}

// ApplyVoteTimeout aborts the epoch if the vote timeout elapses before
// every participant has voted (§4.9 "vote timeout aborts the epoch at
// the coordinator").
func ApplyVoteTimeout(ctx CoordinatorContext) (CoordinatorContext, []Notification) {
	if ctx.State != CoordinatorVoting && ctx.State != CoordinatorWaitingForVote {
		return ctx, nil
	}
	ctx.State = CoordinatorAbort
	return ctx, []Notification{{Kind: NotifyAbort}}
}

// ApplyDecisionRequest replies to a participant's DecisionRequest with
// the coordinator's recorded decision, or drops the message if the
// coordinator has not yet decided.
func ApplyDecisionRequest(ctx CoordinatorContext, _ DecisionRequest) (CoordinatorContext, []Notification) {
	switch ctx.State {
	case CoordinatorCommit:
		return ctx, []Notification{{Kind: NotifyCommit}}
	case CoordinatorAbort:
		return ctx, []Notification{{Kind: NotifyAbort}}
	default:
		return ctx, []Notification{{Kind: NotifyMessageDropped, Reason: "no decision yet for decision request"}}
	}
}
