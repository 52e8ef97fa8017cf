package twopc

import "time"

// ParticipantState is the participant-side state tag (§4.9 "Participant
// states: WaitingForVoteRequest → WaitingForVote → Voted{vote,
// decision_timeout_start} → {Commit | Abort}").
type ParticipantState int

const (
	ParticipantWaitingForVoteRequest ParticipantState = iota
	ParticipantWaitingForVote
	ParticipantVoted
	ParticipantCommit
	ParticipantAbort
)

// ParticipantContext is the durable per-epoch state on the participant
// side.
type ParticipantContext struct {
	Fqsi                 string
	Epoch                uint64
	State                ParticipantState
	Vote                 bool
	DecisionTimeoutStart *time.Time
}

// ApplyVoteRequest transitions WaitingForVoteRequest → WaitingForVote,
// asking the supervisor to decide whether to accept.
func ApplyVoteRequest(ctx ParticipantContext, req VoteRequest) (ParticipantContext, []Notification) {
	if ctx.State != ParticipantWaitingForVoteRequest {
		return ctx, []Notification{{Kind: NotifyMessageDropped, Reason: "vote request received outside WaitingForVoteRequest"}}
	}
	ctx.Epoch = req.Epoch
	ctx.State = ParticipantWaitingForVote
	return ctx, []Notification{{Kind: NotifyParticipantRequestForVote, Value: req.Value}}
}

// Vote records the local decision (computed by the supervisor, e.g. a
// scabbard batch's local validation result) and arms the decision
// timeout (§4.9 "decision timeout at a participant triggers
// DecisionRequest and re-arms").
func Vote(ctx ParticipantContext, accept bool, now time.Time) ParticipantContext {
	if ctx.State != ParticipantWaitingForVote {
		return ctx
	}
	ctx.Vote = accept
	ctx.State = ParticipantVoted
	ctx.DecisionTimeoutStart = &now
	return ctx
}

// ApplyCommit finalizes the epoch as committed.
func ApplyCommit(ctx ParticipantContext, msg Commit) (ParticipantContext, []Notification) {
	if ctx.State != ParticipantVoted || msg.Epoch != ctx.Epoch {
		return ctx, []Notification{{Kind: NotifyMessageDropped, Reason: "commit received outside Voted or epoch mismatch"}}
	}
	ctx.State = ParticipantCommit
	return ctx, []Notification{{Kind: NotifyCommit}}
}

// ApplyAbort finalizes the epoch as aborted.
func ApplyAbort(ctx ParticipantContext, msg Abort) (ParticipantContext, []Notification) {
	if ctx.State != ParticipantVoted || msg.Epoch != ctx.Epoch {
		return ctx, []Notification{{Kind: NotifyMessageDropped, Reason: "abort received outside Voted or epoch mismatch"}}
	}
	ctx.State = ParticipantAbort
	return ctx, []Notification{{Kind: NotifyAbort}}
}

// ApplyDecisionTimeout re-arms the timeout. The caller (the lifecycle
// executor's 2PC supervisor) is responsible for sending the resulting
// DecisionRequest to the coordinator; that message is not itself one of
// the notification kinds in §4.9, since it is already fully determined
// by (fqsi, epoch) and needs no decision from the state machine.
func ApplyDecisionTimeout(ctx ParticipantContext, now time.Time) ParticipantContext {
	if ctx.State != ParticipantVoted {
		return ctx
	}
	ctx.DecisionTimeoutStart = &now
	return ctx
}
