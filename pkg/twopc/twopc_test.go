package twopc

import (
	"testing"
	"time"
)

func TestCoordinator_AlarmWhileIdleRequestsStart(t *testing.T) {
	ctx := NewCoordinatorContext("c1::svc0", 1)
	_, notes := Alarm(ctx, time.Unix(0, 0), time.Minute)
	if len(notes) != 1 || notes[0].Kind != NotifyRequestForStart {
		t.Fatalf("got %+v", notes)
	}
}

func TestCoordinator_HappyPathAllAccept(t *testing.T) {
	ctx := NewCoordinatorContext("c1::svc0", 7)
	ctx, notes := Start(ctx, []byte("batch"), []string{"beta", "gamma"}, time.Unix(0, 0))
	if len(notes) != 1 || notes[0].Kind != NotifyCoordinatorRequestForVote {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != CoordinatorVoting {
		t.Fatalf("got state %v", ctx.State)
	}

	ctx, notes = ApplyVoteResponse(ctx, "beta", VoteResponse{Epoch: 7, Accept: true})
	if notes != nil {
		t.Fatalf("expected no notification before all votes in, got %+v", notes)
	}
	ctx, notes = ApplyVoteResponse(ctx, "gamma", VoteResponse{Epoch: 7, Accept: true})
	if len(notes) != 1 || notes[0].Kind != NotifyCommit {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != CoordinatorCommit {
		t.Fatalf("got state %v", ctx.State)
	}
}

func TestCoordinator_AnyRejectAborts(t *testing.T) {
	ctx := NewCoordinatorContext("c1::svc0", 7)
	ctx, _ = Start(ctx, []byte("v"), []string{"beta", "gamma"}, time.Unix(0, 0))
	ctx, notes := ApplyVoteResponse(ctx, "beta", VoteResponse{Epoch: 7, Accept: false})
	if len(notes) != 1 || notes[0].Kind != NotifyAbort {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != CoordinatorAbort {
		t.Fatalf("got state %v", ctx.State)
	}
}

func TestCoordinator_VoteTimeoutAborts(t *testing.T) {
	ctx := NewCoordinatorContext("c1::svc0", 7)
	ctx, _ = Start(ctx, []byte("v"), []string{"beta"}, time.Unix(0, 0))
	ctx, notes := Alarm(ctx, time.Unix(1000, 0), time.Minute)
	if len(notes) != 1 || notes[0].Kind != NotifyAbort {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != CoordinatorAbort {
		t.Fatalf("got state %v", ctx.State)
	}
}

func TestCoordinator_DecisionRequestRepliesWithDecision(t *testing.T) {
	ctx := NewCoordinatorContext("c1::svc0", 7)
	ctx, _ = Start(ctx, []byte("v"), []string{"beta"}, time.Unix(0, 0))
	ctx, _ = ApplyVoteResponse(ctx, "beta", VoteResponse{Epoch: 7, Accept: true})

	_, notes := ApplyDecisionRequest(ctx, DecisionRequest{Epoch: 7})
	if len(notes) != 1 || notes[0].Kind != NotifyCommit {
		t.Fatalf("got %+v", notes)
	}
}

func TestCoordinator_DecisionRequestBeforeDecisionIsDropped(t *testing.T) {
	ctx := NewCoordinatorContext("c1::svc0", 7)
	ctx, _ = Start(ctx, []byte("v"), []string{"beta", "gamma"}, time.Unix(0, 0))
	_, notes := ApplyDecisionRequest(ctx, DecisionRequest{Epoch: 7})
	if len(notes) != 1 || notes[0].Kind != NotifyMessageDropped {
		t.Fatalf("got %+v", notes)
	}
}

func TestParticipant_HappyPath(t *testing.T) {
	ctx := ParticipantContext{Fqsi: "c1::svc1", State: ParticipantWaitingForVoteRequest}
	ctx, notes := ApplyVoteRequest(ctx, VoteRequest{Epoch: 7, Value: []byte("batch")})
	if len(notes) != 1 || notes[0].Kind != NotifyParticipantRequestForVote {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != ParticipantWaitingForVote || ctx.Epoch != 7 {
		t.Fatalf("got %+v", ctx)
	}

	ctx = Vote(ctx, true, time.Unix(0, 0))
	if ctx.State != ParticipantVoted || ctx.DecisionTimeoutStart == nil {
		t.Fatalf("got %+v", ctx)
	}

	ctx, notes = ApplyCommit(ctx, Commit{Epoch: 7})
	if len(notes) != 1 || notes[0].Kind != NotifyCommit {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != ParticipantCommit {
		t.Fatalf("got state %v", ctx.State)
	}
}

func TestParticipant_AbortPath(t *testing.T) {
	ctx := ParticipantContext{Fqsi: "c1::svc1", State: ParticipantWaitingForVoteRequest}
	ctx, _ = ApplyVoteRequest(ctx, VoteRequest{Epoch: 7, Value: []byte("v")})
	ctx = Vote(ctx, true, time.Unix(0, 0))
	ctx, notes := ApplyAbort(ctx, Abort{Epoch: 7})
	if len(notes) != 1 || notes[0].Kind != NotifyAbort {
		t.Fatalf("got %+v", notes)
	}
	if ctx.State != ParticipantAbort {
		t.Fatalf("got state %v", ctx.State)
	}
}

func TestParticipant_CommitWrongEpochIsDropped(t *testing.T) {
	ctx := ParticipantContext{Fqsi: "c1::svc1", State: ParticipantWaitingForVoteRequest}
	ctx, _ = ApplyVoteRequest(ctx, VoteRequest{Epoch: 7, Value: []byte("v")})
	ctx = Vote(ctx, true, time.Unix(0, 0))
	_, notes := ApplyCommit(ctx, Commit{Epoch: 8})
	if len(notes) != 1 || notes[0].Kind != NotifyMessageDropped {
		t.Fatalf("got %+v", notes)
	}
}

func TestParticipant_DecisionTimeoutReArms(t *testing.T) {
	ctx := ParticipantContext{Fqsi: "c1::svc1", State: ParticipantWaitingForVoteRequest}
	ctx, _ = ApplyVoteRequest(ctx, VoteRequest{Epoch: 7, Value: []byte("v")})
	ctx = Vote(ctx, true, time.Unix(0, 0))
	first := *ctx.DecisionTimeoutStart

	ctx = ApplyDecisionTimeout(ctx, time.Unix(1000, 0))
	if ctx.DecisionTimeoutStart.Equal(first) {
		t.Fatal("expected decision timeout to re-arm with a new start time")
	}
	if ctx.State != ParticipantVoted {
		t.Fatalf("got state %v", ctx.State)
	}
}
