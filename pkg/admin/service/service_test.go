package service

import (
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
	"github.com/Cargill/splinter-sub011/pkg/admin/store/memstore"
	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/routing"
)

// fabric wires together a small in-process mesh of admin services that
// exchange messages by direct delivery, standing in for the peer
// interconnect.
type fabric struct {
	mu       sync.Mutex
	services map[string]*Service
}

func newFabric() *fabric { return &fabric{services: make(map[string]*Service)} }

func (f *fabric) register(nodeID string, s *Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[nodeID] = s
}

func (f *fabric) SendAdminMessage(nodeID string, body []byte) error {
	f.mu.Lock()
	target, ok := f.services[nodeID]
	f.mu.Unlock()
	if !ok {
		return errors.New("fabric: unknown node")
	}
	target.HandleAdminMessage("", body)
	return nil
}

type keypair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return keypair{public: pub, private: priv}
}

func newNode(t *testing.T, nodeID string, f *fabric, st store.Store, rt *routing.Table) (*Service, keypair) {
	t.Helper()
	kp := newKeypair(t)
	sign := func(publicKey, message []byte) ([]byte, error) {
		return ed25519.Sign(kp.private, message), nil
	}
	verify := func(publicKey, message, signature []byte) bool {
		return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
	}
	svc := New(nodeID, kp.public, st, rt, f, sign, verify, logging.Noop())
	f.register(nodeID, svc)
	return svc, kp
}

func twoMemberDefinition(circuitID string, alpha, beta keypair) store.CircuitDefinition {
	return store.CircuitDefinition{
		CircuitId:         circuitID,
		AuthorizationType: store.AuthChallenge,
		Members: []store.Node{
			{NodeId: "alpha", PublicKey: alpha.public},
			{NodeId: "beta", PublicKey: beta.public},
		},
		Roster: []store.Service{
			{ServiceId: "svc0", ServiceType: "echo", NodeId: "alpha"},
			{ServiceId: "svc1", ServiceType: "echo", NodeId: "beta"},
		},
		ManagementType: "test-mgmt",
		CircuitVersion: 0,
		DisplayName:    "test circuit",
	}
}

func TestService_SubmitAndVoteCommitsCircuit(t *testing.T) {
	f := newFabric()
	st := memstore.New()
	rt := routing.New()

	alphaSvc, alphaKp := newNode(t, "alpha", f, st, rt)
	betaSvc, betaKp := newNode(t, "beta", f, st, rt)

	def := twoMemberDefinition("AAAAA-BBBBB", alphaKp, betaKp)

	if err := alphaSvc.Submit(def, store.ProposalCreate); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := betaSvc.Vote("AAAAA-BBBBB", store.VoteAccept); err != nil {
		t.Fatalf("beta Vote: %v", err)
	}

	circuit, found, err := st.GetCircuit("AAAAA-BBBBB")
	if err != nil {
		t.Fatalf("GetCircuit: %v", err)
	}
	if !found {
		t.Fatal("expected circuit to have committed")
	}
	if circuit.CircuitStatus != store.CircuitActive {
		t.Fatalf("got status %v", circuit.CircuitStatus)
	}

	if _, found, _ := st.GetProposal("AAAAA-BBBBB"); found {
		t.Fatal("expected proposal to be removed after commit")
	}

	if node, err := rt.LookupService("AAAAA-BBBBB", "svc0"); err != nil || node != "alpha" {
		t.Fatalf("routing lookup: node=%q err=%v", node, err)
	}
}

func TestService_RejectAbortsProposal(t *testing.T) {
	f := newFabric()
	st := memstore.New()
	rt := routing.New()

	alphaSvc, alphaKp := newNode(t, "alpha", f, st, rt)
	betaSvc, betaKp := newNode(t, "beta", f, st, rt)

	def := twoMemberDefinition("CCCCC-DDDDD", alphaKp, betaKp)
	if err := alphaSvc.Submit(def, store.ProposalCreate); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := betaSvc.Vote("CCCCC-DDDDD", store.VoteReject); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	if _, found, _ := st.GetProposal("CCCCC-DDDDD"); found {
		t.Fatal("expected proposal to be removed after reject")
	}
	if _, found, _ := st.GetCircuit("CCCCC-DDDDD"); found {
		t.Fatal("expected no circuit to be committed")
	}
}

func TestService_DuplicateVoteRejected(t *testing.T) {
	f := newFabric()
	st := memstore.New()
	rt := routing.New()
	alphaSvc, alphaKp := newNode(t, "alpha", f, st, rt)
	_, betaKp := newNode(t, "beta", f, st, rt)

	def := twoMemberDefinition("EEEEE-FFFFF", alphaKp, betaKp)
	if err := alphaSvc.Submit(def, store.ProposalCreate); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := alphaSvc.Vote("EEEEE-FFFFF", store.VoteAccept); !errors.Is(err, ErrDuplicateVote) {
		t.Fatalf("got %v, want ErrDuplicateVote", err)
	}
}

func TestService_SubscribeCatchUpThenLive(t *testing.T) {
	f := newFabric()
	st := memstore.New()
	rt := routing.New()
	alphaSvc, alphaKp := newNode(t, "alpha", f, st, rt)
	// beta keeps its own store, so alpha applies beta's gossiped vote and
	// commits locally, publishing to alpha's subscribers.
	betaSvc, betaKp := newNode(t, "beta", f, memstore.New(), rt)

	historical, live, unsubscribe, err := alphaSvc.Subscribe("test-mgmt", time.Time{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()
	if len(historical) != 0 {
		t.Fatalf("expected no historical events yet, got %d", len(historical))
	}

	def := twoMemberDefinition("GGGGG-HHHHH", alphaKp, betaKp)
	if err := alphaSvc.Submit(def, store.ProposalCreate); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case e := <-live:
		if e.Type != store.EventProposalSubmitted {
			t.Fatalf("got event type %v", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}

	if err := betaSvc.Vote("GGGGG-HHHHH", store.VoteAccept); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	seenReady := false
	for i := 0; i < 4; i++ {
		select {
		case e := <-live:
			if e.Type == store.EventCircuitReady {
				seenReady = true
			}
		case <-time.After(2 * time.Second):
		}
		if seenReady {
			break
		}
	}
	if !seenReady {
		t.Fatal("expected to observe CircuitReady on the live stream")
	}
}
