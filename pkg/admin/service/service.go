// Package service implements C10: the proposal/vote state machine that
// turns a signed circuit proposal into a durable, routable circuit once
// every member has accepted it (§4.8). It consumes C7 (interconnect) for
// admin protocol transport, writes to C9 (admin store) for durability,
// and writes to C8 (routing table) once a circuit becomes reachable.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/routing"
	"github.com/Cargill/splinter-sub011/pkg/splinterid"
	"github.com/Cargill/splinter-sub011/pkg/token"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// Sender delivers an admin protocol message to a peer node's admin
// service instance.
type Sender interface {
	SendAdminMessage(nodeID string, body []byte) error
}

// Signer signs message under the keypair identified by publicKey.
type Signer func(publicKey, message []byte) (signature []byte, err error)

// Verifier checks that signature is a valid signature of message under
// publicKey.
type Verifier func(publicKey, message, signature []byte) bool

// Service is C10.
type Service struct {
	log            logging.Logger
	store          store.Store
	routing        *routing.Table
	sender         Sender
	localNode      string
	localPublicKey []byte
	sign           Signer
	verify         Verifier

	mu        sync.Mutex
	subs      map[int]*subscription
	nextSubID int
}

type subscription struct {
	managementType string
	ch             chan store.Event
}

// New builds a Service for localNode, identified by localPublicKey under
// Challenge-authorization circuits.
func New(localNode string, localPublicKey []byte, st store.Store, rt *routing.Table, sender Sender, sign Signer, verify Verifier, log logging.Logger) *Service {
	return &Service{
		log:            log,
		store:          st,
		routing:        rt,
		sender:         sender,
		localNode:      localNode,
		localPublicKey: append([]byte(nil), localPublicKey...),
		sign:           sign,
		verify:         verify,
		subs:           make(map[int]*subscription),
	}
}

// Submit starts a new proposal for def, signing it under the local
// identity and broadcasting it to every other member (§4.8 step 1).
func (s *Service) Submit(def store.CircuitDefinition, proposalType store.ProposalType) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	hash := hashDefinition(def)
	sig, err := s.sign(s.localPublicKey, []byte(hash))
	if err != nil {
		return fmt.Errorf("admin: signing proposal: %w", err)
	}

	proposal := store.Proposal{
		CircuitId:          def.CircuitId,
		CircuitHash:        hash,
		ProposalType:       proposalType,
		Definition:          def,
		RequesterPublicKey: s.localPublicKey,
		RequesterNodeId:    s.localNode,
		Votes: []store.VoteRecord{
			{PublicKey: s.localPublicKey, Vote: store.VoteAccept, VoterNodeId: s.localNode},
		},
	}
	if err := s.store.AddProposal(proposal); err != nil {
		return err
	}
	s.emitSingle(def.ManagementType, store.EventProposalSubmitted, proposal)

	msg := Message{Kind: MessageSubmit, Submit: &SubmitMessage{Proposal: proposal, Signature: sig}}
	s.broadcast(def.Members, msg)

	return s.maybeCommit(def.CircuitId)
}

// Vote casts the local node's ballot on an open proposal, then gossips it
// to every other member (§4.8 step 2).
func (s *Service) Vote(circuitID string, vote store.Vote) error {
	proposal, found, err := s.store.GetProposal(circuitID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, circuitID)
	}
	signed := voteSignedBytes(proposal.CircuitHash, s.localNode, vote)
	sig, err := s.sign(s.localPublicKey, signed)
	if err != nil {
		return fmt.Errorf("admin: signing vote: %w", err)
	}
	record := store.VoteRecord{PublicKey: s.localPublicKey, Vote: vote, VoterNodeId: s.localNode}
	if err := s.applyVote(circuitID, record, proposal.CircuitHash, sig); err != nil {
		return err
	}
	s.broadcast(proposal.Definition.Members, Message{Kind: MessageVote, Vote: &VoteMessage{
		CircuitId:   circuitID,
		CircuitHash: proposal.CircuitHash,
		VoterNodeId: s.localNode,
		Vote:        vote,
		PublicKey:   s.localPublicKey,
		Signature:   sig,
	}})
	return s.maybeCommit(circuitID)
}

// HandleAdminMessage implements interconnect.AdminInbox, decoding and
// dispatching one inbound admin protocol frame.
func (s *Service) HandleAdminMessage(sourceNode string, body []byte) {
	var msg Message
	if err := wire.DecodeValue(body, &msg); err != nil {
		s.log.Debugf("admin: dropping malformed frame from %s: %v", sourceNode, err)
		return
	}
	switch msg.Kind {
	case MessageSubmit:
		s.handleSubmit(sourceNode, *msg.Submit)
	case MessageVote:
		s.handleVote(sourceNode, *msg.Vote)
	}
}

func (s *Service) handleSubmit(sourceNode string, sm SubmitMessage) {
	def := sm.Proposal.Definition
	if err := validateDefinition(def); err != nil {
		s.log.Debugf("admin: rejecting submit from %s: %v", sourceNode, err)
		return
	}
	if hashDefinition(def) != sm.Proposal.CircuitHash {
		s.log.Debugf("admin: rejecting submit from %s: hash mismatch", sourceNode)
		return
	}
	if !s.verify(sm.Proposal.RequesterPublicKey, []byte(sm.Proposal.CircuitHash), sm.Signature) {
		s.log.Debugf("admin: rejecting submit from %s: bad signature", sourceNode)
		return
	}
	if _, found, _ := s.store.GetProposal(def.CircuitId); found {
		return // already have this proposal; resubmission is a no-op
	}
	if err := s.store.AddProposal(sm.Proposal); err != nil {
		s.log.Errorf("admin: persisting proposal from %s: %v", sourceNode, err)
		return
	}
	s.emitSingle(def.ManagementType, store.EventProposalSubmitted, sm.Proposal)
	if err := s.maybeCommit(def.CircuitId); err != nil {
		s.log.Errorf("admin: committing %s after submit: %v", def.CircuitId, err)
	}
}

func (s *Service) handleVote(sourceNode string, vm VoteMessage) {
	if !s.verify(vm.PublicKey, voteSignedBytes(vm.CircuitHash, vm.VoterNodeId, vm.Vote), vm.Signature) {
		s.log.Debugf("admin: rejecting vote from %s: bad signature", sourceNode)
		return
	}
	record := store.VoteRecord{PublicKey: vm.PublicKey, Vote: vm.Vote, VoterNodeId: vm.VoterNodeId}
	if err := s.applyVote(vm.CircuitId, record, vm.CircuitHash, vm.Signature); err != nil {
		s.log.Debugf("admin: vote from %s rejected: %v", sourceNode, err)
		return
	}
	if err := s.maybeCommit(vm.CircuitId); err != nil {
		s.log.Errorf("admin: committing %s after vote: %v", vm.CircuitId, err)
	}
}

func (s *Service) applyVote(circuitID string, record store.VoteRecord, circuitHash string, signature []byte) error {
	proposal, found, err := s.store.GetProposal(circuitID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, circuitID)
	}
	if proposal.CircuitHash != circuitHash {
		return ErrHashMismatch
	}
	member := false
	for _, m := range proposal.Definition.Members {
		if m.NodeId == record.VoterNodeId {
			member = true
			break
		}
	}
	if !member {
		return ErrNotMember
	}
	for _, v := range proposal.Votes {
		if v.VoterNodeId == record.VoterNodeId {
			return ErrDuplicateVote
		}
	}
	proposal.Votes = append(proposal.Votes, record)
	if err := s.store.UpdateProposal(proposal); err != nil {
		return err
	}
	s.emitSingle(proposal.Definition.ManagementType, store.EventProposalVote, proposal)
	return nil
}

// maybeCommit checks the commit condition and, if met, atomically applies
// the circuit/lifecycle/routing side effects (§4.8 step 3, 4).
func (s *Service) maybeCommit(circuitID string) error {
	proposal, found, err := s.store.GetProposal(circuitID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if anyRejected(proposal.Votes) {
		cutoff := time.Now().Add(-time.Millisecond)
		cmds := []store.Command{
			store.RemoveProposalCmd(circuitID),
			store.AddEventCmd(store.Event{
				ManagementType:   proposal.Definition.ManagementType,
				Timestamp:        time.Now(),
				Type:             store.EventProposalRejected,
				ProposalSnapshot: proposal,
			}),
		}
		if err := s.store.ExecuteBatch(cmds); err != nil {
			return err
		}
		return s.fanoutSince(cutoff, proposal.Definition.ManagementType)
	}

	if !allAccepted(proposal) {
		return nil
	}

	switch proposal.ProposalType {
	case store.ProposalCreate:
		return s.commitCreate(proposal)
	case store.ProposalDisband, store.ProposalDestroy:
		return s.commitRetirement(proposal)
	default:
		return s.commitRosterChange(proposal)
	}
}

func (s *Service) commitCreate(proposal store.Proposal) error {
	def := proposal.Definition
	circuit := store.Circuit{
		CircuitId:         def.CircuitId,
		AuthorizationType: def.AuthorizationType,
		Members:           def.Members,
		Roster:            def.Roster,
		ManagementType:    def.ManagementType,
		CircuitVersion:    def.CircuitVersion,
		CircuitStatus:     store.CircuitActive,
		DisplayName:       def.DisplayName,
	}
	cmds := []store.Command{store.RemoveProposalCmd(circuit.CircuitId), store.AddCircuitCmd(circuit)}
	for _, svc := range circuit.Roster {
		fqsi := string(splinterid.NewFQSI(splinterid.CircuitId(circuit.CircuitId), splinterid.ServiceId(svc.ServiceId)))
		cmds = append(cmds, enqueueLifecycleCmds(fqsi, svc, store.CommandPrepare)...)
	}
	cutoff := time.Now().Add(-time.Millisecond)
	cmds = append(cmds,
		store.AddEventCmd(store.Event{ManagementType: circuit.ManagementType, Timestamp: time.Now(), Type: store.EventProposalAccepted, ProposalSnapshot: proposal}),
		store.AddEventCmd(store.Event{ManagementType: circuit.ManagementType, Timestamp: time.Now(), Type: store.EventCircuitReady, ProposalSnapshot: proposal}),
	)
	if err := s.store.ExecuteBatch(cmds); err != nil {
		return err
	}

	for _, m := range circuit.Members {
		s.routing.AddNode(m.NodeId, s.peerTokenPair(circuit.AuthorizationType, m))
	}
	for _, svc := range circuit.Roster {
		if err := s.routing.AddService(circuit.CircuitId, svc.ServiceId, svc.NodeId); err != nil {
			s.log.Errorf("admin: routing service %s/%s: %v", circuit.CircuitId, svc.ServiceId, err)
		}
	}

	return s.fanoutSince(cutoff, circuit.ManagementType)
}

// commitRetirement handles Disband and Destroy identically: the store
// exposes no UpdateCircuit, only AddCircuit/RemoveCircuit, so there is no
// in-place "mark disbanded" path to express; both proposal types remove
// the circuit row outright after enqueueing Retire for every service
// (§4.8 step 4 "symmetric flow", a deliberate simplification recorded in
// DESIGN.md). The lifecycle handler that completes a Retire is
// responsible for enqueueing that service's own Purge, since the store
// allows only one pending LifecycleService row per fqsi at a time.
func (s *Service) commitRetirement(proposal store.Proposal) error {
	circuitID := proposal.Definition.CircuitId
	circuit, found, err := s.store.GetCircuit(circuitID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}

	cmds := []store.Command{store.RemoveProposalCmd(circuitID), store.RemoveCircuitCmd(circuitID)}
	for _, svc := range circuit.Roster {
		fqsi := string(splinterid.NewFQSI(splinterid.CircuitId(circuitID), splinterid.ServiceId(svc.ServiceId)))
		cmds = append(cmds, enqueueLifecycleCmds(fqsi, svc, store.CommandRetire)...)
	}
	cutoff := time.Now().Add(-time.Millisecond)
	cmds = append(cmds, store.AddEventCmd(store.Event{
		ManagementType: circuit.ManagementType, Timestamp: time.Now(), Type: store.EventCircuitDisbanded, ProposalSnapshot: proposal,
	}))
	if err := s.store.ExecuteBatch(cmds); err != nil {
		return err
	}
	s.routing.RemoveCircuit(circuitID)
	return s.fanoutSince(cutoff, circuit.ManagementType)
}

// commitRosterChange handles AddNode/RemoveNode/UpdateRoster proposals by
// replacing the circuit wholesale with the proposed definition, since the
// store has no partial-update primitive; services present in the new
// roster but absent from the old one get Prepare enqueued, services
// dropped get Retire enqueued.
func (s *Service) commitRosterChange(proposal store.Proposal) error {
	circuitID := proposal.Definition.CircuitId
	old, found, err := s.store.GetCircuit(circuitID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}
	def := proposal.Definition
	newCircuit := store.Circuit{
		CircuitId:         circuitID,
		AuthorizationType: def.AuthorizationType,
		Members:           def.Members,
		Roster:            def.Roster,
		ManagementType:    def.ManagementType,
		CircuitVersion:    old.CircuitVersion + 1,
		CircuitStatus:     store.CircuitActive,
		DisplayName:       def.DisplayName,
	}

	oldServices := make(map[string]store.Service, len(old.Roster))
	for _, svc := range old.Roster {
		oldServices[svc.ServiceId] = svc
	}
	newServices := make(map[string]store.Service, len(newCircuit.Roster))
	for _, svc := range newCircuit.Roster {
		newServices[svc.ServiceId] = svc
	}

	cmds := []store.Command{store.RemoveProposalCmd(circuitID), store.RemoveCircuitCmd(circuitID), store.AddCircuitCmd(newCircuit)}
	for id, svc := range newServices {
		if _, existed := oldServices[id]; existed {
			continue
		}
		fqsi := string(splinterid.NewFQSI(splinterid.CircuitId(circuitID), splinterid.ServiceId(id)))
		cmds = append(cmds, enqueueLifecycleCmds(fqsi, svc, store.CommandPrepare)...)
	}
	for id, svc := range oldServices {
		if _, still := newServices[id]; still {
			continue
		}
		fqsi := string(splinterid.NewFQSI(splinterid.CircuitId(circuitID), splinterid.ServiceId(id)))
		cmds = append(cmds, enqueueLifecycleCmds(fqsi, svc, store.CommandRetire)...)
	}

	cutoff := time.Now().Add(-time.Millisecond)
	cmds = append(cmds, store.AddEventCmd(store.Event{
		ManagementType: newCircuit.ManagementType, Timestamp: time.Now(), Type: store.EventProposalAccepted, ProposalSnapshot: proposal,
	}))
	if err := s.store.ExecuteBatch(cmds); err != nil {
		return err
	}

	for id := range oldServices {
		if _, still := newServices[id]; !still {
			s.routing.RemoveService(circuitID, id)
		}
	}
	for _, m := range newCircuit.Members {
		s.routing.AddNode(m.NodeId, s.peerTokenPair(newCircuit.AuthorizationType, m))
	}
	for _, svc := range newCircuit.Roster {
		if err := s.routing.AddService(circuitID, svc.ServiceId, svc.NodeId); err != nil {
			s.log.Errorf("admin: routing service %s/%s: %v", circuitID, svc.ServiceId, err)
		}
	}

	return s.fanoutSince(cutoff, newCircuit.ManagementType)
}

func (s *Service) peerTokenPair(authType store.AuthorizationType, member store.Node) token.PeerTokenPair {
	if authType == store.AuthChallenge {
		return token.PeerTokenPair{
			RemoteRequired: token.NewChallengeToken(member.PublicKey),
			LocalProvided:  token.NewChallengeToken(s.localPublicKey),
		}
	}
	return token.PeerTokenPair{
		RemoteRequired: token.NewTrustToken(member.NodeId),
		LocalProvided:  token.NewTrustToken(s.localNode),
	}
}

func (s *Service) broadcast(members []store.Node, msg Message) {
	body, err := wire.EncodeValue(msg)
	if err != nil {
		s.log.Errorf("admin: encoding outbound message: %v", err)
		return
	}
	for _, m := range members {
		if m.NodeId == s.localNode {
			continue
		}
		if err := s.sender.SendAdminMessage(m.NodeId, body); err != nil {
			s.log.Debugf("admin: sending to %s: %v", m.NodeId, err)
		}
	}
}

// emitSingle appends a single event outside of a command batch, used for
// Submit/Vote bookkeeping that doesn't accompany a circuit-level commit.
func (s *Service) emitSingle(managementType string, kind store.EventType, snapshot store.Proposal) {
	e := store.Event{ManagementType: managementType, Timestamp: time.Now(), Type: kind, ProposalSnapshot: snapshot}
	id, err := s.store.AddEvent(e)
	if err != nil {
		s.log.Errorf("admin: recording event: %v", err)
		return
	}
	e.Id = id
	s.fanout(e)
}

// Subscribe streams every event with id greater than lastSeen's position
// (via timestamp, per store.GetEventsSince), then joins the live stream,
// without a gap or duplicate in between (§4.8 "catch-up subscription").
func (s *Service) Subscribe(managementType string, lastSeen time.Time) ([]store.Event, <-chan store.Event, func(), error) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan store.Event, 64)
	s.subs[id] = &subscription{managementType: managementType, ch: ch}
	s.mu.Unlock()

	historical, err := s.store.GetEventsSince(lastSeen, managementType)
	if err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
		return nil, nil, nil, err
	}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return historical, ch, unsubscribe, nil
}

func (s *Service) fanoutSince(cutoff time.Time, managementType string) error {
	events, err := s.store.GetEventsSince(cutoff, managementType)
	if err != nil {
		return err
	}
	for _, e := range events {
		s.fanout(e)
	}
	return nil
}

// fanout delivers e to every live subscriber without blocking state
// transitions: a full subscriber channel drops the event rather than
// stalling the caller (§4.8 "event delivery must not block admin state
// transitions").
func (s *Service) fanout(e store.Event) {
	s.mu.Lock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.managementType == "" || sub.managementType == e.ManagementType {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- e:
		default:
			s.log.Errorf("admin: dropping event %d for slow subscriber", e.Id)
		}
	}
}

// enqueueLifecycleCmds builds the command pair for one newly pending
// lifecycle step: the row itself, plus an alarm due immediately so
// list_ready_services() picks it up on the executor's very next tick
// instead of waiting for some later, unrelated wake-up (§4.7
// "list_ready_services... alarm <= now").
func enqueueLifecycleCmds(fqsi string, svc store.Service, cmd store.LifecycleCommand) []store.Command {
	return []store.Command{
		store.AddLifecycleServiceCmd(store.LifecycleService{
			Fqsi:        fqsi,
			ServiceType: svc.ServiceType,
			Arguments:   svc.Arguments,
			Command:     cmd,
			Status:      store.LifecycleNew,
		}),
		store.SetAlarmCmd(store.Alarm{Fqsi: fqsi, Kind: store.AlarmLifecycle, When: time.Now()}),
	}
}

func validateDefinition(def store.CircuitDefinition) error {
	if err := splinterid.CircuitId(def.CircuitId).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if len(def.Members) < 2 {
		return fmt.Errorf("%w: circuit must have at least two distinct members", ErrInvalidProposal)
	}
	seen := make(map[string]bool, len(def.Members))
	for _, m := range def.Members {
		if err := splinterid.NodeId(m.NodeId).Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		if seen[m.NodeId] {
			return fmt.Errorf("%w: duplicate member %q", ErrInvalidProposal, m.NodeId)
		}
		seen[m.NodeId] = true
		if def.AuthorizationType == store.AuthChallenge && len(m.PublicKey) == 0 {
			return fmt.Errorf("%w: member %q missing public key for a challenge circuit", ErrInvalidProposal, m.NodeId)
		}
	}
	for _, svc := range def.Roster {
		if err := splinterid.ServiceId(svc.ServiceId).Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		if !seen[svc.NodeId] {
			return fmt.Errorf("%w: service %q references non-member node %q", ErrInvalidProposal, svc.ServiceId, svc.NodeId)
		}
	}
	return nil
}

func allAccepted(p store.Proposal) bool {
	accepted := make(map[string]bool, len(p.Votes))
	for _, v := range p.Votes {
		if v.Vote == store.VoteAccept {
			accepted[v.VoterNodeId] = true
		}
	}
	for _, m := range p.Definition.Members {
		if !accepted[m.NodeId] {
			return false
		}
	}
	return true
}

func anyRejected(votes []store.VoteRecord) bool {
	for _, v := range votes {
		if v.Vote == store.VoteReject {
			return true
		}
	}
	return false
}

func hashDefinition(def store.CircuitDefinition) string {
	raw, _ := wire.EncodeValue(def)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func voteSignedBytes(circuitHash, voterNodeID string, vote store.Vote) []byte {
	voteStr := "reject"
	if vote == store.VoteAccept {
		voteStr = "accept"
	}
	return []byte(circuitHash + "|" + voterNodeID + "|" + voteStr)
}

// Sentinel errors.
var (
	ErrInvalidProposal = errors.New("admin: invalid proposal")
	ErrUnknownProposal = errors.New("admin: unknown proposal")
	ErrUnknownCircuit  = errors.New("admin: unknown circuit")
	ErrNotMember       = errors.New("admin: voter is not a circuit member")
	ErrDuplicateVote   = errors.New("admin: member has already voted")
	ErrHashMismatch    = errors.New("admin: circuit hash mismatch")
)
