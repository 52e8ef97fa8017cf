// Package memstore is an in-memory implementation of store.Store, used
// for tests and single-process deployments (§4.7 "a single logical
// interface backed by either an in-memory map or a relational
// database"). A single outer mutex serializes writes; reads take a read
// lock (§5 "a single outer lock serializes writes; reads take a read
// lock").
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
)

func notFound(op string) error { return &store.Error{Kind: store.KindNotFound, Op: op} }
func conflict(op string) error { return &store.Error{Kind: store.KindConstraintViolation, Op: op} }

type alarmKey struct {
	fqsi string
	kind store.AlarmKind
}

type contextKey struct {
	fqsi  string
	epoch uint64
}

// Store is the in-memory backend.
type Store struct {
	mu sync.RWMutex

	proposals map[string]store.Proposal
	circuits  map[string]store.Circuit

	events       map[string][]store.Event // keyed by management_type
	nextEventID  map[string]int64

	alarms map[alarmKey]store.Alarm

	lifecycle map[string]store.LifecycleService

	contexts map[contextKey]store.TwoPCContext

	actions       map[int64]store.ConsensusAction
	events2pc     map[int64]store.ConsensusEvent
	nextActionID  int64
	nextEventID2  int64

	commits map[contextKey]store.CommitEntry
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		proposals:   make(map[string]store.Proposal),
		circuits:    make(map[string]store.Circuit),
		events:      make(map[string][]store.Event),
		nextEventID: make(map[string]int64),
		alarms:      make(map[alarmKey]store.Alarm),
		lifecycle:   make(map[string]store.LifecycleService),
		contexts:    make(map[contextKey]store.TwoPCContext),
		actions:     make(map[int64]store.ConsensusAction),
		events2pc:   make(map[int64]store.ConsensusEvent),
		commits:     make(map[contextKey]store.CommitEntry),
	}
}

func (s *Store) AddProposal(p store.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.CircuitId]; exists {
		return conflict("AddProposal")
	}
	s.proposals[p.CircuitId] = p
	return nil
}

func (s *Store) UpdateProposal(p store.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.CircuitId]; !exists {
		return notFound("UpdateProposal")
	}
	s.proposals[p.CircuitId] = p
	return nil
}

func (s *Store) RemoveProposal(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proposals, circuitID)
	return nil
}

func (s *Store) GetProposal(circuitID string) (store.Proposal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[circuitID]
	return p, ok, nil
}

func (s *Store) ListProposals(filter store.ProposalFilter) ([]store.Proposal, store.Paging, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []store.Proposal
	for _, p := range s.proposals {
		if filter.ManagementType != "" && p.Definition.ManagementType != filter.ManagementType {
			continue
		}
		if filter.MemberNodeId != "" && !hasMember(p.Definition.Members, filter.MemberNodeId) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CircuitId < matched[j].CircuitId })

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	page := append([]store.Proposal(nil), matched[start:end]...)
	return page, store.Paging{Offset: filter.Offset, Limit: limit, Total: total}, nil
}

func hasMember(members []store.Node, nodeID string) bool {
	for _, m := range members {
		if m.NodeId == nodeID {
			return true
		}
	}
	return false
}

func (s *Store) AddCircuit(c store.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.circuits[c.CircuitId]; exists {
		return conflict("AddCircuit")
	}
	s.circuits[c.CircuitId] = c
	return nil
}

func (s *Store) GetCircuit(circuitID string) (store.Circuit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.circuits[circuitID]
	return c, ok, nil
}

func (s *Store) CountCircuits(pred store.CircuitPredicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := store.CircuitActive
	if pred.Status != nil {
		status = *pred.Status
	}
	count := 0
	for _, c := range s.circuits {
		if c.CircuitStatus != status {
			continue
		}
		if pred.ManagementType != "" && c.ManagementType != pred.ManagementType {
			continue
		}
		if len(pred.MemberSubset) > 0 && !isSubsetOfMembers(pred.MemberSubset, c.Members) {
			continue
		}
		count++
	}
	return count, nil
}

func isSubsetOfMembers(subset []string, members []store.Node) bool {
	present := make(map[string]bool, len(members))
	for _, m := range members {
		present[m.NodeId] = true
	}
	for _, id := range subset {
		if !present[id] {
			return false
		}
	}
	return true
}

func (s *Store) ListServices(circuitID string) ([]store.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.circuits[circuitID]
	if !ok {
		return nil, notFound("ListServices")
	}
	out := append([]store.Service(nil), c.Roster...)
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceId < out[j].ServiceId })
	return out, nil
}

func (s *Store) RemoveCircuit(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circuits, circuitID)
	return nil
}

func (s *Store) AddEvent(e store.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID[e.ManagementType]++
	e.Id = s.nextEventID[e.ManagementType]
	s.events[e.ManagementType] = append(s.events[e.ManagementType], e)
	return e.Id, nil
}

func (s *Store) GetEventsSince(ts time.Time, managementType string) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Event
	for _, e := range s.events[managementType] {
		if e.Timestamp.After(ts) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *Store) SetAlarm(a store.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms[alarmKey{a.Fqsi, a.Kind}] = a
	return nil
}

func (s *Store) UnsetAlarm(fqsi string, kind store.AlarmKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alarms, alarmKey{fqsi, kind})
	return nil
}

func (s *Store) GetAlarm(fqsi string, kind store.AlarmKind) (store.Alarm, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alarms[alarmKey{fqsi, kind}]
	return a, ok, nil
}

func (s *Store) AddLifecycleService(ls store.LifecycleService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lifecycle[ls.Fqsi]; exists {
		return conflict("AddLifecycleService")
	}
	s.lifecycle[ls.Fqsi] = ls
	return nil
}

func (s *Store) GetLifecycleService(fqsi string) (store.LifecycleService, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.lifecycle[fqsi]
	return ls, ok, nil
}

func (s *Store) UpdateLifecycleServiceStatus(fqsi string, status store.LifecycleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.lifecycle[fqsi]
	if !ok {
		return notFound("UpdateLifecycleServiceStatus")
	}
	ls.Status = status
	s.lifecycle[fqsi] = ls
	return nil
}

func (s *Store) RemoveLifecycleService(fqsi string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lifecycle, fqsi)
	return nil
}

func (s *Store) ListReadyServices(now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ready []string
	for fqsi, ls := range s.lifecycle {
		if ls.Status != store.LifecycleNew {
			continue
		}
		due := false
		if a, ok := s.alarms[alarmKey{fqsi, store.AlarmLifecycle}]; ok && !a.When.After(now) {
			due = true
		}
		for _, a := range s.actions {
			if a.Fqsi == fqsi && a.ExecutedAt == nil {
				due = true
			}
		}
		for _, e := range s.events2pc {
			if e.Fqsi == fqsi && e.ExecutedAt == nil {
				due = true
			}
		}
		if due {
			ready = append(ready, fqsi)
		}
	}
	sort.Strings(ready)
	return ready, nil
}

func (s *Store) AddTwoPCContext(c store.TwoPCContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contextKey{c.Fqsi, c.Epoch}
	if _, exists := s.contexts[key]; exists {
		return conflict("AddTwoPCContext")
	}
	s.contexts[key] = c
	return nil
}

func (s *Store) UpdateTwoPCContext(c store.TwoPCContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contextKey{c.Fqsi, c.Epoch}
	if _, exists := s.contexts[key]; !exists {
		return notFound("UpdateTwoPCContext")
	}
	s.contexts[key] = c
	return nil
}

func (s *Store) GetTwoPCContext(fqsi string, epoch uint64) (store.TwoPCContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[contextKey{fqsi, epoch}]
	return c, ok, nil
}

func (s *Store) AddConsensusAction(a store.ConsensusAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextActionID++
	a.Id = s.nextActionID
	s.actions[a.Id] = a
	return a.Id, nil
}

func (s *Store) UpdateConsensusAction(id int64, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return notFound("UpdateConsensusAction")
	}
	t := executedAt
	a.ExecutedAt = &t
	s.actions[id] = a
	return nil
}

func (s *Store) AddConsensusEvent(e store.ConsensusEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID2++
	e.Id = s.nextEventID2
	s.events2pc[e.Id] = e
	return e.Id, nil
}

func (s *Store) UpdateConsensusEvent(id int64, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events2pc[id]
	if !ok {
		return notFound("UpdateConsensusEvent")
	}
	t := executedAt
	e.ExecutedAt = &t
	s.events2pc[id] = e
	return nil
}

func (s *Store) AddCommitEntry(c store.CommitEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contextKey{c.Fqsi, c.Epoch}
	if _, exists := s.commits[key]; exists {
		return conflict("AddCommitEntry")
	}
	s.commits[key] = c
	return nil
}

func (s *Store) UpdateCommitEntry(c store.CommitEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contextKey{c.Fqsi, c.Epoch}
	if _, exists := s.commits[key]; !exists {
		return notFound("UpdateCommitEntry")
	}
	s.commits[key] = c
	return nil
}

func (s *Store) GetCommitEntry(fqsi string, epoch uint64) (store.CommitEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[contextKey{fqsi, epoch}]
	return c, ok, nil
}

// ExecuteBatch applies cmds in order, each through its own method, which
// takes and releases the outer lock itself; no lock is held across the
// whole batch, so a concurrent reader can observe a batch partly
// applied. It stops at the first failing command and leaves the
// commands before it applied: the in-memory backend has no rollback.
func (s *Store) ExecuteBatch(cmds []store.Command) error {
	for _, cmd := range cmds {
		if err := s.applyOne(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyOne(cmd store.Command) error {
	switch cmd.Kind {
	case store.CmdAddProposal:
		return s.AddProposal(*cmd.Proposal)
	case store.CmdUpdateProposal:
		return s.UpdateProposal(*cmd.Proposal)
	case store.CmdRemoveProposal:
		return s.RemoveProposal(cmd.CircuitId)
	case store.CmdAddCircuit:
		return s.AddCircuit(*cmd.Circuit)
	case store.CmdRemoveCircuit:
		return s.RemoveCircuit(cmd.CircuitId)
	case store.CmdAddEvent:
		_, err := s.AddEvent(*cmd.Event)
		return err
	case store.CmdSetAlarm:
		return s.SetAlarm(*cmd.Alarm)
	case store.CmdUnsetAlarm:
		return s.UnsetAlarm(cmd.Fqsi, cmd.AlarmKind)
	case store.CmdAddLifecycleService:
		return s.AddLifecycleService(*cmd.LifecycleService)
	case store.CmdUpdateLifecycleStatus:
		return s.UpdateLifecycleServiceStatus(cmd.Fqsi, cmd.LifecycleStatus)
	case store.CmdRemoveLifecycleService:
		return s.RemoveLifecycleService(cmd.Fqsi)
	case store.CmdAddTwoPCContext:
		return s.AddTwoPCContext(*cmd.TwoPCContext)
	case store.CmdUpdateTwoPCContext:
		return s.UpdateTwoPCContext(*cmd.TwoPCContext)
	case store.CmdAddConsensusAction:
		_, err := s.AddConsensusAction(*cmd.ConsensusAction)
		return err
	case store.CmdUpdateConsensusAction:
		return s.UpdateConsensusAction(cmd.ConsensusActionId, cmd.ExecutedAt)
	case store.CmdAddConsensusEvent:
		_, err := s.AddConsensusEvent(*cmd.ConsensusEvent)
		return err
	case store.CmdUpdateConsensusEvent:
		return s.UpdateConsensusEvent(cmd.ConsensusEventId, cmd.ExecutedAt)
	case store.CmdAddCommitEntry:
		return s.AddCommitEntry(*cmd.CommitEntry)
	case store.CmdUpdateCommitEntry:
		return s.UpdateCommitEntry(*cmd.CommitEntry)
	default:
		return &store.Error{Kind: store.KindInternal, Op: "ExecuteBatch"}
	}
}

var _ store.Store = (*Store)(nil)
