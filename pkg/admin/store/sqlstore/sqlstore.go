// Package sqlstore is a database/sql-backed implementation of
// store.Store, for deployments needing durability across process
// restarts (§4.7, §6). It speaks Postgres via github.com/lib/pq and
// uses github.com/jmoiron/sqlx for scanning convenience; it does not
// own schema migrations (§6 "migrations are a deployment concern, not
// this package's") — the tables it expects are listed in schema.go as
// documentation, not executed DDL.
package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Cargill/splinter-sub011/pkg/admin/store"
)

// Store is the Postgres-backed backend.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and returns a ready Store. Schema must already
// exist (see schema.go).
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: connect")
	}
	return &Store{db: db}, nil
}

// New wraps an already-open handle, letting a caller share a connection
// pool across stores.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return &store.Error{Kind: store.KindNotFound, Op: op, Err: err}
	}
	if isUniqueViolation(err) {
		return &store.Error{Kind: store.KindConstraintViolation, Op: op, Err: err}
	}
	return &store.Error{Kind: store.KindInternal, Op: op, Err: err}
}

func (s *Store) AddProposal(p store.Proposal) error {
	defJSON, err := json.Marshal(p.Definition)
	if err != nil {
		return wrapErr("AddProposal", err)
	}
	votesJSON, err := json.Marshal(p.Votes)
	if err != nil {
		return wrapErr("AddProposal", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO circuit_proposal
			(circuit_id, circuit_hash, proposal_type, definition, votes,
			 requester_public_key, requester_node_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.CircuitId, p.CircuitHash, int(p.ProposalType), defJSON, votesJSON,
		p.RequesterPublicKey, p.RequesterNodeId,
	)
	return wrapErr("AddProposal", err)
}

func (s *Store) UpdateProposal(p store.Proposal) error {
	defJSON, err := json.Marshal(p.Definition)
	if err != nil {
		return wrapErr("UpdateProposal", err)
	}
	votesJSON, err := json.Marshal(p.Votes)
	if err != nil {
		return wrapErr("UpdateProposal", err)
	}
	res, err := s.db.Exec(
		`UPDATE circuit_proposal
		 SET circuit_hash = $2, proposal_type = $3, definition = $4, votes = $5
		 WHERE circuit_id = $1`,
		p.CircuitId, p.CircuitHash, int(p.ProposalType), defJSON, votesJSON,
	)
	if err != nil {
		return wrapErr("UpdateProposal", err)
	}
	return requireRowsAffected("UpdateProposal", res)
}

func requireRowsAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return &store.Error{Kind: store.KindNotFound, Op: op}
	}
	return nil
}

func (s *Store) RemoveProposal(circuitID string) error {
	_, err := s.db.Exec(`DELETE FROM circuit_proposal WHERE circuit_id = $1`, circuitID)
	return wrapErr("RemoveProposal", err)
}

type proposalRow struct {
	CircuitId          string `db:"circuit_id"`
	CircuitHash        string `db:"circuit_hash"`
	ProposalType       int    `db:"proposal_type"`
	Definition         []byte `db:"definition"`
	Votes              []byte `db:"votes"`
	RequesterPublicKey []byte `db:"requester_public_key"`
	RequesterNodeId    string `db:"requester_node_id"`
}

func (r proposalRow) toProposal() (store.Proposal, error) {
	var def store.CircuitDefinition
	if err := json.Unmarshal(r.Definition, &def); err != nil {
		return store.Proposal{}, err
	}
	var votes []store.VoteRecord
	if err := json.Unmarshal(r.Votes, &votes); err != nil {
		return store.Proposal{}, err
	}
	return store.Proposal{
		CircuitId:          r.CircuitId,
		CircuitHash:        r.CircuitHash,
		ProposalType:       store.ProposalType(r.ProposalType),
		Definition:         def,
		Votes:              votes,
		RequesterPublicKey: r.RequesterPublicKey,
		RequesterNodeId:    r.RequesterNodeId,
	}, nil
}

func (s *Store) GetProposal(circuitID string) (store.Proposal, bool, error) {
	var row proposalRow
	err := s.db.Get(&row, `SELECT * FROM circuit_proposal WHERE circuit_id = $1`, circuitID)
	if err == sql.ErrNoRows {
		return store.Proposal{}, false, nil
	}
	if err != nil {
		return store.Proposal{}, false, wrapErr("GetProposal", err)
	}
	p, err := row.toProposal()
	if err != nil {
		return store.Proposal{}, false, wrapErr("GetProposal", err)
	}
	return p, true, nil
}

func (s *Store) ListProposals(filter store.ProposalFilter) ([]store.Proposal, store.Paging, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT p.* FROM circuit_proposal p WHERE TRUE`
	countQuery := `SELECT COUNT(*) FROM circuit_proposal p WHERE TRUE`
	var args []interface{}
	argN := 1

	if filter.ManagementType != "" {
		clause := ` AND p.definition->>'ManagementType' = $` + itoa(argN)
		query += clause
		countQuery += clause
		args = append(args, filter.ManagementType)
		argN++
	}
	if filter.MemberNodeId != "" {
		clause := ` AND p.definition->'Members' @> $` + itoa(argN) + `::jsonb`
		memberFrag, err := json.Marshal([]map[string]string{{"NodeId": filter.MemberNodeId}})
		if err != nil {
			return nil, store.Paging{}, wrapErr("ListProposals", err)
		}
		query += clause
		countQuery += clause
		args = append(args, memberFrag)
		argN++
	}

	var total int
	if err := s.db.Get(&total, countQuery, args...); err != nil {
		return nil, store.Paging{}, wrapErr("ListProposals", err)
	}

	query += ` ORDER BY circuit_id LIMIT $` + itoa(argN) + ` OFFSET $` + itoa(argN+1)
	args = append(args, limit, filter.Offset)

	var rows []proposalRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, store.Paging{}, wrapErr("ListProposals", err)
	}
	out := make([]store.Proposal, 0, len(rows))
	for _, r := range rows {
		p, err := r.toProposal()
		if err != nil {
			return nil, store.Paging{}, wrapErr("ListProposals", err)
		}
		out = append(out, p)
	}
	return out, store.Paging{Offset: filter.Offset, Limit: limit, Total: total}, nil
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return string(buf)
}

func (s *Store) AddCircuit(c store.Circuit) error {
	membersJSON, err := json.Marshal(c.Members)
	if err != nil {
		return wrapErr("AddCircuit", err)
	}
	rosterJSON, err := json.Marshal(c.Roster)
	if err != nil {
		return wrapErr("AddCircuit", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO circuit
			(circuit_id, authorization_type, members, roster, management_type,
			 circuit_version, circuit_status, display_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.CircuitId, int(c.AuthorizationType), membersJSON, rosterJSON,
		c.ManagementType, c.CircuitVersion, int(c.CircuitStatus), c.DisplayName,
	)
	return wrapErr("AddCircuit", err)
}

type circuitRow struct {
	CircuitId         string `db:"circuit_id"`
	AuthorizationType int    `db:"authorization_type"`
	Members           []byte `db:"members"`
	Roster            []byte `db:"roster"`
	ManagementType    string `db:"management_type"`
	CircuitVersion    int    `db:"circuit_version"`
	CircuitStatus     int    `db:"circuit_status"`
	DisplayName       string `db:"display_name"`
}

func (r circuitRow) toCircuit() (store.Circuit, error) {
	var members []store.Node
	if err := json.Unmarshal(r.Members, &members); err != nil {
		return store.Circuit{}, err
	}
	var roster []store.Service
	if err := json.Unmarshal(r.Roster, &roster); err != nil {
		return store.Circuit{}, err
	}
	return store.Circuit{
		CircuitId:         r.CircuitId,
		AuthorizationType: store.AuthorizationType(r.AuthorizationType),
		Members:           members,
		Roster:            roster,
		ManagementType:    r.ManagementType,
		CircuitVersion:    r.CircuitVersion,
		CircuitStatus:     store.CircuitStatus(r.CircuitStatus),
		DisplayName:       r.DisplayName,
	}, nil
}

func (s *Store) GetCircuit(circuitID string) (store.Circuit, bool, error) {
	var row circuitRow
	err := s.db.Get(&row, `SELECT * FROM circuit WHERE circuit_id = $1`, circuitID)
	if err == sql.ErrNoRows {
		return store.Circuit{}, false, nil
	}
	if err != nil {
		return store.Circuit{}, false, wrapErr("GetCircuit", err)
	}
	c, err := row.toCircuit()
	if err != nil {
		return store.Circuit{}, false, wrapErr("GetCircuit", err)
	}
	return c, true, nil
}

func (s *Store) CountCircuits(pred store.CircuitPredicate) (int, error) {
	status := store.CircuitActive
	if pred.Status != nil {
		status = *pred.Status
	}
	query := `SELECT COUNT(*) FROM circuit WHERE circuit_status = $1`
	args := []interface{}{int(status)}
	argN := 2
	if pred.ManagementType != "" {
		query += ` AND management_type = $` + itoa(argN)
		args = append(args, pred.ManagementType)
		argN++
	}
	for _, nodeID := range pred.MemberSubset {
		frag, err := json.Marshal([]map[string]string{{"NodeId": nodeID}})
		if err != nil {
			return 0, wrapErr("CountCircuits", err)
		}
		query += ` AND members @> $` + itoa(argN) + `::jsonb`
		args = append(args, frag)
		argN++
	}
	var n int
	if err := s.db.Get(&n, query, args...); err != nil {
		return 0, wrapErr("CountCircuits", err)
	}
	return n, nil
}

func (s *Store) ListServices(circuitID string) ([]store.Service, error) {
	c, ok, err := s.GetCircuit(circuitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &store.Error{Kind: store.KindNotFound, Op: "ListServices"}
	}
	return c.Roster, nil
}

func (s *Store) RemoveCircuit(circuitID string) error {
	_, err := s.db.Exec(`DELETE FROM circuit WHERE circuit_id = $1`, circuitID)
	return wrapErr("RemoveCircuit", err)
}

func (s *Store) AddEvent(e store.Event) (int64, error) {
	snapshot, err := json.Marshal(e.ProposalSnapshot)
	if err != nil {
		return 0, wrapErr("AddEvent", err)
	}
	var id int64
	err = s.db.Get(&id,
		`INSERT INTO admin_service_event (management_type, created_at, event_type, proposal_snapshot)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		e.ManagementType, e.Timestamp, int(e.Type), snapshot,
	)
	if err != nil {
		return 0, wrapErr("AddEvent", err)
	}
	return id, nil
}

func (s *Store) GetEventsSince(ts time.Time, managementType string) ([]store.Event, error) {
	type row struct {
		Id               int64     `db:"id"`
		ManagementType   string    `db:"management_type"`
		CreatedAt        time.Time `db:"created_at"`
		EventType        int       `db:"event_type"`
		ProposalSnapshot []byte    `db:"proposal_snapshot"`
	}
	var rows []row
	err := s.db.Select(&rows,
		`SELECT id, management_type, created_at, event_type, proposal_snapshot
		 FROM admin_service_event
		 WHERE management_type = $1 AND created_at > $2
		 ORDER BY id`,
		managementType, ts,
	)
	if err != nil {
		return nil, wrapErr("GetEventsSince", err)
	}
	out := make([]store.Event, 0, len(rows))
	for _, r := range rows {
		var snap store.Proposal
		if err := json.Unmarshal(r.ProposalSnapshot, &snap); err != nil {
			return nil, wrapErr("GetEventsSince", err)
		}
		out = append(out, store.Event{
			Id:               r.Id,
			ManagementType:   r.ManagementType,
			Timestamp:        r.CreatedAt,
			Type:             store.EventType(r.EventType),
			ProposalSnapshot: snap,
		})
	}
	return out, nil
}

func (s *Store) SetAlarm(a store.Alarm) error {
	_, err := s.db.Exec(
		`INSERT INTO scabbard_alarm (fqsi, alarm_kind, alarm_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (fqsi, alarm_kind) DO UPDATE SET alarm_at = EXCLUDED.alarm_at`,
		a.Fqsi, int(a.Kind), a.When,
	)
	return wrapErr("SetAlarm", err)
}

func (s *Store) UnsetAlarm(fqsi string, kind store.AlarmKind) error {
	_, err := s.db.Exec(`DELETE FROM scabbard_alarm WHERE fqsi = $1 AND alarm_kind = $2`, fqsi, int(kind))
	return wrapErr("UnsetAlarm", err)
}

func (s *Store) GetAlarm(fqsi string, kind store.AlarmKind) (store.Alarm, bool, error) {
	var when time.Time
	err := s.db.Get(&when, `SELECT alarm_at FROM scabbard_alarm WHERE fqsi = $1 AND alarm_kind = $2`, fqsi, int(kind))
	if err == sql.ErrNoRows {
		return store.Alarm{}, false, nil
	}
	if err != nil {
		return store.Alarm{}, false, wrapErr("GetAlarm", err)
	}
	return store.Alarm{Fqsi: fqsi, Kind: kind, When: when}, true, nil
}

func (s *Store) AddLifecycleService(ls store.LifecycleService) error {
	argsJSON, err := json.Marshal(ls.Arguments)
	if err != nil {
		return wrapErr("AddLifecycleService", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO lifecycle_service (fqsi, service_type, arguments, command, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		ls.Fqsi, ls.ServiceType, argsJSON, int(ls.Command), int(ls.Status),
	)
	return wrapErr("AddLifecycleService", err)
}

func (s *Store) UpdateLifecycleServiceStatus(fqsi string, status store.LifecycleStatus) error {
	res, err := s.db.Exec(`UPDATE lifecycle_service SET status = $2 WHERE fqsi = $1`, fqsi, int(status))
	if err != nil {
		return wrapErr("UpdateLifecycleServiceStatus", err)
	}
	return requireRowsAffected("UpdateLifecycleServiceStatus", res)
}

func (s *Store) GetLifecycleService(fqsi string) (store.LifecycleService, bool, error) {
	var row struct {
		Fqsi        string `db:"fqsi"`
		ServiceType string `db:"service_type"`
		Arguments   []byte `db:"arguments"`
		Command     int    `db:"command"`
		Status      int    `db:"status"`
	}
	err := s.db.Get(&row, `SELECT fqsi, service_type, arguments, command, status FROM lifecycle_service WHERE fqsi = $1`, fqsi)
	if err == sql.ErrNoRows {
		return store.LifecycleService{}, false, nil
	}
	if err != nil {
		return store.LifecycleService{}, false, wrapErr("GetLifecycleService", err)
	}
	var args []store.Argument
	if err := json.Unmarshal(row.Arguments, &args); err != nil {
		return store.LifecycleService{}, false, wrapErr("GetLifecycleService", err)
	}
	return store.LifecycleService{
		Fqsi:        row.Fqsi,
		ServiceType: row.ServiceType,
		Arguments:   args,
		Command:     store.LifecycleCommand(row.Command),
		Status:      store.LifecycleStatus(row.Status),
	}, true, nil
}

func (s *Store) RemoveLifecycleService(fqsi string) error {
	_, err := s.db.Exec(`DELETE FROM lifecycle_service WHERE fqsi = $1`, fqsi)
	return wrapErr("RemoveLifecycleService", err)
}

func (s *Store) ListReadyServices(now time.Time) ([]string, error) {
	var fqsis []string
	err := s.db.Select(&fqsis,
		`SELECT DISTINCT ls.fqsi
		 FROM lifecycle_service ls
		 LEFT JOIN scabbard_alarm a ON a.fqsi = ls.fqsi AND a.alarm_kind = $2
		 WHERE ls.status = $1 AND (
		   (a.alarm_at IS NOT NULL AND a.alarm_at <= $3)
		   OR EXISTS (SELECT 1 FROM consensus_action ca WHERE ca.fqsi = ls.fqsi AND ca.executed_at IS NULL)
		   OR EXISTS (SELECT 1 FROM consensus_event ce WHERE ce.fqsi = ls.fqsi AND ce.executed_at IS NULL)
		 )
		 ORDER BY ls.fqsi`,
		int(store.LifecycleNew), int(store.AlarmLifecycle), now,
	)
	if err != nil {
		return nil, wrapErr("ListReadyServices", err)
	}
	return fqsis, nil
}

func (s *Store) AddTwoPCContext(c store.TwoPCContext) error {
	votesJSON, err := json.Marshal(c.Votes)
	if err != nil {
		return wrapErr("AddTwoPCContext", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO consensus_context
			(fqsi, epoch, role, state, pending_value, votes, vote_timeout_start, decision_timeout_start)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.Fqsi, int64(c.Epoch), int(c.Role), c.State, c.PendingValue, votesJSON,
		c.VoteTimeoutStart, c.DecisionTimeoutStart,
	)
	return wrapErr("AddTwoPCContext", err)
}

func (s *Store) UpdateTwoPCContext(c store.TwoPCContext) error {
	votesJSON, err := json.Marshal(c.Votes)
	if err != nil {
		return wrapErr("UpdateTwoPCContext", err)
	}
	res, err := s.db.Exec(
		`UPDATE consensus_context
		 SET state = $3, pending_value = $4, votes = $5,
		     vote_timeout_start = $6, decision_timeout_start = $7
		 WHERE fqsi = $1 AND epoch = $2`,
		c.Fqsi, int64(c.Epoch), c.State, c.PendingValue, votesJSON,
		c.VoteTimeoutStart, c.DecisionTimeoutStart,
	)
	if err != nil {
		return wrapErr("UpdateTwoPCContext", err)
	}
	return requireRowsAffected("UpdateTwoPCContext", res)
}

func (s *Store) GetTwoPCContext(fqsi string, epoch uint64) (store.TwoPCContext, bool, error) {
	type row struct {
		Fqsi                 string     `db:"fqsi"`
		Epoch                int64      `db:"epoch"`
		Role                 int        `db:"role"`
		State                string     `db:"state"`
		PendingValue         []byte     `db:"pending_value"`
		Votes                []byte     `db:"votes"`
		VoteTimeoutStart     *time.Time `db:"vote_timeout_start"`
		DecisionTimeoutStart *time.Time `db:"decision_timeout_start"`
	}
	var r row
	err := s.db.Get(&r, `SELECT * FROM consensus_context WHERE fqsi = $1 AND epoch = $2`, fqsi, int64(epoch))
	if err == sql.ErrNoRows {
		return store.TwoPCContext{}, false, nil
	}
	if err != nil {
		return store.TwoPCContext{}, false, wrapErr("GetTwoPCContext", err)
	}
	var votes map[string]bool
	if len(r.Votes) > 0 {
		if err := json.Unmarshal(r.Votes, &votes); err != nil {
			return store.TwoPCContext{}, false, wrapErr("GetTwoPCContext", err)
		}
	}
	return store.TwoPCContext{
		Fqsi:                 r.Fqsi,
		Epoch:                uint64(r.Epoch),
		Role:                 store.TwoPCRole(r.Role),
		State:                r.State,
		PendingValue:         r.PendingValue,
		Votes:                votes,
		VoteTimeoutStart:     r.VoteTimeoutStart,
		DecisionTimeoutStart: r.DecisionTimeoutStart,
	}, true, nil
}

func (s *Store) AddConsensusAction(a store.ConsensusAction) (int64, error) {
	var id int64
	err := s.db.Get(&id,
		`INSERT INTO consensus_action (fqsi, epoch, payload, executed_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		a.Fqsi, int64(a.Epoch), a.Payload, a.ExecutedAt,
	)
	if err != nil {
		return 0, wrapErr("AddConsensusAction", err)
	}
	return id, nil
}

func (s *Store) UpdateConsensusAction(id int64, executedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE consensus_action SET executed_at = $2 WHERE id = $1`, id, executedAt)
	if err != nil {
		return wrapErr("UpdateConsensusAction", err)
	}
	return requireRowsAffected("UpdateConsensusAction", res)
}

func (s *Store) AddConsensusEvent(e store.ConsensusEvent) (int64, error) {
	var id int64
	err := s.db.Get(&id,
		`INSERT INTO consensus_event (fqsi, epoch, payload, executed_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		e.Fqsi, int64(e.Epoch), e.Payload, e.ExecutedAt,
	)
	if err != nil {
		return 0, wrapErr("AddConsensusEvent", err)
	}
	return id, nil
}

func (s *Store) UpdateConsensusEvent(id int64, executedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE consensus_event SET executed_at = $2 WHERE id = $1`, id, executedAt)
	if err != nil {
		return wrapErr("UpdateConsensusEvent", err)
	}
	return requireRowsAffected("UpdateConsensusEvent", res)
}

func (s *Store) AddCommitEntry(c store.CommitEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO commit_history (fqsi, epoch, value, decision)
		 VALUES ($1, $2, $3, $4)`,
		c.Fqsi, int64(c.Epoch), c.Value, c.Decision,
	)
	return wrapErr("AddCommitEntry", err)
}

func (s *Store) UpdateCommitEntry(c store.CommitEntry) error {
	res, err := s.db.Exec(
		`UPDATE commit_history SET value = $3, decision = $4 WHERE fqsi = $1 AND epoch = $2`,
		c.Fqsi, int64(c.Epoch), c.Value, c.Decision,
	)
	if err != nil {
		return wrapErr("UpdateCommitEntry", err)
	}
	return requireRowsAffected("UpdateCommitEntry", res)
}

func (s *Store) GetCommitEntry(fqsi string, epoch uint64) (store.CommitEntry, bool, error) {
	type row struct {
		Fqsi     string  `db:"fqsi"`
		Epoch    int64   `db:"epoch"`
		Value    []byte  `db:"value"`
		Decision *string `db:"decision"`
	}
	var r row
	err := s.db.Get(&r, `SELECT * FROM commit_history WHERE fqsi = $1 AND epoch = $2`, fqsi, int64(epoch))
	if err == sql.ErrNoRows {
		return store.CommitEntry{}, false, nil
	}
	if err != nil {
		return store.CommitEntry{}, false, wrapErr("GetCommitEntry", err)
	}
	return store.CommitEntry{Fqsi: r.Fqsi, Epoch: uint64(r.Epoch), Value: r.Value, Decision: r.Decision}, true, nil
}

// ExecuteBatch runs cmds inside one SQL transaction, matching the
// in-process command-batch contract memstore also honors (§4.9 "partial
// effects must never be observable"): a failing command rolls back
// everything in the batch.
func (s *Store) ExecuteBatch(cmds []store.Command) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return wrapErr("ExecuteBatch", err)
	}
	txStore := &Store{db: sqlxFromTx(tx)}
	for _, cmd := range cmds {
		if err := txStore.applyOne(cmd); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("ExecuteBatch", err)
	}
	return nil
}

// sqlxFromTx lets the same method bodies run under either *sqlx.DB or
// *sqlx.Tx by wrapping the transaction behind the same execer/queryer
// interface sqlx.DB satisfies.
func sqlxFromTx(tx *sqlx.Tx) *sqlx.DB {
	return sqlx.NewDb(tx.DB.DB, tx.DriverName())
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
