// Package interconnect implements C7: it bridges C2 (raw bytes) and C6
// (typed messages), owning the routing decisions that turn a decoded
// Circuit envelope into either a local delivery or a forward to the peer
// hosting the recipient service (§4.5).
package interconnect

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Cargill/splinter-sub011/pkg/connmgr"
	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/mesh"
	"github.com/Cargill/splinter-sub011/pkg/routing"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// Inbox receives locally-destined circuit messages for delivery into a
// service's handler queue (§4.9); pkg/handlerpool implements this.
type Inbox interface {
	Enqueue(fqsi string, msg CircuitInbound) error
}

// CircuitInbound is one message handed to a local service's handler
// queue.
type CircuitInbound struct {
	CircuitId       string
	RecipientService string
	SenderService   string
	CorrelationId   string
	Body            []byte
	// ReplyTo is the connection id the message arrived on, so a local
	// handler's reply can be routed back without a second routing lookup.
	ReplyTo string
}

// HeartbeatObserver is notified whenever a NetworkHeartbeat frame
// arrives, so C3 can reset its staleness clock (§4.2).
type HeartbeatObserver interface {
	ObserveHeartbeat(connID string)
}

// AdminInbox receives decoded Admin-tagged frames. Every node hosts
// exactly one admin service instance, so these are handed off directly
// rather than routed through the circuit routing table (§4.8).
type AdminInbox interface {
	HandleAdminMessage(sourceNode string, body []byte)
}

// Interconnect is C7.
type Interconnect struct {
	log       logging.Logger
	mesh      *mesh.Mesh
	routing   *routing.Table
	inbox     Inbox
	heartbeat HeartbeatObserver
	admin     AdminInbox
	localNode string

	mu         sync.RWMutex
	connByNode map[string]string
	nodeByConn map[string]string

	shutdown chan struct{}
	shutOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an Interconnect bound to mesh for byte I/O, rt for routing
// decisions, and inbox for local service delivery.
func New(localNode string, m *mesh.Mesh, rt *routing.Table, inbox Inbox, hb HeartbeatObserver, log logging.Logger) *Interconnect {
	return &Interconnect{
		log:        log,
		mesh:       m,
		routing:    rt,
		inbox:      inbox,
		heartbeat:  hb,
		localNode:  localNode,
		connByNode: make(map[string]string),
		nodeByConn: make(map[string]string),
		shutdown:   make(chan struct{}),
	}
}

// SetAdminInbox wires the local admin service instance to receive
// Admin-tagged frames. It may be called once after New.
func (ic *Interconnect) SetAdminInbox(inbox AdminInbox) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.admin = inbox
}

// SendAdminMessage delivers body to nodeID's admin service instance,
// failing with ErrPeerUnreachable if nodeID has no bound connection.
func (ic *Interconnect) SendAdminMessage(nodeID string, body []byte) error {
	return ic.SendToNode(nodeID, wire.NewAdminEnvelope(body))
}

// BindPeerConnection records which connection id currently realizes
// node_id, so outbound forwards know where to send (§4.4 "a peer may be
// realized by zero or one concrete connection at a time").
func (ic *Interconnect) BindPeerConnection(nodeID, connID string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.connByNode[nodeID] = connID
	ic.nodeByConn[connID] = nodeID
}

// UnbindPeerConnection forgets nodeID's current connection, called when
// the peer disconnects.
func (ic *Interconnect) UnbindPeerConnection(nodeID string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if connID, ok := ic.connByNode[nodeID]; ok {
		delete(ic.nodeByConn, connID)
	}
	delete(ic.connByNode, nodeID)
}

func (ic *Interconnect) connFor(nodeID string) (string, bool) {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	connID, ok := ic.connByNode[nodeID]
	return connID, ok
}

func (ic *Interconnect) nodeFor(connID string) (string, bool) {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	nodeID, ok := ic.nodeByConn[connID]
	return nodeID, ok
}

// Send implements dispatch.MessageSender so registered handlers (e.g.
// the admin service) can reply on the connection a message arrived on.
func (ic *Interconnect) Send(sourceID string, env wire.Envelope) error {
	raw, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return ic.mesh.Send(mesh.Envelope{ID: sourceID, Payload: raw})
}

// SendToNode forwards env to whichever connection currently realizes
// nodeID, failing with ErrPeerUnreachable if none is bound.
func (ic *Interconnect) SendToNode(nodeID string, env wire.Envelope) error {
	connID, ok := ic.connFor(nodeID)
	if !ok {
		return fmt.Errorf("%w: node %q has no bound connection", ErrPeerUnreachable, nodeID)
	}
	return ic.Send(connID, env)
}

// SendCircuitMessage is the typed entry point used by services and the
// admin service to deliver a Circuit-tagged payload to whichever node
// hosts recipientService, whether that is a local delivery or a forward.
func (ic *Interconnect) SendCircuitMessage(circuitID, recipientService, senderService, correlationID string, body []byte) error {
	nodeID, err := ic.routing.LookupService(circuitID, recipientService)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownRecipient, err)
	}
	msg := wire.CircuitMessage{
		CircuitId:          circuitID,
		RecipientServiceId: recipientService,
		SenderServiceId:    senderService,
		CorrelationId:      correlationID,
		Body:               body,
	}
	if nodeID == ic.localNode {
		return ic.deliverLocal("", msg)
	}
	return ic.SendToNode(nodeID, wire.NewCircuitEnvelope(msg))
}

// Run pulls frames off the mesh until ctx-equivalent shutdown, decoding
// and routing each one. It is meant to run in its own goroutine, one per
// Interconnect instance.
func (ic *Interconnect) Run() {
	ic.wg.Add(1)
	defer ic.wg.Done()
	for {
		env, err := ic.mesh.RecvTimeout(time.Second)
		if err != nil {
			if errors.Is(err, mesh.ErrShutdown) {
				return
			}
			select {
			case <-ic.shutdown:
				return
			default:
			}
			continue // ErrTimeout: just poll again, lets us observe ic.shutdown promptly
		}
		select {
		case <-ic.shutdown:
			return
		default:
		}
		if env.IsDisconnected() {
			continue
		}
		ic.handleFrame(env)
	}
}

// Shutdown stops Run and waits for it to return.
func (ic *Interconnect) Shutdown() {
	ic.shutOnce.Do(func() { close(ic.shutdown) })
	ic.wg.Wait()
}

func (ic *Interconnect) handleFrame(env mesh.Envelope) {
	decoded, err := wire.Decode(env.Payload)
	if err != nil {
		ic.log.Debugf("interconnect: dropping malformed frame from %s: %v", env.ID, err)
		return
	}
	switch decoded.Tag {
	case wire.TagNetworkHeartbeat:
		if ic.heartbeat != nil {
			ic.heartbeat.ObserveHeartbeat(env.ID)
		}
	case wire.TagNetworkEcho:
		ic.handleEcho(env.ID, *decoded.Echo)
	case wire.TagCircuit:
		ic.handleCircuit(env.ID, *decoded.Circuit)
	case wire.TagAuthorization:
		ic.log.Debugf("interconnect: unexpected post-handshake authorization frame from %s", env.ID)
	case wire.TagAdmin:
		ic.handleAdmin(env.ID, *decoded.Admin)
	}
}

func (ic *Interconnect) handleAdmin(connID string, msg wire.AdminMessage) {
	ic.mu.RLock()
	inbox := ic.admin
	ic.mu.RUnlock()
	if inbox == nil {
		ic.log.Debugf("interconnect: dropping admin frame from %s: no admin inbox registered", connID)
		return
	}
	sourceNode, ok := ic.nodeFor(connID)
	if !ok {
		sourceNode = connID
	}
	inbox.HandleAdminMessage(sourceNode, msg.Body)
}

func (ic *Interconnect) handleEcho(sourceID string, echo wire.NetworkEcho) {
	if echo.TTL <= 0 {
		return
	}
	echo.TTL--
	if echo.Recipient == ic.localNode {
		ic.log.Debugf("interconnect: echo delivered locally, payload=%d bytes", len(echo.Payload))
		return
	}
	if connID, ok := ic.connFor(echo.Recipient); ok {
		_ = ic.Send(connID, wire.NewEchoEnvelope(echo))
	}
}

func (ic *Interconnect) handleCircuit(sourceID string, msg wire.CircuitMessage) {
	nodeID, err := ic.routing.LookupService(msg.CircuitId, msg.RecipientServiceId)
	if err != nil {
		ic.replyCircuitError(sourceID, msg, "unknown recipient")
		return
	}
	if nodeID == ic.localNode {
		if err := ic.deliverLocal(sourceID, msg); err != nil {
			ic.replyCircuitError(sourceID, msg, "local delivery failed")
		}
		return
	}
	connID, ok := ic.connFor(nodeID)
	if !ok {
		ic.replyCircuitError(sourceID, msg, "peer unreachable")
		return
	}
	if err := ic.Send(connID, wire.NewCircuitEnvelope(msg)); err != nil {
		ic.replyCircuitError(sourceID, msg, "forward failed")
	}
}

func (ic *Interconnect) deliverLocal(sourceID string, msg wire.CircuitMessage) error {
	fqsi := msg.CircuitId + "::" + msg.RecipientServiceId
	return ic.inbox.Enqueue(fqsi, CircuitInbound{
		CircuitId:        msg.CircuitId,
		RecipientService: msg.RecipientServiceId,
		SenderService:    msg.SenderServiceId,
		CorrelationId:    msg.CorrelationId,
		Body:             msg.Body,
		ReplyTo:          sourceID,
	})
}

// replyCircuitError sends a Circuit-tagged bounce-back on the
// originating connection, swapping sender/recipient and carrying the
// reason as the body (§4.5 "lookup failures produce a CircuitError
// reply on the original connection").
func (ic *Interconnect) replyCircuitError(sourceID string, original wire.CircuitMessage, reason string) {
	if sourceID == "" {
		return
	}
	reply := wire.CircuitMessage{
		CircuitId:          original.CircuitId,
		RecipientServiceId: original.SenderServiceId,
		SenderServiceId:    original.RecipientServiceId,
		CorrelationId:      original.CorrelationId,
		Body:               []byte(ErrCircuitPrefix + reason),
	}
	_ = ic.Send(sourceID, wire.NewCircuitEnvelope(reply))
}

// ErrCircuitPrefix marks a CircuitMessage.Body as a CircuitError reply
// rather than application payload, so a receiving handler can
// distinguish the two without a dedicated wire tag.
const ErrCircuitPrefix = "\x00circuit-error\x00"

var (
	// ErrUnknownRecipient is returned when the routing table has no entry
	// for (circuit_id, service_id).
	ErrUnknownRecipient = errors.New("interconnect: unknown recipient service")
	// ErrPeerUnreachable is returned when a node has no bound connection.
	ErrPeerUnreachable = errors.New("interconnect: peer unreachable")
)

var _ HeartbeatObserver = (*connmgr.Manager)(nil)
