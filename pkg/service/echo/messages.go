// Package echo is the supplemented example service type: a peer that,
// once prepared, periodically sends an echo request to its configured
// peers and replies to any request it receives in turn. It is wired
// against pkg/handlerpool (inbound messages) and pkg/lifecycle (the
// Prepare/Finalize/Retire/Purge steps), giving both a concrete,
// runnable service type to exercise.
package echo

// MessageKind tags which field of Message is populated.
type MessageKind int

const (
	MessageRequest MessageKind = iota
	MessageResponse
)

// Request asks the peer to echo message back, tagged with a correlation
// id the requester can match the reply against.
type Request struct {
	Text          string
	CorrelationId string
}

// Response is the peer's echo of a Request.
type Response struct {
	Text          string
	CorrelationId string
}

// Message is the envelope carried inside an interconnect circuit
// message's opaque body once decoded (wire.EncodeValue/DecodeValue,
// msgpack — the same codec every other tagged-union message type in
// this tree uses).
type Message struct {
	Kind     MessageKind
	Request  *Request
	Response *Response
}
