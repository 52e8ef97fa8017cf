package echo

import (
	"errors"

	"github.com/Cargill/splinter-sub011/pkg/handlerpool"
	"github.com/Cargill/splinter-sub011/pkg/interconnect"
	"github.com/Cargill/splinter-sub011/pkg/logging"
	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// ErrUnknownMessageKind is returned for a Message with an unrecognized Kind.
var ErrUnknownMessageKind = errors.New("echo: unknown message kind")

// MessageHandler replies to a Request with a Response carrying the same
// text and correlation id, and logs a received Response. It holds no
// state of its own — one is constructed per inbound message, per
// handlerpool's contract (§4.10 "new handler is constructed per
// invocation; handlers are short-lived and stateless").
type MessageHandler struct {
	log logging.Logger
}

// Handle implements handlerpool.MessageHandler.
func (h *MessageHandler) Handle(msg interconnect.CircuitInbound, reply handlerpool.Replier) error {
	var decoded Message
	if err := wire.DecodeValue(msg.Body, &decoded); err != nil {
		return err
	}

	switch decoded.Kind {
	case MessageRequest:
		h.log.Debugf("echo: %s <- %s: request %q (id=%s)", msg.RecipientService, msg.SenderService, decoded.Request.Text, decoded.Request.CorrelationId)
		body, err := wire.EncodeValue(Message{
			Kind: MessageResponse,
			Response: &Response{
				Text:          decoded.Request.Text,
				CorrelationId: decoded.Request.CorrelationId,
			},
		})
		if err != nil {
			return err
		}
		return reply.SendCircuitMessage(msg.CircuitId, msg.SenderService, msg.RecipientService, decoded.Request.CorrelationId, body)
	case MessageResponse:
		h.log.Debugf("echo: %s <- %s: response %q (id=%s)", msg.RecipientService, msg.SenderService, decoded.Response.Text, decoded.Response.CorrelationId)
		return nil
	default:
		return ErrUnknownMessageKind
	}
}

// Factory constructs a fresh MessageHandler per invocation.
type Factory struct {
	Log logging.Logger
}

// New implements handlerpool.MessageHandlerFactory.
func (f *Factory) New() handlerpool.MessageHandler {
	return &MessageHandler{log: f.Log}
}
