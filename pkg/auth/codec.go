package auth

import (
	"fmt"

	"github.com/Cargill/splinter-sub011/pkg/wire"
)

// EncodeMessage serializes a Message to the opaque body carried by
// wire.AuthorizationMessage.
func EncodeMessage(m Message) ([]byte, error) {
	return wire.EncodeValue(m)
}

// DecodeMessage parses bytes produced by EncodeMessage back into a
// Message, validating that exactly the field matching Kind is populated.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := wire.DecodeValue(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch m.Kind {
	case MessageTrustRequest:
		if m.TrustRequest == nil {
			return Message{}, fmt.Errorf("%w: kind TrustRequest without body", ErrMalformedMessage)
		}
	case MessageNonce:
		if m.Nonce == nil {
			return Message{}, fmt.Errorf("%w: kind Nonce without body", ErrMalformedMessage)
		}
	case MessageSubmitRequest:
		if m.SubmitRequest == nil {
			return Message{}, fmt.Errorf("%w: kind SubmitRequest without body", ErrMalformedMessage)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, m.Kind)
	}
	return m, nil
}

// ErrMalformedMessage is returned by DecodeMessage on ill-formed input.
var ErrMalformedMessage = fmt.Errorf("malformed authorization message")
