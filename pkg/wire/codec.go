package wire

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// Encode serializes an Envelope to its wire representation. Encode/Decode
// form a bijection on well-formed input (§8 round-trip law).
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(nil)
	enc := codec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a wire representation back into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, err
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// EncodeValue msgpack-encodes any value, used for authorization
// sub-messages and admin payloads that are nested inside an Envelope body.
func EncodeValue(v interface{}) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	enc := codec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue msgpack-decodes bytes produced by EncodeValue into out.
func DecodeValue(data []byte, out interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	return dec.Decode(out)
}
