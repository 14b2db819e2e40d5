package botapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the decoded response wrapper shared by every method.
type Envelope struct {
	OK          bool
	Result      []byte
	ErrorCode   int
	Description string
	RetryAfter  time.Duration
}

// Codec turns method payloads into bytes and response bodies into typed results.
type Codec interface {
	Encode(m Method) ([]byte, error)
	DecodeResponse(body []byte) (Envelope, error)
	DecodeUpdates(result []byte) ([]Update, error)
	DecodeBool(result []byte) (bool, error)
}

// JSONCodec speaks the {"ok", "result", "error_code", "description"} envelope.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

type jsonEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

func (JSONCodec) Encode(m Method) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil method", ErrEncode)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, m.MethodName(), err)
	}
	return payload, nil
}

func (JSONCodec) DecodeResponse(body []byte) (Envelope, error) {
	if len(body) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty response body", ErrDecode)
	}
	var env jsonEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}
	out := Envelope{
		OK:          env.OK,
		Result:      env.Result,
		ErrorCode:   env.ErrorCode,
		Description: env.Description,
	}
	if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
		out.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
	}
	return out, nil
}

func (JSONCodec) DecodeUpdates(result []byte) ([]Update, error) {
	if len(result) == 0 {
		return []Update{}, nil
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("%w: updates: %v", ErrDecode, err)
	}
	if updates == nil {
		updates = []Update{}
	}
	return updates, nil
}

func (JSONCodec) DecodeBool(result []byte) (bool, error) {
	if len(result) == 0 {
		return false, fmt.Errorf("%w: missing result", ErrDecode)
	}
	var v bool
	if err := json.Unmarshal(result, &v); err != nil {
		return false, fmt.Errorf("%w: bool result: %v", ErrDecode, err)
	}
	return v, nil
}
