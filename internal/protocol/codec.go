package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

var (
	ErrBadPayload   = errors.New("bad payload")
	ErrUnknownEvent = errors.New("unknown event")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeError keeps the event type when the envelope itself was readable,
// so the caller can echo it back in call_error.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one inbound frame into its event variant and validates it.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrBadPayload, err)}
	}

	var ev Event
	var err error
	switch env.Type {
	case TypeJoinWorkspace:
		ev, err = decodeJoinWorkspace(env.Payload)
	case TypeGetActiveCalls:
		ev, err = decodeInto[GetActiveCalls](env.Payload)
	case TypeCreateCall:
		ev, err = decodeInto[CreateCall](env.Payload)
	case TypeJoinCall:
		ev, err = decodeInto[JoinCall](env.Payload)
	case TypeSharePeerID:
		ev, err = decodeInto[SharePeerID](env.Payload)
	case TypeLeaveCall:
		ev, err = decodeInto[LeaveCall](env.Payload)
	case TypeGetCallStatus:
		ev, err = decodeInto[GetCallStatus](env.Payload)
	case TypeUserOnline:
		ev, err = decodeInto[UserOnline](env.Payload)
	case TypeUserOffline:
		ev, err = decodeInto[UserOffline](env.Payload)
	case TypeGetPresence:
		ev, err = decodeInto[GetPresence](env.Payload)
	case TypePing:
		ev = Ping{}
	default:
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownEvent}
	}
	if err != nil {
		return nil, &DecodeError{Type: env.Type, Err: err}
	}
	return ev, nil
}

func decodeInto[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing payload", ErrBadPayload)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}

// join_workspace carries the bare slug; an object form is accepted too.
func decodeJoinWorkspace(raw json.RawMessage) (Event, error) {
	var slug string
	if err := json.Unmarshal(raw, &slug); err == nil {
		v := JoinWorkspace{WorkspaceSlug: slug}
		if err := validate.Struct(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return v, nil
	}
	return decodeInto[JoinWorkspace](raw)
}

// Encode wraps an outbound payload in the envelope.
func Encode(typ string, payload any) (core.Frame, error) {
	b, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: typ, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return core.Frame(b), nil
}
