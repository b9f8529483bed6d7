package bridge

import (
	"encoding/json"
	"fmt"
)

// Status is the uniform outcome marker carried by every result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Envelope is one inbound request from the host.
type Envelope struct {
	MessageID string          `json:"messageId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Result is what gets delivered back for an Envelope.
//
// Status/Message/Stack/Data are the uniform part. Fields holds the
// action-specific keys that are flattened next to them on the wire, e.g.
// {"status":"success","hash":"..."}.
type Result struct {
	Status  Status
	Message string
	Stack   string
	Data    any
	Fields  map[string]any
}

// Success builds a success result with an optional data payload.
func Success(data any) Result {
	return Result{Status: StatusSuccess, Data: data}
}

// SuccessMessage builds a success result with a human readable message.
func SuccessMessage(msg string, data any) Result {
	return Result{Status: StatusSuccess, Message: msg, Data: data}
}

// Failure builds a handler-level error result. Handlers return it with a
// nil error when they still want to hand data back (e.g. fallback values).
func Failure(msg string, data any) Result {
	return Result{Status: StatusError, Message: msg, Data: data}
}

// Failuref is Failure with formatting and no data.
func Failuref(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// FailureFrom builds an error result from err, keeping data and any trace
// the error carries.
func FailureFrom(err error, data any) Result {
	res := errorResult(err)
	res.Data = data
	return res
}

// With returns a copy of r with a top-level field set.
func (r Result) With(key string, value any) Result {
	fields := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[k] = v
	}
	fields[key] = value
	r.Fields = fields
	return r
}

// Field returns a top-level action-specific field.
func (r Result) Field(key string) any {
	return r.Fields[key]
}

// OK reports whether the result carries a success status.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["status"] = r.Status
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Stack != "" {
		out["stack"] = r.Stack
	}
	if r.Data != nil {
		out["data"] = r.Data
	}
	return json.Marshal(out)
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Result{}
	for key, value := range raw {
		var err error
		switch key {
		case "status":
			err = json.Unmarshal(value, &r.Status)
		case "message":
			err = json.Unmarshal(value, &r.Message)
		case "stack":
			err = json.Unmarshal(value, &r.Stack)
		case "data":
			var data any
			err = json.Unmarshal(value, &data)
			r.Data = data
		default:
			var field any
			err = json.Unmarshal(value, &field)
			if r.Fields == nil {
				r.Fields = make(map[string]any)
			}
			r.Fields[key] = field
		}
		if err != nil {
			return fmt.Errorf("decode result field %q: %w", key, err)
		}
	}
	return nil
}
