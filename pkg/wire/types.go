package wire

import "encoding/json"

// Envelope is the minimal shape every dispatcher request must satisfy.
// The action-specific schema re-validates the full payload.
type Envelope struct {
	Action string `json:"action"`
}

// Response is the dispatcher reply shape. Handler result fields are merged
// into the top level next to ok.
type Response struct {
	OK           bool           `json:"ok"`
	Error        string         `json:"error,omitempty"`
	TaintBlocked bool           `json:"taintBlocked,omitempty"`
	Fields       map[string]any `json:"-"`
}

// MarshalJSON flattens Fields into the response object.
func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["ok"] = r.OK
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.TaintBlocked {
		out["taintBlocked"] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the reserved keys back out of the object.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if ok, found := raw["ok"].(bool); found {
		r.OK = ok
	}
	if e, found := raw["error"].(string); found {
		r.Error = e
	}
	if tb, found := raw["taintBlocked"].(bool); found {
		r.TaintBlocked = tb
	}
	delete(raw, "ok")
	delete(raw, "error")
	delete(raw, "taintBlocked")
	r.Fields = raw
	return nil
}

// OK builds a success response with the given result fields.
func OKResponse(fields map[string]any) Response {
	return Response{OK: true, Fields: fields}
}

// ErrResponse builds a failure response.
func ErrResponse(msg string) Response {
	return Response{OK: false, Error: msg}
}
