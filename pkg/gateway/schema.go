package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSchema is wrapped by every structural validation failure of a provider payload.
var ErrSchema = errors.New("response does not match schema")

type queriesPayload struct {
	Queries []string `json:"queries"`
}

type decisionPayload struct {
	Decision *bool `json:"decision"`
}

// decodeQueries validates {"queries": [string, ...]} and returns the trimmed,
// non-empty entries in order.
func decodeQueries(raw string) ([]string, error) {
	var p queriesPayload
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.Queries))
	for _, q := range p.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: queries is empty", ErrSchema)
	}
	return out, nil
}

// decodeDecision validates {"decision": bool}. The field is required.
func decodeDecision(raw string) (bool, error) {
	var p decisionPayload
	if err := decodeStrict(raw, &p); err != nil {
		return false, err
	}
	if p.Decision == nil {
		return false, fmt.Errorf("%w: decision is missing", ErrSchema)
	}
	return *p.Decision, nil
}

func decodeStrict(raw string, v any) error {
	body := bytes.TrimSpace([]byte(stripCodeFence(raw)))
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrSchema)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrSchema)
	}
	return nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON mode output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
