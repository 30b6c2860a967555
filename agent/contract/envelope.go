package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the advisory lifetime of an envelope, in seconds.
const DefaultTTL = 3600

// Envelope is the unit of communication between the orchestrator and the agents.
// Treat it as a value: the With* helpers return modified copies.
type Envelope struct {
	Kind     string
	Payload  map[string]any
	Metadata map[string]any
	TTL      int
}

type wireEnvelope struct {
	MessageType *string        `json:"message_type"`
	Content     map[string]any `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TTL         *int           `json:"ttl,omitempty"`
}

func NewEnvelope(kind string, payload map[string]any, metadata map[string]any) Envelope {
	return Envelope{
		Kind:     kind,
		Payload:  cloneMap(payload),
		Metadata: cloneMap(metadata),
		TTL:      DefaultTTL,
	}
}

// ErrorEnvelope reports a domain condition (not found, missing field) as a
// normal result so that routing handles it instead of the retry path.
func ErrorEnvelope(message string, metadata map[string]any) Envelope {
	return NewEnvelope(KindError, map[string]any{"error": message}, metadata)
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Kind) == "" {
		return fmt.Errorf("%w: message_type is empty", ErrInvalidEnvelope)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: content is missing", ErrInvalidEnvelope)
	}
	return nil
}

func (e Envelope) IsError() bool {
	return e.Kind == KindError
}

func (e Envelope) Clone() Envelope {
	return Envelope{
		Kind:     e.Kind,
		Payload:  cloneMap(e.Payload),
		Metadata: cloneMap(e.Metadata),
		TTL:      e.TTL,
	}
}

// WithMetadata returns a copy of e with the given metadata keys set.
func (e Envelope) WithMetadata(kv map[string]any) Envelope {
	out := e.Clone()
	for k, v := range kv {
		out.Metadata[k] = cloneValue(v)
	}
	return out
}

// WithPayload returns a copy of e with the given payload keys set.
func (e Envelope) WithPayload(kv map[string]any) Envelope {
	out := e.Clone()
	for k, v := range kv {
		out.Payload[k] = cloneValue(v)
	}
	return out
}

func (e Envelope) PayloadString(key string) string {
	v, _ := e.Payload[key].(string)
	return strings.TrimSpace(v)
}

// PayloadInt reads an integer payload field. JSON numbers arrive as float64
// and numeric strings are accepted; fractional values are not.
func (e Envelope) PayloadInt(key string) (int64, bool) {
	return AsInt64(e.Payload[key])
}

func (e Envelope) PayloadFloat(key string) (float64, bool) {
	return AsFloat64(e.Payload[key])
}

func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func AsFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (e Envelope) MetadataString(key string) string {
	v, _ := e.Metadata[key].(string)
	return strings.TrimSpace(v)
}

func (e Envelope) CustomerID() string {
	return e.MetadataString(MetaCustomerID)
}

// Expired reports whether the envelope outlived its TTL given when it was emitted.
func (e Envelope) Expired(emittedAt, now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(emittedAt) > time.Duration(e.TTL)*time.Second
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	kind := e.Kind
	ttl := e.TTL
	content := e.Payload
	if content == nil {
		content = map[string]any{}
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return json.Marshal(struct {
		MessageType string         `json:"message_type"`
		Content     map[string]any `json:"content"`
		Metadata    map[string]any `json:"metadata"`
		TTL         int            `json:"ttl"`
	}{kind, content, metadata, ttl})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if w.MessageType == nil || strings.TrimSpace(*w.MessageType) == "" {
		return fmt.Errorf("%w: message_type is required", ErrInvalidEnvelope)
	}
	if w.Content == nil {
		return fmt.Errorf("%w: content is required", ErrInvalidEnvelope)
	}

	out := Envelope{
		Kind:     *w.MessageType,
		Payload:  w.Content,
		Metadata: w.Metadata,
		TTL:      DefaultTTL,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if w.TTL != nil {
		out.TTL = *w.TTL
	}
	*e = out
	return nil
}

// Encode renders the wire form used on pub/sub channels and webhooks.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i] = cloneMap(t[i])
		}
		return out
	default:
		return v
	}
}
