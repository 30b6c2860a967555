package contract

import "context"

// Agent is the capability every pipeline stage exposes.
//
// Process reports expected domain conditions (missing fields, unknown entities)
// as an envelope of kind "error" and only returns an error when something
// unexpected happened, such as an unreachable model or data store.
type Agent interface {
	Initialize(ctx context.Context) error
	Process(ctx context.Context, env Envelope) (Envelope, error)
}

// HistoryStore keeps the recent chat turns of a customer across runs.
type HistoryStore interface {
	Recent(ctx context.Context, customerID string) ([]Turn, error)
	Append(ctx context.Context, customerID string, turns ...Turn) error
}

// Publisher fans envelopes out to a transport channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, env Envelope) error
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
