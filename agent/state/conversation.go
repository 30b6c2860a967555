package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

var (
	ErrNilConversation = errors.New("conversation is nil")
	ErrInvalidRunID    = errors.New("run id is empty")
)

// Conversation is the mutable record threaded through one pipeline run.
// It is owned by a single dispatch loop and is not safe for concurrent use.
type Conversation struct {
	RunID      string `json:"run_id"`
	CustomerID string `json:"customer_id,omitempty"`

	EntryStage   contractx.Stage `json:"entry_stage"`
	CurrentStage contractx.Stage `json:"current_stage"`

	History     []contractx.Envelope                   `json:"history"`
	Results     map[contractx.Stage]contractx.Envelope `json:"results"`
	Errors      []FailureRecord                        `json:"errors"`
	RetryCounts map[contractx.Stage]int                `json:"retry_counts"`
	Exhausted   map[contractx.Stage]bool               `json:"exhausted,omitempty"`
	Steps       int                                    `json:"steps"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FailureRecord struct {
	Stage     contractx.Stage `json:"stage"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewConversation(runID, customerID string, entry contractx.Stage, now time.Time) *Conversation {
	return &Conversation{
		RunID:        runID,
		CustomerID:   customerID,
		EntryStage:   entry,
		CurrentStage: entry,
		History:      make([]contractx.Envelope, 0, 8),
		Results:      make(map[contractx.Stage]contractx.Envelope, 4),
		Errors:       make([]FailureRecord, 0, 2),
		RetryCounts:  make(map[contractx.Stage]int, 4),
		Exhausted:    make(map[contractx.Stage]bool, 2),
		StartedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// EnsureMaps initialises maps left nil by a decoder.
func (c *Conversation) EnsureMaps() {
	if c.Results == nil {
		c.Results = make(map[contractx.Stage]contractx.Envelope, 4)
	}
	if c.RetryCounts == nil {
		c.RetryCounts = make(map[contractx.Stage]int, 4)
	}
	if c.Exhausted == nil {
		c.Exhausted = make(map[contractx.Stage]bool, 2)
	}
}

func (c *Conversation) SetStage(stage contractx.Stage, now time.Time) {
	c.CurrentStage = stage
	c.Touch(now)
}

func (c *Conversation) AppendHistory(env contractx.Envelope) {
	c.History = append(c.History, env)
}

// RecordResult stores the envelope a stage produced and appends it to history.
func (c *Conversation) RecordResult(stage contractx.Stage, env contractx.Envelope, now time.Time) {
	c.EnsureMaps()
	c.Results[stage] = env
	c.AppendHistory(env)
	c.Touch(now)
}

func (c *Conversation) RecordFailure(stage contractx.Stage, err error, now time.Time) FailureRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	rec := FailureRecord{
		Stage:     stage,
		Error:     msg,
		Timestamp: now.UTC(),
	}
	c.Errors = append(c.Errors, rec)
	c.Touch(now)
	return rec
}

func (c *Conversation) RetryCount(stage contractx.Stage) int {
	if c == nil || c.RetryCounts == nil {
		return 0
	}
	return c.RetryCounts[stage]
}

func (c *Conversation) IncrementRetry(stage contractx.Stage) int {
	c.EnsureMaps()
	c.RetryCounts[stage]++
	return c.RetryCounts[stage]
}

func (c *Conversation) ResetRetry(stage contractx.Stage) {
	c.EnsureMaps()
	c.RetryCounts[stage] = 0
}

// MarkExhausted records that stage used up its retry budget in this run.
func (c *Conversation) MarkExhausted(stage contractx.Stage) {
	c.EnsureMaps()
	c.Exhausted[stage] = true
}

func (c *Conversation) ClearExhausted(stage contractx.Stage) {
	if c.Exhausted != nil {
		delete(c.Exhausted, stage)
	}
}

func (c *Conversation) IsExhausted(stage contractx.Stage) bool {
	return c != nil && c.Exhausted[stage]
}

// FailuresFor counts the error records logged against stage.
func (c *Conversation) FailuresFor(stage contractx.Stage) int {
	n := 0
	for _, rec := range c.Errors {
		if rec.Stage == stage {
			n++
		}
	}
	return n
}

func (c *Conversation) Validate() error {
	if c == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(c.RunID) == "" {
		return ErrInvalidRunID
	}
	if !c.CurrentStage.Valid() {
		return fmt.Errorf("%w: current_stage=%d", contractx.ErrUnknownStage, uint8(c.CurrentStage))
	}
	for stage, n := range c.RetryCounts {
		if n < 0 {
			return fmt.Errorf("%w: negative retry count for %s", contractx.ErrValidation, stage)
		}
	}
	return nil
}
