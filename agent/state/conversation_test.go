package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

func TestConversationRecordsResultsAndHistory(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	conv := NewConversation("run", "cust", contractx.StageDialog, now)

	first := contractx.NewEnvelope(contractx.KindDialogResponse, map[string]any{"response": "a"}, nil)
	second := contractx.NewEnvelope(contractx.KindDialogResponse, map[string]any{"response": "b"}, nil)
	conv.RecordResult(contractx.StageDialog, first, now)
	conv.RecordResult(contractx.StageDialog, second, now.Add(time.Second))

	if len(conv.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(conv.History))
	}
	if got := conv.Results[contractx.StageDialog].PayloadString("response"); got != "b" {
		t.Fatalf("result was not overwritten, got %q", got)
	}
	if got := conv.History[1].PayloadString("response"); got != "b" {
		t.Fatalf("history is not in order, last = %q", got)
	}
	if !conv.UpdatedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("UpdatedAt = %v", conv.UpdatedAt)
	}
}

func TestConversationRetryBookkeeping(t *testing.T) {
	t.Parallel()

	conv := NewConversation("run", "cust", contractx.StageDialog, time.Now())
	conv.IncrementRetry(contractx.StageInventory)
	conv.IncrementRetry(contractx.StageInventory)
	if got := conv.RetryCount(contractx.StageInventory); got != 2 {
		t.Fatalf("RetryCount() = %d, want 2", got)
	}
	if got := conv.RetryCount(contractx.StageVision); got != 0 {
		t.Fatalf("untouched stage RetryCount() = %d", got)
	}
	conv.ResetRetry(contractx.StageInventory)
	if got := conv.RetryCount(contractx.StageInventory); got != 0 {
		t.Fatalf("RetryCount() after reset = %d", got)
	}

	conv.MarkExhausted(contractx.StageVision)
	if !conv.IsExhausted(contractx.StageVision) {
		t.Fatal("vision should be exhausted")
	}
	conv.ClearExhausted(contractx.StageVision)
	if conv.IsExhausted(contractx.StageVision) {
		t.Fatal("vision exhaustion should be cleared")
	}
}

func TestConversationFailures(t *testing.T) {
	t.Parallel()

	conv := NewConversation("run", "cust", contractx.StageDialog, time.Now())
	conv.RecordFailure(contractx.StageInventory, errors.New("timeout"), time.Now())
	conv.RecordFailure(contractx.StageInventory, nil, time.Now())
	conv.RecordFailure(contractx.StageVision, errors.New("oom"), time.Now())

	if got := conv.FailuresFor(contractx.StageInventory); got != 2 {
		t.Fatalf("FailuresFor(inventory) = %d, want 2", got)
	}
	if conv.Errors[1].Error != "unknown error" {
		t.Fatalf("nil error description = %q", conv.Errors[1].Error)
	}
}

func TestConversationJSONUsesStageNames(t *testing.T) {
	t.Parallel()

	conv := NewConversation("run", "cust", contractx.StageVision, time.Now())
	conv.IncrementRetry(contractx.StageVision)

	raw, err := json.Marshal(conv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["current_stage"] != "vision" {
		t.Fatalf("current_stage = %v", wire["current_stage"])
	}
	counts, _ := wire["retry_counts"].(map[string]any)
	if counts["vision"] != float64(1) {
		t.Fatalf("retry_counts = %#v", wire["retry_counts"])
	}
}

func TestConversationValidate(t *testing.T) {
	t.Parallel()

	var nilConv *Conversation
	if err := nilConv.Validate(); !errors.Is(err, ErrNilConversation) {
		t.Fatalf("Validate(nil) = %v", err)
	}
	conv := NewConversation("run", "cust", contractx.StageDialog, time.Now())
	conv.CurrentStage = contractx.Stage(77)
	if err := conv.Validate(); !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("Validate() = %v, want ErrUnknownStage", err)
	}
}
