package routing

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
)

var errUpstream = errors.New("upstream timeout")

func newTestConversation() *statex.Conversation {
	return statex.NewConversation("run-1", "cust-1", contractx.StageDialog, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func mustController(t testing.TB, table *Table, maxRetries int) *Controller {
	t.Helper()
	c, err := NewController(NewPolicy(table), WithMaxRetries(maxRetries))
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestControllerInventoryRetriesThenFallsBack(t *testing.T) {
	t.Parallel()

	c := mustController(t, DefaultTable(), 3)
	conv := newTestConversation()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		d, err := c.Next(conv, contractx.StageInventory, Failure(errUpstream), now)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if d.Action != ActionRetry || d.Next != contractx.StageInventory {
			t.Fatalf("failure %d: decision = %+v, want retry at inventory", i, d)
		}
		if d.Attempt != i {
			t.Fatalf("failure %d: attempt = %d", i, d.Attempt)
		}
	}
	if got := conv.RetryCount(contractx.StageInventory); got != 3 {
		t.Fatalf("retry count = %d, want 3", got)
	}

	d, err := c.Next(conv, contractx.StageInventory, Failure(errUpstream), now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if d.Action != ActionFallback || d.Next != contractx.StageDialog {
		t.Fatalf("4th failure decision = %+v, want fallback to dialog", d)
	}
	if got := conv.FailuresFor(contractx.StageInventory); got != 4 {
		t.Fatalf("error records for inventory = %d, want 4", got)
	}
	if got := conv.RetryCount(contractx.StageInventory); got != 0 {
		t.Fatalf("retry count after fallback = %d, want 0", got)
	}
	if !conv.IsExhausted(contractx.StageInventory) {
		t.Fatal("inventory should be marked exhausted")
	}
}

func TestControllerZeroRetriesFallsBackImmediately(t *testing.T) {
	t.Parallel()

	c := mustController(t, DefaultTable(), 0)
	d, err := c.Next(newTestConversation(), contractx.StageTransaction, Failure(errUpstream), time.Now())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if d.Action != ActionFallback || d.Next != contractx.StageDialog {
		t.Fatalf("decision = %+v, want fallback to dialog", d)
	}
}

func TestControllerMutualFallbackIsUnrecoverable(t *testing.T) {
	t.Parallel()

	table := MustNewTable(TableSpec{
		Fallbacks: map[contractx.Stage]contractx.Stage{
			contractx.StageDialog:    contractx.StageInventory,
			contractx.StageInventory: contractx.StageDialog,
		},
	})
	c := mustController(t, table, 1)
	conv := newTestConversation()
	now := time.Now()

	stage := contractx.StageDialog
	for step := 0; step < 10; step++ {
		d, err := c.Next(conv, stage, Failure(errUpstream), now)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if d.Action == ActionUnrecoverable {
			if d.From != contractx.StageInventory {
				t.Fatalf("unrecoverable at %s, want inventory", d.From)
			}
			if len(conv.Errors) != 4 {
				t.Fatalf("error log length = %d, want 4", len(conv.Errors))
			}
			return
		}
		stage = d.Next
	}
	t.Fatal("mutual fallback never became unrecoverable")
}

func TestControllerSelfFallbackIsUnrecoverable(t *testing.T) {
	t.Parallel()

	table := MustNewTable(TableSpec{
		Fallbacks: map[contractx.Stage]contractx.Stage{contractx.StageDialog: contractx.StageDialog},
	})
	c := mustController(t, table, 0)
	d, err := c.Next(newTestConversation(), contractx.StageDialog, Failure(errUpstream), time.Now())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if d.Action != ActionUnrecoverable {
		t.Fatalf("decision = %+v, want unrecoverable", d)
	}
}

func TestControllerSuccessClearsExhaustedMark(t *testing.T) {
	t.Parallel()

	c := mustController(t, DefaultTable(), 0)
	conv := newTestConversation()
	now := time.Now()

	if _, err := c.Next(conv, contractx.StageInventory, Failure(errUpstream), now); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !conv.IsExhausted(contractx.StageInventory) {
		t.Fatal("inventory should be exhausted")
	}
	ok := contractx.NewEnvelope(contractx.KindInventoryResponse, map[string]any{"availability": false}, nil)
	d, err := c.Next(conv, contractx.StageInventory, Success(ok), now)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if d.Action != ActionAdvance || d.Next != contractx.StageDialog {
		t.Fatalf("decision = %+v", d)
	}
	if conv.IsExhausted(contractx.StageInventory) {
		t.Fatal("success should clear the exhausted mark")
	}
}

func TestControllerSuccessTerminates(t *testing.T) {
	t.Parallel()

	c := mustController(t, nil, 3)
	env := contractx.NewEnvelope(contractx.KindDialogResponse, map[string]any{"response": "hello"}, nil)
	d, err := c.Next(newTestConversation(), contractx.StageDialog, Success(env), time.Now())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if d.Action != ActionTerminate || !d.Next.IsTerminal() || d.Category != contractx.CategoryGeneral {
		t.Fatalf("decision = %+v", d)
	}
}

func TestControllerRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewController(nil, WithMaxRetries(-1)); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("NewController(-1) error = %v", err)
	}
	c := mustController(t, nil, 3)
	if _, err := c.Next(nil, contractx.StageDialog, Failure(errUpstream), time.Now()); !errors.Is(err, statex.ErrNilConversation) {
		t.Fatalf("nil conversation error = %v", err)
	}
	if _, err := c.Next(newTestConversation(), contractx.StageTerminal, Failure(errUpstream), time.Now()); !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("terminal stage error = %v", err)
	}
}

func stageGen() *rapid.Generator[contractx.Stage] {
	return rapid.SampledFrom(contractx.Stages())
}

func TestPropertyRetriesExactlyMaxTimes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRetries := rapid.IntRange(0, 8).Draw(t, "max_retries")
		stage := stageGen().Draw(t, "stage")
		c, err := NewController(NewPolicy(nil), WithMaxRetries(maxRetries))
		if err != nil {
			t.Fatalf("NewController() error = %v", err)
		}
		conv := newTestConversation()

		retries := 0
		for {
			d, err := c.Next(conv, stage, Failure(errUpstream), time.Now())
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if d.Action != ActionRetry {
				break
			}
			retries++
			if retries > maxRetries {
				t.Fatalf("retried %d times with max %d", retries, maxRetries)
			}
		}
		if retries != maxRetries {
			t.Fatalf("retried %d times, want %d", retries, maxRetries)
		}
	})
}

func TestPropertyUnmappedStageFallsBackToDefault(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stage := stageGen().Draw(t, "stage")
		if stage == contractx.StageDialog {
			stage = contractx.StageVision
		}
		c, err := NewController(NewPolicy(MustNewTable(TableSpec{})), WithMaxRetries(rapid.IntRange(0, 4).Draw(t, "max_retries")))
		if err != nil {
			t.Fatalf("NewController() error = %v", err)
		}
		conv := newTestConversation()
		for {
			d, err := c.Next(conv, stage, Failure(errUpstream), time.Now())
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if d.Action == ActionRetry {
				continue
			}
			if d.Action != ActionFallback || d.Next != contractx.StageDialog {
				t.Fatalf("decision = %+v, want fallback to dialog", d)
			}
			return
		}
	})
}

func TestPropertySuccessKeepsRetryCounts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stage := stageGen().Draw(t, "stage")
		prior := rapid.IntRange(0, 2).Draw(t, "prior_failures")
		c, err := NewController(NewPolicy(nil), WithMaxRetries(3))
		if err != nil {
			t.Fatalf("NewController() error = %v", err)
		}
		conv := newTestConversation()
		for i := 0; i < prior; i++ {
			if _, err := c.Next(conv, stage, Failure(errUpstream), time.Now()); err != nil {
				t.Fatalf("Next() error = %v", err)
			}
		}

		payload := rapid.SampledFrom([]map[string]any{
			{"response": "hi"},
			{"purchase_intent": true},
			{"product_query": true},
			{"availability": false},
			{"transaction_status": "completed"},
		}).Draw(t, "payload")
		before := conv.RetryCount(stage)
		if _, err := c.Next(conv, stage, Success(contractx.NewEnvelope(contractx.KindDialogResponse, payload, nil)), time.Now()); err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if after := conv.RetryCount(stage); after != before {
			t.Fatalf("retry count changed on success: %d -> %d", before, after)
		}
	})
}

func TestPropertyFailingLoopsTerminate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fallbacks := make(map[contractx.Stage]contractx.Stage)
		for _, s := range contractx.Stages() {
			fallbacks[s] = stageGen().Draw(t, "fallback_"+s.String())
		}
		maxRetries := rapid.IntRange(0, 3).Draw(t, "max_retries")
		c, err := NewController(NewPolicy(MustNewTable(TableSpec{Fallbacks: fallbacks})), WithMaxRetries(maxRetries))
		if err != nil {
			t.Fatalf("NewController() error = %v", err)
		}
		conv := newTestConversation()
		stage := stageGen().Draw(t, "entry")

		// Every stage can be exhausted at most once before the guard trips.
		limit := (maxRetries + 1) * (len(contractx.Stages()) + 1)
		for step := 0; step < limit; step++ {
			d, err := c.Next(conv, stage, Failure(errUpstream), time.Now())
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if d.Action == ActionUnrecoverable {
				return
			}
			stage = d.Next
		}
		t.Fatalf("no unrecoverable decision within %d failures", limit)
	})
}
