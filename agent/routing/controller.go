package routing

import (
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
)

const DefaultMaxRetries = 3

type Action uint8

const (
	ActionAdvance Action = iota
	ActionTerminate
	ActionRetry
	ActionFallback
	ActionUnrecoverable
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionTerminate:
		return "terminate"
	case ActionRetry:
		return "retry"
	case ActionFallback:
		return "fallback"
	case ActionUnrecoverable:
		return "unrecoverable"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Decision is what the dispatch loop does after a stage finished.
type Decision struct {
	Action   Action
	From     contractx.Stage
	Next     contractx.Stage
	Category contractx.Category
	// Attempt is the retry counter of From after this decision.
	Attempt int
	Reason  string
}

// Controller wraps a Policy with bounded retries and fallback.
type Controller struct {
	policy     *Policy
	maxRetries int
}

type ControllerOption func(*Controller)

func WithMaxRetries(n int) ControllerOption {
	return func(c *Controller) { c.maxRetries = n }
}

func NewController(policy *Policy, opts ...ControllerOption) (*Controller, error) {
	if policy == nil {
		policy = NewPolicy(nil)
	}
	c := &Controller{policy: policy, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be >= 0, got %d", contractx.ErrValidation, c.maxRetries)
	}
	return c, nil
}

func (c *Controller) MaxRetries() int { return c.maxRetries }

// Next records outcome of stage in conv and returns what to do next.
// The returned error is reserved for programming errors such as an unknown stage.
func (c *Controller) Next(conv *statex.Conversation, stage contractx.Stage, outcome Outcome, now time.Time) (Decision, error) {
	if conv == nil {
		return Decision{}, statex.ErrNilConversation
	}
	if !isExecutable(stage) {
		return Decision{}, fmt.Errorf("%w: %s", contractx.ErrUnknownStage, stage)
	}

	if !outcome.Failed() {
		return c.onSuccess(conv, stage, outcome)
	}
	return c.onFailure(conv, stage, outcome, now)
}

func (c *Controller) onSuccess(conv *statex.Conversation, stage contractx.Stage, outcome Outcome) (Decision, error) {
	next, category, err := c.policy.Decide(stage, outcome)
	if err != nil {
		return Decision{}, err
	}
	conv.ClearExhausted(stage)

	d := Decision{
		Action:   ActionAdvance,
		From:     stage,
		Next:     next,
		Category: category,
		Attempt:  conv.RetryCount(stage),
	}
	if next.IsTerminal() {
		d.Action = ActionTerminate
	}
	return d, nil
}

func (c *Controller) onFailure(conv *statex.Conversation, stage contractx.Stage, outcome Outcome, now time.Time) (Decision, error) {
	conv.RecordFailure(stage, outcome.Err, now)

	if conv.RetryCount(stage) < c.maxRetries {
		attempt := conv.IncrementRetry(stage)
		return Decision{
			Action:  ActionRetry,
			From:    stage,
			Next:    stage,
			Attempt: attempt,
			Reason:  outcome.Err.Error(),
		}, nil
	}

	target, err := c.policy.Table().Fallback(stage)
	if err != nil {
		return Decision{}, err
	}
	conv.ResetRetry(stage)

	if target == stage || conv.IsExhausted(target) {
		conv.MarkExhausted(stage)
		return Decision{
			Action: ActionUnrecoverable,
			From:   stage,
			Next:   contractx.StageTerminal,
			Reason: fmt.Sprintf("%s exhausted %d retries and fallback %s is already exhausted: %v",
				stage, c.maxRetries, target, outcome.Err),
		}, nil
	}

	conv.MarkExhausted(stage)
	return Decision{
		Action: ActionFallback,
		From:   stage,
		Next:   target,
		Reason: outcome.Err.Error(),
	}, nil
}
