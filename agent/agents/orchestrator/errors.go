package orchestrator

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	nodex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/nodes"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
)

var (
	ErrInvalidMessage  = nodex.ErrInvalidMessage
	ErrInvalidCustomer = nodex.ErrInvalidCustomer
)

// UnrecoverableError is returned by Submit when retries and fallbacks are
// exhausted. The conversation keeps the full error log of the run.
type UnrecoverableError struct {
	Stage        contractx.Stage
	Reason       string
	Envelope     contractx.Envelope
	Conversation *statex.Conversation

	cause error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("%v at %s: %s", contractx.ErrUnrecoverable, e.Stage, e.Reason)
}

func (e *UnrecoverableError) Is(target error) bool {
	return target == contractx.ErrUnrecoverable
}

func (e *UnrecoverableError) Unwrap() error {
	return e.cause
}
