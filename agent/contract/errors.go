package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrSetup              = errors.New("agent setup failed")
	ErrUnknownStage       = errors.New("unknown stage")
	ErrAgentMissing       = errors.New("no agent registered for stage")
	ErrInvalidEnvelope    = errors.New("invalid envelope")
	ErrUnrecoverable      = errors.New("pipeline failed unrecoverably")
	ErrStepBudgetExceeded = errors.New("pipeline step budget exceeded")
)
