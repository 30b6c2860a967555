package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
)

// SaveTranscript persists the finished conversation. The transcript is
// diagnostics only, so a store failure is logged and the reply still goes out.
func SaveTranscript(
	ctx context.Context,
	in *GraphState,
	store statex.TranscriptStore,
	logger zerolog.Logger,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if store == nil || in.Conversation == nil {
		return in, nil
	}

	in.Conversation.Touch(in.Now)
	if err := in.Conversation.Validate(); err != nil {
		return nil, fmt.Errorf("transcript validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Conversation); err != nil {
		logger.Warn().Err(err).Str("run_id", in.RunID).Msg("save transcript failed")
	}
	return in, nil
}
