package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// PublishResult fans the final envelope out on channel when a publisher is
// set. Subscribers are best effort; a publish failure does not fail the reply.
func PublishResult(
	ctx context.Context,
	in *GraphState,
	pub contractx.Publisher,
	channel string,
	logger zerolog.Logger,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if pub == nil || channel == "" {
		return in, nil
	}
	if err := pub.Publish(ctx, channel, in.Result); err != nil {
		logger.Warn().Err(err).Str("run_id", in.RunID).Str("channel", channel).Msg("publish result failed")
	}
	return in, nil
}
