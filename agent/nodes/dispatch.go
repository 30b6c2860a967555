package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
)

// DispatchResult is what a pipeline run hands back to the graph. An
// unrecoverable run is reported through Failure, not as an error, so that
// the transcript still gets saved.
type DispatchResult struct {
	Envelope     contractx.Envelope
	Conversation *statex.Conversation
	Failure      error
}

type DispatchFunc func(ctx context.Context, env contractx.Envelope, entry contractx.Stage) (DispatchResult, error)

func Dispatch(ctx context.Context, in *GraphState, dispatch DispatchFunc) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	res, err := dispatch(ctx, in.Input, in.Entry)
	if err != nil {
		return nil, err
	}
	in.Result = res.Envelope
	in.Conversation = res.Conversation
	in.Failure = res.Failure
	return in, nil
}
