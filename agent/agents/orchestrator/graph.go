package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	nodex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/nodes"
)

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now, o.newRunID)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("dispatch",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Dispatch(ctx, in, o.dispatch)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node dispatch: %w", err)
	}

	if err := graph.AddLambdaNode("save_transcript",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveTranscript(ctx, in, o.transcripts, o.logger)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_transcript: %w", err)
	}

	if err := graph.AddLambdaNode("publish_result",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PublishResult(ctx, in, o.publisher, o.resultChannel, o.logger)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node publish_result: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "dispatch"},
		{"dispatch", "save_transcript"},
		{"save_transcript", "publish_result"},
		{"publish_result", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

// dispatch adapts Submit to the graph: an unrecoverable run becomes a result
// carrying the failure so the remaining nodes still run.
func (o *Orchestrator) dispatch(ctx context.Context, env contractx.Envelope, entry contractx.Stage) (nodex.DispatchResult, error) {
	res, err := o.Submit(ctx, env, entry)
	if err == nil {
		return nodex.DispatchResult{Envelope: res.Envelope, Conversation: res.Conversation}, nil
	}

	var uerr *UnrecoverableError
	if errors.As(err, &uerr) {
		return nodex.DispatchResult{
			Envelope:     uerr.Envelope,
			Conversation: uerr.Conversation,
			Failure:      uerr,
		}, nil
	}
	return nodex.DispatchResult{}, err
}
