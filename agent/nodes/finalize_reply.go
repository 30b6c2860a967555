package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// replyKeys are the payload fields that carry customer-facing text, by preference.
var replyKeys = []string{"response", "message", "description", "error"}

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := ReplyText(in.Result)
	if reply == "" && in.Failure == nil {
		return GraphOutput{}, fmt.Errorf("%w: %s produced no reply text", contractx.ErrValidation, in.Result.Kind)
	}
	return GraphOutput{
		RunID:        in.RunID,
		Reply:        reply,
		Envelope:     in.Result,
		Conversation: in.Conversation,
		Failure:      in.Failure,
	}, nil
}

func ReplyText(env contractx.Envelope) string {
	for _, key := range replyKeys {
		if v := strings.TrimSpace(env.PayloadString(key)); v != "" {
			return v
		}
	}
	return ""
}
