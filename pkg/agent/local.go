package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukex/stepflow/pkg/protocol"
)

// RespondFunc produces the result of a local agent run.
type RespondFunc func(ctx context.Context, request protocol.AgentRequest) (any, error)

// LocalExecutor runs agents in-process. Without a RespondFunc it echoes the
// request back as the result.
type LocalExecutor struct {
	Respond RespondFunc
}

func NewLocalExecutor(respond RespondFunc) *LocalExecutor {
	return &LocalExecutor{Respond: respond}
}

func (l *LocalExecutor) Execute(ctx context.Context, request protocol.AgentRequest) (*protocol.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		result any
		err    error
	)

	if l.Respond != nil {
		result, err = l.Respond(ctx, request)
		if err != nil {
			return nil, err
		}
	} else {
		result = map[string]any{
			"agent_id":     request.AgentID,
			"instruction":  request.Instruction,
			"auto_approve": request.AutoApprove,
		}
	}

	return &protocol.AgentResponse{
		ExecutionID: uuid.NewString(),
		Result:      result,
		Status:      "completed",
	}, nil
}
