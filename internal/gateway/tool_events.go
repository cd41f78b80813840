package gateway

import (
	"context"

	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/pkg/models"
)

// sqlToolEventAdapter bridges the runtime's tool-event persistence hook to
// the SQL-backed audit store, translating between the runtime's message
// vocabulary and the store's row shapes.
type sqlToolEventAdapter struct {
	store *sessions.SQLToolEventStore
}

func (a *sqlToolEventAdapter) AddToolCall(ctx context.Context, sessionID, messageID string, call *models.ToolCall) error {
	if call == nil {
		return nil
	}
	return a.store.AddToolCall(ctx, sessionID, messageID, &sessions.ToolCall{
		ID:        call.ID,
		SessionID: sessionID,
		MessageID: messageID,
		ToolName:  call.Name,
		InputJSON: call.Input,
	})
}

func (a *sqlToolEventAdapter) AddToolResult(ctx context.Context, sessionID, messageID string, call *models.ToolCall, result *models.ToolResult) error {
	if result == nil {
		return nil
	}
	callID := result.ToolCallID
	if callID == "" && call != nil {
		callID = call.ID
	}
	return a.store.AddToolResult(ctx, sessionID, messageID, callID, &sessions.ToolResult{
		SessionID:  sessionID,
		MessageID:  messageID,
		ToolCallID: callID,
		IsError:    result.IsError,
		Content:    result.Content,
	})
}
