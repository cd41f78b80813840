package providers

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/pkg/models"
)

// MalformedToolCallError reports a tool call whose JSON arguments did not
// reassemble into a complete, valid document by the end of the stream.
// OpenAI-style providers deliver arguments as string fragments across SSE
// frames; only a fully reassembled, valid payload may be surfaced as a tool
// call, so a truncated stream ends in this error instead.
type MalformedToolCallError struct {
	Provider string
	CallID   string
	ToolName string
}

func (e *MalformedToolCallError) Error() string {
	return fmt.Sprintf("%s: malformed tool call %s (%s): arguments are not complete valid JSON", e.Provider, e.CallID, e.ToolName)
}

// flushAccumulatedToolCalls validates each accumulated tool call and emits it
// on chunks in index order. Calls still missing an id or name are skipped
// (the provider never finished announcing them); a call whose reassembled
// arguments are not valid JSON produces a MalformedToolCallError.
func flushAccumulatedToolCalls(providerName string, toolCalls map[int]*models.ToolCall, chunks chan<- *agent.CompletionChunk) error {
	indexes := make([]int, 0, len(toolCalls))
	for index := range toolCalls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	for _, index := range indexes {
		tc := toolCalls[index]
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		if len(tc.Input) == 0 {
			tc.Input = json.RawMessage("{}")
		}
		if !json.Valid(tc.Input) {
			return &MalformedToolCallError{Provider: providerName, CallID: tc.ID, ToolName: tc.Name}
		}
		chunks <- &agent.CompletionChunk{ToolCall: tc}
	}
	return nil
}
