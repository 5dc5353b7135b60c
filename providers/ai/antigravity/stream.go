package antigravity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/modelrelay/modelrelay/internal/utils"
	"github.com/modelrelay/modelrelay/providers/ai"
)

// StreamMessage streams a chat call over NDJSON. Each line is dispatched by
// which keys it carries, and the accumulator separates inline thinking tags
// out of the content text.
func (p *Provider) StreamMessage(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	p.annotateSpan(ctx, request)

	url := fmt.Sprintf("%s/v1/chat", p.baseURL)
	antigravityRequest := requestToAntigravity(request, p.signatures)

	httpResponse, err := utils.DoPostStream(
		ctx,
		p.client,
		url,
		antigravityRequest,
		utils.HeaderOption{Key: "Authorization", Value: "Bearer " + token},
		utils.HeaderOption{Key: "Accept", Value: "application/x-ndjson"},
	)
	if err != nil {
		return nil, err
	}

	accumulator := ai.NewAccumulator(request.Model,
		ai.WithThinkingTags(thinkingOpenTag, thinkingCloseTag),
		ai.WithSignatureCache(p.signatures, modelFamily(request.Model)))

	iterator := func(yield func(ai.StreamEvent, error) bool) {
		defer utils.CloseWithLog(httpResponse.Body)

		if !yield(accumulator.Start(), nil) {
			return
		}

		emit := func(lines []string) (bool, error) {
			for _, line := range lines {
				events, parseErr := parseLine(line)
				if parseErr != nil {
					// Mirror the failure as a canonical error event before the
					// terminal error; upstream error lines get theirs from the
					// accumulator below.
					if !yield(ai.StreamEvent{
						Type:  ai.StreamError,
						Error: &ai.ErrorDetail{Type: "api_error", Message: parseErr.Error()},
					}, nil) {
						return false, nil
					}
					return false, parseErr
				}
				for _, event := range events {
					for _, canonical := range accumulator.Push(event) {
						if !yield(canonical, nil) {
							return false, nil
						}
					}
					if event.Kind == ai.EventError {
						return false, fmt.Errorf("antigravity: %s", event.Err.Message)
					}
				}
			}
			return true, nil
		}

		var buffer utils.LineBuffer
		chunk := make([]byte, 16*1024)
		for {
			if ctx.Err() != nil {
				yield(ai.StreamEvent{}, ctx.Err())
				return
			}

			n, readErr := httpResponse.Body.Read(chunk)
			if n > 0 {
				ok, emitErr := emit(buffer.Push(string(chunk[:n])))
				if emitErr != nil {
					yield(ai.StreamEvent{}, emitErr)
					return
				}
				if !ok {
					return
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				wrapped := fmt.Errorf("stream read error: %w", readErr)
				if yield(ai.StreamEvent{
					Type:  ai.StreamError,
					Error: &ai.ErrorDetail{Type: "api_error", Message: wrapped.Error()},
				}, nil) {
					yield(ai.StreamEvent{}, wrapped)
				}
				return
			}
		}

		if ok, emitErr := emit(buffer.Flush()); emitErr != nil {
			yield(ai.StreamEvent{}, emitErr)
			return
		} else if !ok {
			return
		}

		for _, canonical := range accumulator.Finish() {
			if !yield(canonical, nil) {
				return
			}
		}
	}

	return ai.NewMessageStream(iterator), nil
}

// parseLine converts one NDJSON line into provider events. Dispatch is by key
// presence, not prefix, since the upstream does not guarantee key order. A
// bracket-delimited array line carries one or more whole tool calls and
// yields a tool-start event per element.
func parseLine(line string) ([]ai.Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	if strings.HasPrefix(line, "[") {
		calls, err := utils.DecodeLenient[[]toolCallLine](line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tool-call array line: %w", err)
		}
		var events []ai.Event
		for _, call := range calls {
			events = append(events, toolStartEvents(call)...)
		}
		return events, nil
	}

	fields, err := utils.DecodeLenient[map[string]json.RawMessage](line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream line: %w", err)
	}

	// Informal line schema, checked in order of specificity: an error line
	// terminates, a name+id pair is a whole tool call, a bare input is an
	// argument fragment for the open call, then the scalar payloads.
	if raw, ok := fields["error"]; ok {
		detail, decodeErr := utils.DecodeLenient[errorLine](string(raw))
		if decodeErr != nil {
			detail = errorLine{Type: "api_error", Message: "unknown upstream error"}
		}
		return []ai.Event{{Kind: ai.EventError, Err: &ai.ErrorDetail{Type: detail.Type, Message: detail.Message}}}, nil
	}

	if _, hasName := fields["name"]; hasName {
		if _, hasID := fields["id"]; hasID {
			call, decodeErr := utils.DecodeLenient[toolCallLine](line)
			if decodeErr != nil {
				return nil, fmt.Errorf("failed to parse tool-call line: %w", decodeErr)
			}
			return toolStartEvents(call), nil
		}
	}

	if raw, ok := fields["input"]; ok {
		return []ai.Event{{Kind: ai.EventToolInput, Input: rawToString(raw)}}, nil
	}

	if raw, ok := fields["content"]; ok {
		return []ai.Event{{Kind: ai.EventContent, Text: rawToString(raw)}}, nil
	}

	if raw, ok := fields["signature"]; ok {
		event := ai.Event{Kind: ai.EventSignature, Signature: rawToString(raw)}
		if id, hasID := fields["id"]; hasID {
			event.ToolID = rawToString(id)
		}
		return []ai.Event{event}, nil
	}

	if raw, ok := fields["stop"]; ok {
		return []ai.Event{{Kind: ai.EventStop, StopReason: ai.StopReason(rawToString(raw))}}, nil
	}

	if raw, ok := fields["usage"]; ok {
		usage, decodeErr := utils.DecodeLenient[usageLine](string(raw))
		if decodeErr != nil {
			return nil, nil
		}
		return []ai.Event{{Kind: ai.EventUsage, Usage: &ai.Usage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		}}}, nil
	}

	if raw, ok := fields["contextUsage"]; ok {
		var pct float64
		if json.Unmarshal(raw, &pct) == nil {
			return []ai.Event{{Kind: ai.EventContextUsage, ContextPct: pct}}, nil
		}
		return nil, nil
	}

	// Unknown line shapes are skipped rather than failing the stream.
	return nil, nil
}

func toolStartEvents(call toolCallLine) []ai.Event {
	toolID := call.ID
	if toolID == "" {
		toolID = ai.NewToolUseID()
	}

	input := ""
	if len(call.Input) > 0 {
		// Pre-supplied input may be a JSON object (whole call) or a JSON
		// string holding a fragment of the argument text.
		input = rawToString(call.Input)
	}

	events := []ai.Event{{
		Kind:     ai.EventToolStart,
		ToolID:   toolID,
		ToolName: call.Name,
		Input:    input,
	}}
	if call.Signature != "" {
		events = append(events, ai.Event{Kind: ai.EventSignature, ToolID: toolID, Signature: call.Signature})
	}
	return events
}

// rawToString decodes a JSON string value, falling back to the raw bytes when
// the value is not a string.
func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
