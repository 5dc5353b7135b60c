package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/modelrelay/modelrelay/internal/sigcache"
	"github.com/modelrelay/modelrelay/internal/utils"
	"github.com/modelrelay/modelrelay/providers/ai"
)

// StreamMessage streams a generateContent call over SSE. Each SSE data
// payload is a generateContentResponse chunk whose parts are converted to
// provider events and reduced to canonical events by the accumulator.
func (p *Provider) StreamMessage(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.annotateSpan(ctx, request, true)

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, request.Model)
	geminiRequest := requestToGemini(request, p.signatures)

	httpResponse, err := utils.DoPostStream(
		ctx,
		p.client,
		url,
		geminiRequest,
		utils.HeaderOption{Key: "x-goog-api-key", Value: p.apiKey},
	)
	if err != nil {
		return nil, err
	}

	scanner := utils.NewSSEScanner(httpResponse.Body)
	accumulator := ai.NewAccumulator(request.Model,
		ai.WithSignatureCache(p.signatures, sigcache.FamilyGemini))

	iterator := func(yield func(ai.StreamEvent, error) bool) {
		defer utils.CloseWithLog(httpResponse.Body)

		if !yield(accumulator.Start(), nil) {
			return
		}

		for {
			if ctx.Err() != nil {
				yield(ai.StreamEvent{}, ctx.Err())
				return
			}

			payload, scanErr := scanner.Next()
			if scanErr == io.EOF {
				break
			}
			if scanErr != nil {
				failStream(yield, fmt.Errorf("SSE read error: %w", scanErr))
				return
			}

			var chunk generateContentResponse
			if parseErr := json.Unmarshal([]byte(payload), &chunk); parseErr != nil {
				failStream(yield, fmt.Errorf("failed to parse Gemini streaming chunk: %w", parseErr))
				return
			}
			for _, event := range chunkToEvents(&chunk) {
				for _, canonical := range accumulator.Push(event) {
					if !yield(canonical, nil) {
						return
					}
				}
				if event.Kind == ai.EventError {
					yield(ai.StreamEvent{}, fmt.Errorf("gemini: %s", event.Err.Message))
					return
				}
			}
		}

		for _, canonical := range accumulator.Finish() {
			if !yield(canonical, nil) {
				return
			}
		}
	}

	return ai.NewMessageStream(iterator), nil
}

// failStream surfaces a mid-stream failure on both channels: a canonical
// error event for consumers watching the event sequence, then the terminal
// iterator error.
func failStream(yield func(ai.StreamEvent, error) bool, err error) {
	if !yield(ai.StreamEvent{
		Type:  ai.StreamError,
		Error: &ai.ErrorDetail{Type: "api_error", Message: err.Error()},
	}, nil) {
		return
	}
	yield(ai.StreamEvent{}, err)
}
