package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelrelay/modelrelay/core/client"
	"github.com/modelrelay/modelrelay/internal/utils"
	"github.com/modelrelay/modelrelay/providers/ai"
)

// LogLevel controls how much detail the logging middleware emits per request.
type LogLevel int

const (
	// LogLevelMinimal logs only the model name, total duration, and token
	// counts.
	LogLevelMinimal LogLevel = iota

	// LogLevelStandard logs everything in Minimal plus message counts and the
	// stop reason. Recommended default.
	LogLevelStandard

	// LogLevelVerbose logs everything in Standard plus the assembled response
	// text, truncated.
	//
	// WARNING: verbose output includes raw response text, which may contain
	// sensitive user data. Intended for local debugging only.
	LogLevelVerbose
)

const truncateLen = 500

// NewLoggingMiddleware creates a middleware entry that emits structured slog
// entries before and after every upstream call. For streams the completion
// entry is emitted once the iterator finishes.
//
// The logger must not be nil; pass slog.Default() when no custom logger is
// configured.
func NewLoggingMiddleware(logger *slog.Logger, level LogLevel) client.MiddlewareConfig {
	return client.MiddlewareConfig{
		Send:   buildSendLogging(logger, level),
		Stream: buildStreamLogging(logger, level),
	}
}

func buildSendLogging(logger *slog.Logger, level LogLevel) client.Middleware {
	return func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessagesResponse, error) {
			logger.InfoContext(ctx, "upstream send", requestAttrs(request, level)...)

			start := time.Now()
			response, err := next(ctx, request)
			elapsed := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "upstream send failed",
					slog.String("model", request.Model),
					slog.Duration("duration", elapsed),
					slog.String("error", err.Error()),
				)
				return nil, err
			}

			logger.InfoContext(ctx, "upstream send completed", responseAttrs(response, elapsed, level)...)
			return response, nil
		}
	}
}

func buildStreamLogging(logger *slog.Logger, level LogLevel) client.StreamMiddleware {
	return func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request *ai.MessagesRequest) (*ai.MessageStream, error) {
			logger.InfoContext(ctx, "upstream stream", requestAttrs(request, level)...)

			start := time.Now()
			stream, err := next(ctx, request)
			if err != nil {
				logger.ErrorContext(ctx, "upstream stream failed",
					slog.String("model", request.Model),
					slog.Duration("duration", time.Since(start)),
					slog.String("error", err.Error()),
				)
				return nil, err
			}

			return wrapStreamWithLogging(ctx, stream, logger, request.Model, level, start), nil
		}
	}
}

// wrapStreamWithLogging returns a stream whose iterator logs a completion
// entry when the stream ends, or an error entry on failure.
func wrapStreamWithLogging(
	ctx context.Context,
	stream *ai.MessageStream,
	logger *slog.Logger,
	model string,
	level LogLevel,
	start time.Time,
) *ai.MessageStream {
	return ai.NewMessageStream(func(yield func(ai.StreamEvent, error) bool) {
		var stopReason ai.StopReason
		var usage *ai.Usage

		for event, err := range stream.Iter() {
			if err != nil {
				logger.ErrorContext(ctx, "upstream stream failed",
					slog.String("model", model),
					slog.Duration("duration", time.Since(start)),
					slog.String("error", err.Error()),
				)
				yield(event, err)
				return
			}

			if event.Type == ai.StreamMessageDelta {
				if event.Delta != nil {
					stopReason = event.Delta.StopReason
				}
				if event.Usage != nil {
					usage = event.Usage
				}
			}

			if !yield(event, nil) {
				logger.InfoContext(ctx, "upstream stream abandoned",
					slog.String("model", model),
					slog.Duration("duration", time.Since(start)),
				)
				return
			}
		}

		attrs := []any{
			slog.String("model", model),
			slog.Duration("duration", time.Since(start)),
		}
		if level >= LogLevelStandard && stopReason != "" {
			attrs = append(attrs, slog.String("stop_reason", string(stopReason)))
		}
		if usage != nil {
			attrs = append(attrs,
				slog.Int("input_tokens", usage.InputTokens),
				slog.Int("output_tokens", usage.OutputTokens),
			)
		}
		logger.InfoContext(ctx, "upstream stream completed", attrs...)
	})
}

func requestAttrs(request *ai.MessagesRequest, level LogLevel) []any {
	attrs := []any{
		slog.String("model", request.Model),
	}

	if level >= LogLevelStandard {
		attrs = append(attrs,
			slog.Int("message_count", len(request.Messages)),
			slog.Int("tool_count", len(request.Tools)),
		)
	}

	if level >= LogLevelVerbose && len(request.Messages) > 0 {
		last := request.Messages[len(request.Messages)-1]
		attrs = append(attrs,
			slog.String("last_message_role", string(last.Role)),
			slog.String("last_message_content", utils.TruncateString(messageText(last), truncateLen)),
		)
	}

	return attrs
}

func responseAttrs(response *ai.MessagesResponse, elapsed time.Duration, level LogLevel) []any {
	attrs := []any{
		slog.String("model", response.Model),
		slog.Duration("duration", elapsed),
		slog.Int("input_tokens", response.Usage.InputTokens),
		slog.Int("output_tokens", response.Usage.OutputTokens),
	}

	if level >= LogLevelStandard && response.StopReason != "" {
		attrs = append(attrs, slog.String("stop_reason", string(response.StopReason)))
	}

	if level >= LogLevelVerbose {
		attrs = append(attrs,
			slog.String("response_content", utils.TruncateString(response.TextContent(), truncateLen)),
		)
		if calls := response.ToolUseBlocks(); len(calls) > 0 {
			attrs = append(attrs,
				slog.String("tool_calls", utils.TruncateString(utils.JSONToString(calls), truncateLen)),
			)
		}
	}

	return attrs
}

func messageText(message ai.Message) string {
	if message.Content.IsText() {
		return message.Content.Text
	}
	text := ""
	for _, block := range message.Content.AsBlocks() {
		if block.Type == ai.BlockText {
			text += block.Text
		}
	}
	return text
}
