package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"agntschat/internal/domain"
)

// ChatLogWriter persists chat exchanges.
type ChatLogWriter interface {
	RecordRequest(ctx context.Context, l domain.ChatRequestLog) error
	RecordResponse(ctx context.Context, l domain.ChatResponseLog) error
}

// SubscribeChatLog persists chat request and response events published on
// bus. A single subscription keeps a request ahead of its response. Failures
// are logged; a broken log store never fails a chat turn. The returned
// function unsubscribes.
func SubscribeChatLog(bus domain.EventBus, w ChatLogWriter, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		var err error
		switch e.Type {
		case domain.EventChatRequest:
			var l domain.ChatRequestLog
			if err = json.Unmarshal(e.Payload, &l); err == nil {
				err = w.RecordRequest(ctx, l)
			}
		case domain.EventChatResponse:
			var l domain.ChatResponseLog
			if err = json.Unmarshal(e.Payload, &l); err == nil {
				err = w.RecordResponse(ctx, l)
			}
		default:
			return
		}
		if err != nil {
			logger.Error("persist chat log",
				"event", string(e.Type),
				"run_id", e.RunID,
				"code", string(domain.ErrorCodeOf(err)),
				"error", err,
			)
		}
	})
}
