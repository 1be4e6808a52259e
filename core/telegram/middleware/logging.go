package middleware

import (
	"context"
	"strings"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/fieldops/reportbot/core/logger"
)

const ctxKey = "reportbot.ctx"

// StoreContext attaches a request context to the telebot context for
// downstream handlers.
func StoreContext(c tele.Context, ctx context.Context) {
	c.Set(ctxKey, ctx)
}

// ContextFrom retrieves the request context stored by LoggerMiddleware,
// falling back to context.Background.
func ContextFrom(c tele.Context) context.Context {
	if ctx, ok := c.Get(ctxKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

// LoggerMiddleware builds the request id, threads it through a context stored
// on the telebot context, and logs one receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		chatID, userID := int64(0), int64(0)
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		if user := c.Sender(); user != nil {
			userID = user.ID
		}

		rid := logger.BuildRID(upd.ID, chatID, userID)
		ctx := logger.WithRID(context.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.Component("tg"))
		StoreContext(c, ctx)

		attrs := []slog.Attr{
			slog.String("rid", rid),
			slog.Int("update_id", upd.ID),
			slog.Int64("user_id", userID),
			slog.String("kind", updateKind(upd)),
		}
		if t := c.Text(); t != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
		}
		logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)

		return next(c)
	}
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil && upd.Message.Photo != nil:
		return "photo"
	case upd.Message != nil && upd.Message.Location != nil:
		return "location"
	case upd.Message != nil:
		return "message"
	default:
		return "other"
	}
}

// ParseCallback splits a telebot callback into its key and payload parts.
func ParseCallback(cb *tele.Callback) (key, payload string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	parts := strings.SplitN(raw, "|", 2)
	key = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		payload = parts[1]
	}
	return key, payload
}
