package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's debug level. Per-command events are logged at
// this level so they stay quiet unless a logger is built to accept it.
const TraceLevel = zapcore.DebugLevel - 1

// NewCommandMonitor returns a driver command monitor that logs every command
// attempt, success and failure to logger at TraceLevel. Events are also
// forwarded to next when it is not nil.
func NewCommandMonitor(logger *zap.Logger, next *event.CommandMonitor) *event.CommandMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("command")

	return &event.CommandMonitor{
		Started: func(ctx context.Context, evt *event.CommandStartedEvent) {
			if ce := logger.Check(TraceLevel, "command started"); ce != nil {
				ce.Write(
					zap.String("connection_id", evt.ConnectionID),
					zap.Int64("request_id", evt.RequestID),
					zap.String("command", evt.CommandName),
					zap.String("database", evt.DatabaseName),
					zap.String("payload", rawText(evt.Command)),
				)
			}
			if next != nil && next.Started != nil {
				next.Started(ctx, evt)
			}
		},
		Succeeded: func(ctx context.Context, evt *event.CommandSucceededEvent) {
			if ce := logger.Check(TraceLevel, "command succeeded"); ce != nil {
				ce.Write(
					zap.String("connection_id", evt.ConnectionID),
					zap.Int64("request_id", evt.RequestID),
					zap.String("command", evt.CommandName),
					zap.Duration("duration", evt.Duration),
					zap.String("payload", rawText(evt.Reply)),
				)
			}
			if next != nil && next.Succeeded != nil {
				next.Succeeded(ctx, evt)
			}
		},
		Failed: func(ctx context.Context, evt *event.CommandFailedEvent) {
			if ce := logger.Check(TraceLevel, "command failed"); ce != nil {
				ce.Write(
					zap.String("connection_id", evt.ConnectionID),
					zap.Int64("request_id", evt.RequestID),
					zap.String("command", evt.CommandName),
					zap.Duration("duration", evt.Duration),
					zap.String("failure", evt.Failure),
				)
			}
			if next != nil && next.Failed != nil {
				next.Failed(ctx, evt)
			}
		},
	}
}

// rawText renders a command or reply as relaxed extended JSON.
func rawText(raw bson.Raw) string {
	if len(raw) == 0 {
		return ""
	}
	b, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return raw.String()
	}
	return string(b)
}
