package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mustRaw(t *testing.T, doc any) bson.Raw {
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestCommandMonitorLogsAtTraceLevel(t *testing.T) {
	core, logs := observer.New(TraceLevel)
	monitor := NewCommandMonitor(zap.New(core), nil)
	ctx := context.Background()

	monitor.Started(ctx, &event.CommandStartedEvent{
		Command:      mustRaw(t, bson.D{{Key: "find", Value: "user"}}),
		DatabaseName: "test",
		CommandName:  "find",
		RequestID:    7,
		ConnectionID: "localhost:27017[-3]",
	})
	monitor.Succeeded(ctx, &event.CommandSucceededEvent{
		CommandFinishedEvent: event.CommandFinishedEvent{
			CommandName:  "find",
			RequestID:    7,
			ConnectionID: "localhost:27017[-3]",
			Duration:     time.Millisecond,
		},
		Reply: mustRaw(t, bson.D{{Key: "ok", Value: 1}}),
	})
	monitor.Failed(ctx, &event.CommandFailedEvent{
		CommandFinishedEvent: event.CommandFinishedEvent{
			CommandName:  "insert",
			RequestID:    8,
			ConnectionID: "localhost:27017[-3]",
		},
		Failure: "E11000 duplicate key error",
	})

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.Equal(t, TraceLevel, e.Level)
		require.Equal(t, "command", e.LoggerName)
		require.Equal(t, "localhost:27017[-3]", e.ContextMap()["connection_id"])
	}

	started := entries[0].ContextMap()
	require.Equal(t, "command started", entries[0].Message)
	require.EqualValues(t, 7, started["request_id"])
	require.JSONEq(t, `{"find":"user"}`, started["payload"].(string))

	require.Equal(t, "command succeeded", entries[1].Message)
	require.JSONEq(t, `{"ok":1}`, entries[1].ContextMap()["payload"].(string))

	require.Equal(t, "command failed", entries[2].Message)
	require.Equal(t, "E11000 duplicate key error", entries[2].ContextMap()["failure"])
}

func TestCommandMonitorQuietAboveTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	monitor := NewCommandMonitor(zap.New(core), nil)

	monitor.Started(context.Background(), &event.CommandStartedEvent{CommandName: "ping"})
	require.Zero(t, logs.Len())
}

func TestCommandMonitorForwards(t *testing.T) {
	var started, succeeded, failed int
	next := &event.CommandMonitor{
		Started:   func(context.Context, *event.CommandStartedEvent) { started++ },
		Succeeded: func(context.Context, *event.CommandSucceededEvent) { succeeded++ },
		Failed:    func(context.Context, *event.CommandFailedEvent) { failed++ },
	}
	monitor := NewCommandMonitor(nil, next)
	ctx := context.Background()

	monitor.Started(ctx, &event.CommandStartedEvent{})
	monitor.Succeeded(ctx, &event.CommandSucceededEvent{})
	monitor.Failed(ctx, &event.CommandFailedEvent{})
	require.Equal(t, 1, started)
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)

	// A monitor with only some hooks set is fine too.
	partial := NewCommandMonitor(nil, &event.CommandMonitor{})
	partial.Failed(ctx, &event.CommandFailedEvent{})
}
