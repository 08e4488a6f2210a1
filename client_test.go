package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

const unreachableURI = "mongodb://127.0.0.1:1/?connect=direct"

// attachDriver hands c a driver client for a host nobody listens on. The
// driver connects lazily, so this succeeds without a server.
func attachDriver(t *testing.T, c *Client) *mongo.Client {
	t.Helper()
	d, err := mongo.Connect(context.Background(), options.Client().ApplyURI(unreachableURI))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Disconnect(context.Background()) })

	require.True(t, c.connected.CompareAndSwap(false, true))
	c.driver.Store(d)
	return d
}

func TestNewClientDoesNotConnect(t *testing.T) {
	client := NewClient("mongodb://localhost:27017", "test")
	require.Nil(t, client.Driver())
	require.NotNil(t, client.Runner())

	ctx := context.Background()
	ok, err := client.IsConnected(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	require.False(t, ok)

	_, err = client.StartSession()
	require.ErrorIs(t, err, ErrNotConnected)

	require.ErrorIs(t, client.Disconnect(ctx), ErrNotConnected)
	require.ErrorIs(t, client.Disconnect(ctx, true), ErrNotConnected)
}

func TestClientBeforeConnect(t *testing.T) {
	client := NewClient(unreachableURI, "test")
	ctx := context.Background()

	db := client.Database()
	require.Equal(t, "test", db.Name())
	require.Nil(t, db.Database)
	require.Equal(t, "orders", client.Database("orders").Name())

	called := false
	err := client.Txn(ctx, func(txn *Txn) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNotConnected)

	err = db.Txn(ctx, func(txn *Txn) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNotConnected)
	require.False(t, called)

	coll := db.Collection("user")
	require.Equal(t, "user", coll.Name())
	require.Nil(t, coll.Raw())
	_, err = coll.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = coll.Count(ctx, nil)
	require.ErrorIs(t, err, ErrNotConnected)

	type Order struct {
		ID  string `bson:"_id"`
		Ref string `bson:"ref" db:"index"`
	}
	require.ErrorIs(t, db.Unmarshal("o1", &Order{}), ErrNotConnected)
	require.ErrorIs(t, db.EnsureIndexes(ctx, &Order{}), ErrNotConnected)

	require.NoError(t, db.Close())
}

func TestDisconnectReleasesHandle(t *testing.T) {
	client := NewClient(unreachableURI, "test", WithClientOptions(func(c *ClientOptions) {
		c.SetServerSelectionTimeout(200 * time.Millisecond)
	}))
	attachDriver(t, client)
	ctx := context.Background()

	db := client.Database()
	require.NotNil(t, db.Database)

	require.NoError(t, client.Disconnect(ctx))
	require.Nil(t, client.Driver())

	ok, err := client.IsConnected(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	require.False(t, ok)
	_, err = client.StartSession()
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, client.Disconnect(ctx), ErrNotConnected)

	// Closing the database again after the client went away is fine.
	require.NoError(t, db.Close())

	if testing.Short() {
		return
	}
	// The handle is gone, so a new Connect dials again instead of refusing.
	err = client.Connect(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyConnected)
}

func TestForceDisconnectReleasesHandle(t *testing.T) {
	client := NewClient(unreachableURI, "test")
	attachDriver(t, client)

	require.NoError(t, client.Disconnect(context.Background(), true))
	require.Nil(t, client.Driver())
	require.False(t, client.connected.Load())
}

func TestConcurrentUseWhileConnecting(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for server selection")
	}

	client := NewClient(unreachableURI, "test", WithClientOptions(func(c *ClientOptions) {
		c.SetServerSelectionTimeout(200 * time.Millisecond)
	}))
	ctx := context.Background()

	var g errgroup.Group
	g.Go(func() error {
		_ = client.Connect(ctx)
		return nil
	})
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				_, _ = client.IsConnected(ctx)
				_, _ = client.StartSession()
				_ = client.Database()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Nil(t, client.Driver())
}

func TestNewClientForcesCommandMonitoring(t *testing.T) {
	var forwarded int
	userMonitor := &event.CommandMonitor{
		Started: func(context.Context, *event.CommandStartedEvent) { forwarded++ },
	}

	core, logs := observer.New(TraceLevel)
	client := NewClient("mongodb://localhost:27017", "test",
		WithLogger(zap.New(core)),
		WithClientOptions(func(c *ClientOptions) {
			c.SetMonitor(userMonitor)
			c.SetMaxPoolSize(7)
		}),
	)

	require.NotNil(t, client.opts.Monitor)
	require.NotSame(t, userMonitor, client.opts.Monitor)
	require.EqualValues(t, 7, *client.opts.MaxPoolSize)

	client.opts.Monitor.Started(context.Background(), &event.CommandStartedEvent{CommandName: "ping"})
	require.Equal(t, 1, forwarded)
	require.Equal(t, 1, logs.FilterMessage("command started").Len())
}

func TestWithLoggerIgnoresNil(t *testing.T) {
	client := NewClient("mongodb://localhost:27017", "test", WithLogger(nil))
	require.NotNil(t, client.Logger())
}

func TestConnectUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for server selection")
	}

	client := NewClient(unreachableURI, "test", WithClientOptions(func(c *ClientOptions) {
		c.SetServerSelectionTimeout(200 * time.Millisecond)
	}))
	err := client.Connect(context.Background())
	require.Error(t, err)
	require.Nil(t, client.Driver())

	// A failed attempt can be retried.
	err = client.Connect(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAlreadyConnected)
}

func TestParseTLSConfigRejectsGarbage(t *testing.T) {
	_, err := ParseTLSConfig([]byte("not a pem"))
	require.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "fallback", firstNonEmpty(nil, "fallback"))
	require.Equal(t, "fallback", firstNonEmpty([]string{""}, "fallback"))
	require.Equal(t, "orders", firstNonEmpty([]string{"", "orders"}, "fallback"))
}
