// https://www.mongodb.com/docs/drivers/go/current/quick-start/

package mongo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const closeTimeout = 10 * time.Second

// Client owns one driver client, and with it one connection pool. The
// driver client exists from a successful Connect until Disconnect.
type Client struct {
	driver atomic.Pointer[mongo.Client]

	dbName         string
	opts           *ClientOptions
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	runner         *TxRunner
	connected      atomic.Bool
}

// NewClient prepares a client for uri with dbName as the default database.
// It does no I/O; call Connect before use.
func NewClient(uri string, dbName string, opts ...Option) *Client {
	c := &Client{
		dbName: dbName,
		opts:   options.Client().ApplyURI(uri),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Command monitoring is always on; a monitor set by the caller still
	// receives every event.
	c.opts.SetMonitor(NewCommandMonitor(c.logger, c.opts.Monitor))

	c.runner = NewTxRunner(c, c.logger, c.tracerProvider)
	return c
}

// Open connects a client and returns its default database.
func Open(ctx context.Context, uri string, dbName string, opts ...Option) (*Database, error) {
	client := NewClient(uri, dbName, opts...)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client.Database(), nil
}

// Connect dials the deployment and verifies it with a ping to the primary.
func (c *Client) Connect(ctx context.Context) error {
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	client, err := mongo.Connect(ctx, c.opts)
	if err != nil {
		c.connected.Store(false)
		return errors.Wrap(err, "connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		c.connected.Store(false)
		return errors.Wrap(err, "ping")
	}

	c.driver.Store(client)
	c.logger.Debug("connected", zap.Strings("hosts", c.opts.Hosts), zap.String("database", c.dbName))
	return nil
}

// Driver returns the underlying driver client, or nil when the client is not
// connected.
func (c *Client) Driver() *mongo.Client {
	return c.driver.Load()
}

// IsConnected makes a round trip to the primary. It reports true when the
// server answers; a client that was never connected or has been torn down
// yields an error, not false.
func (c *Client) IsConnected(ctx context.Context) (bool, error) {
	client := c.driver.Load()
	if client == nil {
		return false, ErrNotConnected
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return false, err
	}
	return true, nil
}

// Disconnect closes the connection pool, waiting for in-use connections
// until ctx is done. With force set, in-use connections are closed at once
// and in-flight operations fail. Once disconnected the client can Connect
// again.
func (c *Client) Disconnect(ctx context.Context, force ...bool) error {
	client := c.driver.Load()
	if client == nil {
		return ErrNotConnected
	}

	forced := len(force) > 0 && force[0]
	if forced {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		cancel()
	}

	err := client.Disconnect(ctx)
	if forced && errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return errors.Wrap(err, "disconnect")
	}
	if c.driver.CompareAndSwap(client, nil) {
		c.connected.Store(false)
	}
	c.logger.Debug("disconnected", zap.Bool("force", forced))
	return nil
}

func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	return c.Disconnect(ctx)
}

// Database returns the named database, or the default one when name is
// absent or empty. A database taken before Connect has no driver handle:
// its transactions and collection operations fail with ErrNotConnected.
func (c *Client) Database(name ...string) *Database {
	return c.DatabaseWithOptions(firstNonEmpty(name, c.dbName))
}

func (c *Client) DatabaseWithOptions(name string, opts ...*options.DatabaseOptions) *Database {
	if name == "" {
		name = c.dbName
	}
	db := &Database{client: c, name: name}
	if client := c.driver.Load(); client != nil {
		db.Database = client.Database(name, opts...)
	}
	return db
}

// StartSession starts a server session. It is the starter used by Runner.
func (c *Client) StartSession(opts ...*options.SessionOptions) (Session, error) {
	client := c.driver.Load()
	if client == nil {
		return nil, ErrNotConnected
	}
	sess, err := client.StartSession(opts...)
	if err != nil {
		return nil, err
	}
	return newDriverSession(sess), nil
}

// Runner returns the transaction runner bound to this client.
func (c *Client) Runner() *TxRunner {
	return c.runner
}

// Txn runs fn in a transaction on the default database.
func (c *Client) Txn(ctx context.Context, fn func(txn *Txn) error, opts ...*options.TransactionOptions) error {
	if _, joined := SessionFromContext(ctx); !joined && c.driver.Load() == nil {
		return ErrNotConnected
	}
	return c.Database().Txn(ctx, fn, opts...)
}

// Logger returns the logger events are sent to.
func (c *Client) Logger() *zap.Logger {
	return c.logger
}

func ParseTLSConfig(pemFile []byte) (*tls.Config, error) {
	tlsConfig := new(tls.Config)
	tlsConfig.RootCAs = x509.NewCertPool()
	ok := tlsConfig.RootCAs.AppendCertsFromPEM(pemFile)
	if !ok {
		return nil, errors.New("failed parsing pem file")
	}
	return tlsConfig, nil
}

func firstNonEmpty(values []string, fallback string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return fallback
}
