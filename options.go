// Package mongo provides client options configuration.
package mongo

import (
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ClientOptions is an alias for the official MongoDB client options.
// It provides configuration options for MongoDB client connections.
//
// Example:
//
//	client := mongo.NewClient(uri, "myapp", mongo.WithClientOptions(func(c *mongo.ClientOptions) {
//	    c.SetMaxPoolSize(100)
//	    c.SetMinPoolSize(10)
//	    c.SetMaxConnIdleTime(30 * time.Second)
//	}))
type ClientOptions = options.ClientOptions

// Option configures a Client.
type Option func(c *Client)

// WithLogger sets the sink for lifecycle and command events.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracerProvider sets where transaction spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// WithClientOptions adjusts the driver options after the URI is applied.
func WithClientOptions(fns ...func(c *ClientOptions)) Option {
	return func(c *Client) {
		for _, fn := range fns {
			fn(c.opts)
		}
	}
}
