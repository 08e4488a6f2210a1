// Command mongoping checks that a MongoDB deployment is reachable and, with
// --txn, that it accepts a multi-document transaction.
//
// Settings come from MONGO_* environment variables, a .env file or a
// mongo.{yaml,json,toml} file; flags that are set explicitly win.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	mongo "github.com/liran/mongotx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mongoping:", err)
		os.Exit(1)
	}
}

func run() error {
	pflag.String("uri", "", "MongoDB connection string")
	pflag.String("database", "", "Default database")
	pflag.Bool("direct", false, "Connect to the URI host only")
	pflag.Duration("connect_timeout", 10*time.Second, "Connect and ping timeout")
	logLevel := pflag.String("log_level", "info", "trace, debug, info, warn or error")
	txn := pflag.Bool("txn", false, "Also run an insert and delete inside a transaction")
	force := pflag.Bool("force", false, "Close in-use connections when disconnecting")
	pflag.Parse()

	logger, err := buildLogger(*logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	v := viper.New()
	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	cfg, err := mongo.LoadConfig(v, logger)
	if err != nil {
		return err
	}

	client, err := mongo.NewClientFromConfig(cfg, mongo.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background(), *force); err != nil {
			logger.Warn("disconnect failed", zap.Error(err))
		}
	}()

	start := time.Now()
	if _, err := client.IsConnected(ctx); err != nil {
		return err
	}
	logger.Info("ping ok", zap.Duration("rtt", time.Since(start)), zap.String("database", cfg.Database))

	if !*txn {
		return nil
	}

	id := mongo.SequentialID()
	err = client.Txn(ctx, func(txn *mongo.Txn) error {
		coll := txn.Collection("mongoping")
		if _, err := coll.Insert(txn.Context(), mongo.Map().Set("_id", id).Set("at", time.Now())); err != nil {
			return err
		}
		return coll.Del(txn.Context(), id)
	})
	if err != nil {
		return err
	}
	logger.Info("transaction ok", zap.String("id", id))
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	level = strings.ToLower(level)
	if level == "trace" {
		cfg.Level = zap.NewAtomicLevelAt(mongo.TraceLevel)
		cfg.EncoderConfig.EncodeLevel = encodeLevel
		return cfg.Build()
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Errorf("invalid log level %q", level)
	}
	return cfg.Build()
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == mongo.TraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}
