// Package mongo provides transaction management for MongoDB operations.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const tracerName = "github.com/liran/mongotx"

// TxRunner runs units of work inside transactions. The outermost call in a
// context starts a session and a transaction; calls nested under it join
// that transaction instead of opening their own.
type TxRunner struct {
	starter SessionStarter
	logger  *zap.Logger
	tracer  trace.Tracer
	seq     atomic.Int64
}

// NewTxRunner returns a runner that takes sessions from starter. A nil
// logger discards lifecycle events; a nil tp uses the global provider.
func NewTxRunner(starter SessionStarter, logger *zap.Logger, tp trace.TracerProvider) *TxRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TxRunner{
		starter: starter,
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
	}
}

// WithTransaction runs work inside a transaction and returns its result.
//
// When ctx already carries a session, work runs directly with that session:
// no session or transaction is started and nothing is committed or aborted
// here, the enclosing call owns the boundary. opts are ignored in that case.
//
// Otherwise a session is started, a transaction is opened with opts and work
// is called with a context carrying the session. A nil error from work
// commits; any other error aborts and is returned unchanged. Abort is not
// attempted when the commit itself fails. The session is ended on every
// path. If aborting or ending the session fails after an earlier failure,
// the earlier failure is returned inside a *TxnError.
//
// Transient errors are not retried.
func WithTransaction[T any](ctx context.Context, r *TxRunner, work func(ctx context.Context, sess Session) (T, error), opts ...*options.TransactionOptions) (T, error) {
	if sess, ok := SessionFromContext(ctx); ok {
		r.logger.Debug("joining transaction", zap.String("session_id", sess.ID()))
		trace.SpanFromContext(ctx).AddEvent("mongo.transaction.joined")
		return work(ctx, sess)
	}
	res, err := r.run(ctx, func(ctx context.Context, sess Session) (any, error) {
		return work(ctx, sess)
	}, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// Run is WithTransaction for work that produces no result.
func (r *TxRunner) Run(ctx context.Context, work func(ctx context.Context) error, opts ...*options.TransactionOptions) error {
	_, err := WithTransaction(ctx, r, func(ctx context.Context, _ Session) (struct{}, error) {
		return struct{}{}, work(ctx)
	}, opts...)
	return err
}

func (r *TxRunner) run(ctx context.Context, work func(ctx context.Context, sess Session) (any, error), opts []*options.TransactionOptions) (result any, err error) {
	ctx, span := r.tracer.Start(ctx, "mongo.transaction", trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	seq := r.seq.Inc()
	log := r.logger.With(zap.Int64("txn", seq))

	log.Debug("starting session")
	sess, err := r.starter.StartSession()
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("session_id", sess.ID()))
	span.SetAttributes(attribute.String("mongo.session_id", sess.ID()))

	// The session must outlive a cancelled ctx long enough to be released.
	release := context.WithoutCancel(ctx)
	var cleanup []error
	defer func() {
		log.Debug("end session")
		if endErr := sess.EndSession(release); endErr != nil {
			log.Warn("end session failed", zap.Error(endErr))
			cleanup = append(cleanup, endErr)
		}
		switch {
		case len(cleanup) == 0:
		case err == nil:
			// Only the release failed; it becomes the error.
			err, cleanup = cleanup[0], cleanup[1:]
			if len(cleanup) > 0 {
				err = &TxnError{Err: err, Cleanup: cleanup}
			}
		default:
			err = &TxnError{Err: err, Cleanup: cleanup}
		}
	}()

	ctx = ContextWithSession(ctx, sess)

	log.Debug("starting transaction")
	if err = sess.StartTransaction(opts...); err != nil {
		return nil, err
	}

	result, err = work(ctx, sess)
	if err != nil {
		log.Debug("rollback transaction", zap.Error(err))
		span.SetAttributes(attribute.String("mongo.transaction.outcome", "aborted"))
		if abortErr := sess.AbortTransaction(release); abortErr != nil {
			log.Warn("rollback transaction failed", zap.Error(abortErr))
			cleanup = append(cleanup, abortErr)
		}
		return nil, err
	}

	log.Debug("commit transaction")
	if err = sess.CommitTransaction(ctx); err != nil {
		span.SetAttributes(attribute.String("mongo.transaction.outcome", "commit_failed"))
		return nil, err
	}
	span.SetAttributes(attribute.String("mongo.transaction.outcome", "committed"))
	return result, nil
}

// Txn is handed to the work passed to Database.Txn and Database.Exec.
type Txn struct {
	ctx  context.Context
	db   *Database
	sess Session
}

// Context returns the context operations in this unit of work must use.
func (txn *Txn) Context() context.Context {
	return txn.ctx
}

// Session returns the transaction's session, or nil when the work is not
// running inside a transaction.
func (txn *Txn) Session() Session {
	return txn.sess
}

func (txn *Txn) Database() *Database {
	return txn.db
}

// Collection returns the named collection as untyped documents.
func (txn *Txn) Collection(name string) *Collection[M] {
	return txn.db.Collection(name)
}

// Model returns the collection named after model (see GetModelName). model
// may also be the collection name itself.
func (txn *Txn) Model(model any) *Collection[M] {
	if name, ok := model.(string); ok {
		return txn.db.Collection(name)
	}
	name := GetModelName(model)
	if name == "" {
		panic(ErrInvalidModelName)
	}
	return txn.db.Collection(name)
}
