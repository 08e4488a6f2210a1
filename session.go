package mongo

import (
	"context"
	"encoding/hex"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock

// Session is the part of a server session the transaction runner drives.
// mongo.Session cannot be implemented outside the driver, so the runner works
// against this interface and the driver session is adapted to it.
type Session interface {
	// ID identifies the server session, for logs.
	ID() string

	StartTransaction(opts ...*options.TransactionOptions) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error

	// EndSession releases the session. It aborts a transaction that is
	// still in progress.
	EndSession(ctx context.Context) error

	// Bind returns a context under which driver operations run inside
	// this session.
	Bind(ctx context.Context) context.Context
}

// SessionStarter hands out new sessions.
type SessionStarter interface {
	StartSession(opts ...*options.SessionOptions) (Session, error)
}

type sessionKey struct{}

// ContextWithSession returns a child of ctx that carries s. Everything called
// with the returned context (or a context derived from it) sees s through
// SessionFromContext; ctx itself and unrelated contexts do not.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return s.Bind(context.WithValue(ctx, sessionKey{}, s))
}

// SessionFromContext returns the session carried by ctx, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok && s != nil
}

type driverSession struct {
	sess mongo.Session
	id   string
}

func newDriverSession(sess mongo.Session) *driverSession {
	return &driverSession{sess: sess, id: sessionID(sess)}
}

func (s *driverSession) ID() string {
	return s.id
}

func (s *driverSession) StartTransaction(opts ...*options.TransactionOptions) error {
	return s.sess.StartTransaction(opts...)
}

func (s *driverSession) CommitTransaction(ctx context.Context) error {
	return s.sess.CommitTransaction(ctx)
}

func (s *driverSession) AbortTransaction(ctx context.Context) error {
	return s.sess.AbortTransaction(ctx)
}

// EndSession never fails: the driver returns the session to its pool and
// reports nothing.
func (s *driverSession) EndSession(ctx context.Context) error {
	s.sess.EndSession(ctx)
	return nil
}

func (s *driverSession) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}

// Driver returns the wrapped driver session.
func (s *driverSession) Driver() mongo.Session {
	return s.sess
}

// lsid is {"id": UUID}; fall back to the raw document when it is not.
func sessionID(sess mongo.Session) string {
	raw := sess.ID()
	if raw == nil {
		return ""
	}
	if v, err := raw.LookupErr("id"); err == nil {
		if _, data, ok := v.BinaryOK(); ok {
			return hex.EncodeToString(data)
		}
	}
	return raw.String()
}
