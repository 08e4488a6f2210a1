package mongo

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Database is a named database of a Client. The embedded driver database is
// nil when the database was taken before Connect.
type Database struct {
	client *Client
	name   string
	*mongo.Database
}

func (t *Database) Name() string {
	return t.name
}

// Client returns the facade the database was opened from.
func (t *Database) Client() *Client {
	return t.client
}

// Close disconnects the client the database belongs to. Closing twice is
// not an error.
func (t *Database) Close() error {
	if t.client == nil {
		return nil
	}
	if err := t.client.Close(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Txn runs fn inside a transaction. Nested calls, including ones made
// through the txn context, join the enclosing transaction.
func (t *Database) Txn(ctx context.Context, fn func(txn *Txn) error, opts ...*options.TransactionOptions) error {
	if t.client == nil {
		return ErrNotConnected
	}
	return t.client.runner.Run(ctx, func(ctx context.Context) error {
		sess, _ := SessionFromContext(ctx)
		return fn(&Txn{ctx: ctx, db: t, sess: sess})
	}, opts...)
}

// Exec runs fn without opening a transaction. When ctx already carries a
// session fn still runs inside it.
func (t *Database) Exec(ctx context.Context, fn func(txn *Txn) error) error {
	sess, _ := SessionFromContext(ctx)
	return fn(&Txn{ctx: ctx, db: t, sess: sess})
}

// Collection returns the named collection as untyped documents.
func (t *Database) Collection(name string, opts ...*options.CollectionOptions) *Collection[M] {
	return newCollection[M](t, name, opts...)
}

// Unmarshal loads the document with the given id into model. The collection
// is named after model.
func (t *Database) Unmarshal(id, model any) error {
	name := GetModelName(model)
	if name == "" {
		return ErrInvalidModelName
	}
	return t.Collection(name).Unmarshal(context.Background(), id, model)
}

func NewDatabase(url string, name string, opts ...Option) (*Database, error) {
	return Open(context.Background(), url, name, opts...)
}
