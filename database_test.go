package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newFakeDatabase(t *testing.T) (*Database, *fakeStarter) {
	starter := &fakeStarter{}
	client := &Client{dbName: "test", logger: zaptest.NewLogger(t)}
	client.runner = NewTxRunner(starter, client.logger, nil)
	return &Database{client: client}, starter
}

func TestDatabaseTxn(t *testing.T) {
	db, starter := newFakeDatabase(t)
	ctx := context.Background()

	err := db.Txn(ctx, func(txn *Txn) error {
		require.NotNil(t, txn.Session())
		require.Same(t, db, txn.Database())

		outer := txn.Session()
		return db.Txn(txn.Context(), func(inner *Txn) error {
			require.Same(t, outer, inner.Session())

			return db.Exec(inner.Context(), func(plain *Txn) error {
				require.Same(t, outer, plain.Session())
				return nil
			})
		})
	})
	require.NoError(t, err)

	sessions := starter.started()
	require.Len(t, sessions, 1)
	require.EqualValues(t, 1, sessions[0].commits.Load())
	require.EqualValues(t, 1, sessions[0].ends.Load())
}

func TestDatabaseTxnFailure(t *testing.T) {
	db, starter := newFakeDatabase(t)

	err := db.Txn(context.Background(), func(txn *Txn) error {
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	sessions := starter.started()
	require.Len(t, sessions, 1)
	require.EqualValues(t, 0, sessions[0].commits.Load())
	require.EqualValues(t, 1, sessions[0].aborts.Load())
	require.EqualValues(t, 1, sessions[0].ends.Load())
}

func TestDatabaseExecOutsideTransaction(t *testing.T) {
	db, starter := newFakeDatabase(t)

	err := db.Exec(context.Background(), func(txn *Txn) error {
		require.Nil(t, txn.Session())
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, starter.started())
}

func TestDatabaseCloseWithoutClient(t *testing.T) {
	db := &Database{}
	require.NoError(t, db.Close())
}
