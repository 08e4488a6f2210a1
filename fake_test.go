package mongo

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/atomic"
)

type fakeSession struct {
	id string

	txnStarts atomic.Int64
	commits   atomic.Int64
	aborts    atomic.Int64
	ends      atomic.Int64

	commitErr error
}

func (s *fakeSession) ID() string {
	return s.id
}

func (s *fakeSession) StartTransaction(...*options.TransactionOptions) error {
	s.txnStarts.Inc()
	return nil
}

func (s *fakeSession) CommitTransaction(context.Context) error {
	s.commits.Inc()
	return s.commitErr
}

func (s *fakeSession) AbortTransaction(context.Context) error {
	s.aborts.Inc()
	return nil
}

func (s *fakeSession) EndSession(context.Context) error {
	s.ends.Inc()
	return nil
}

func (s *fakeSession) Bind(ctx context.Context) context.Context {
	return ctx
}

type fakeStarter struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeStarter) StartSession(...*options.SessionOptions) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &fakeSession{id: fmt.Sprintf("fake-%d", len(f.sessions)+1)}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeStarter) started() []*fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSession(nil), f.sessions...)
}
