package mongo

import "github.com/pkg/errors"

var (
	ErrInvalidModelName = errors.New("invalid model name")
	ErrNoID             = errors.New(`document has no id, set bson:"_id" or db:"pk"`)
	ErrRecordNotFound   = errors.New("record not found")
	ErrEmptyUpdate      = errors.New("update has no fields besides _id")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrMissingURI       = errors.New("connection uri is required")
)

// TxnError is returned by an outermost transaction when cleaning up after a
// failure failed as well. Err is the failure that ended the transaction and
// Error reports its message unchanged; Cleanup holds abort or end-session
// failures in the order they happened.
type TxnError struct {
	Err     error
	Cleanup []error
}

func (e *TxnError) Error() string {
	return e.Err.Error()
}

func (e *TxnError) Unwrap() []error {
	return append([]error{e.Err}, e.Cleanup...)
}

// Cause keeps errors.Cause working on the primary failure.
func (e *TxnError) Cause() error {
	return e.Err
}
