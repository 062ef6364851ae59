package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrSigningDeclined is returned when the wallet provider refuses to sign.
// It passes through Submit unwrapped so callers can tell a user rejection
// apart from a transport failure.
var ErrSigningDeclined = errors.New("signing declined")

// QueryError wraps a failed read-only call.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query %s: %v", e.Op, e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// SubmissionError wraps a failure before finality: the gateway rejected the
// transaction or the network dropped it.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("submission failed: %v", e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// RevertError means the call reached finality with an unsuccessful outcome.
type RevertError struct {
	Tx common.Hash
}

func (e *RevertError) Error() string { return fmt.Sprintf("execution reverted: tx %s", e.Tx.Hex()) }
