// Package escrow models the on-chain conditional payment escrow and the
// clients that read from and submit against it.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Condition is an escrow record as held by the ledger. Amount is in wei;
// Deadline and CreatedAt are unix seconds of ledger time.
type Condition struct {
	ID          uint64
	Payer       common.Address
	Payee       common.Address
	Amount      *big.Int
	Deadline    int64
	MetadataURI string
	Executed    bool
	Refunded    bool
	CreatedAt   int64
}

// Pending reports whether the condition has reached neither terminal state.
func (c Condition) Pending() bool {
	return !c.Executed && !c.Refunded
}

// Status derives the external state label: executed and refunded are
// terminal and mutually exclusive, everything else is active.
func (c Condition) Status() string {
	switch {
	case c.Executed:
		return "executed"
	case c.Refunded:
		return "refunded"
	default:
		return "active"
	}
}

// SubmitResult carries inclusion metadata for a submitted transaction.
type SubmitResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Status      string
}

const (
	// StatusSuccess and StatusFailed normalize the ledger's execution
	// outcome code for a mined transaction.
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrNotFound is returned by reads and submissions against an id the ledger
// has never allocated.
var ErrNotFound = errors.New("condition does not exist")

// ReasonCode classifies why the ledger rejected a submission. Callers branch
// on the code, never on the underlying reason text.
type ReasonCode int

const (
	ReasonOther ReasonCode = iota
	ReasonAlreadyExecuted
	ReasonAlreadyRefunded
	ReasonDeadlineNotReached
	ReasonNotAuthorized
	ReasonInsufficientFunds
)

// SubmissionError is a ledger-level rejection. Reason preserves the ledger's
// literal revert text for logs; Code is the stable classification.
type SubmissionError struct {
	Code   ReasonCode
	Reason string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ledger rejected submission: %s", e.Reason)
}

// ReasonOf extracts the classification from err, or ReasonOther if err is
// not a ledger rejection.
func ReasonOf(err error) ReasonCode {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Code
	}
	return ReasonOther
}

// Client abstracts the escrow ledger connection. Reads return current state
// without waiting on inclusion; Trigger submits and blocks until the
// transaction is included or ctx is done.
type Client interface {
	Condition(ctx context.Context, id uint64) (Condition, error)
	CanTrigger(ctx context.Context, id uint64) (bool, error)
	CanRefund(ctx context.Context, id uint64) (bool, error)
	Count(ctx context.Context) (uint64, error)
	Trigger(ctx context.Context, id uint64, proofHash [32]byte) (SubmitResult, error)
	Balance(ctx context.Context) (*big.Int, error)
	Ping(ctx context.Context) error
}
