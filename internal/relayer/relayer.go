// Package relayer orchestrates state-changing submissions against the escrow
// ledger on behalf of the gateway.
package relayer

import (
	"context"
	"fmt"
	"math/big"

	"upirelay/internal/escrow"

	"github.com/ethereum/go-ethereum/crypto"
)

// Service is the relayer core. It decides whether a trigger is worth
// submitting and sends at most one submission per call; retrying ambiguous
// failures is the caller's decision, since a prior submission may already
// have been included.
type Service struct {
	client escrow.Client
}

func New(client escrow.Client) *Service {
	return &Service{client: client}
}

func (s *Service) Condition(ctx context.Context, id uint64) (escrow.Condition, error) {
	return s.client.Condition(ctx, id)
}

func (s *Service) CanTrigger(ctx context.Context, id uint64) (bool, error) {
	return s.client.CanTrigger(ctx, id)
}

func (s *Service) CanRefund(ctx context.Context, id uint64) (bool, error) {
	return s.client.CanRefund(ctx, id)
}

func (s *Service) Count(ctx context.Context) (uint64, error) {
	return s.client.Count(ctx)
}

func (s *Service) Balance(ctx context.Context) (*big.Int, error) {
	return s.client.Balance(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Trigger submits triggerCondition for id. Current state is fetched first so
// an already-terminal condition fails fast without spending gas; the ledger
// re-validates regardless, so a passing pre-check never guarantees the
// submission lands.
func (s *Service) Trigger(ctx context.Context, id uint64, proofHash [32]byte) (escrow.SubmitResult, error) {
	cond, err := s.client.Condition(ctx, id)
	if err != nil {
		return escrow.SubmitResult{}, fmt.Errorf("pre-check condition %d: %w", id, err)
	}
	if cond.Executed {
		return escrow.SubmitResult{}, &escrow.SubmissionError{Code: escrow.ReasonAlreadyExecuted, Reason: "Condition already executed"}
	}
	if cond.Refunded {
		return escrow.SubmitResult{}, &escrow.SubmissionError{Code: escrow.ReasonAlreadyRefunded, Reason: "Condition already refunded"}
	}

	return s.client.Trigger(ctx, id, proofHash)
}

// HashProof digests an external completion proof into the fixed-size value
// recorded on the ledger. The raw proof never reaches the chain.
func HashProof(proof string) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256([]byte(proof)))
	return out
}
