package relayer

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"upirelay/internal/escrow"

	"github.com/ethereum/go-ethereum/crypto"
)

type stubClient struct {
	condition    escrow.Condition
	conditionErr error
	triggerCalls int
	triggerRes   escrow.SubmitResult
	triggerErr   error
}

func (s *stubClient) Condition(context.Context, uint64) (escrow.Condition, error) {
	return s.condition, s.conditionErr
}

func (s *stubClient) CanTrigger(context.Context, uint64) (bool, error) { return false, nil }
func (s *stubClient) CanRefund(context.Context, uint64) (bool, error)  { return false, nil }
func (s *stubClient) Count(context.Context) (uint64, error)            { return 0, nil }
func (s *stubClient) Balance(context.Context) (*big.Int, error)        { return big.NewInt(0), nil }
func (s *stubClient) Ping(context.Context) error                       { return nil }

func (s *stubClient) Trigger(context.Context, uint64, [32]byte) (escrow.SubmitResult, error) {
	s.triggerCalls++
	return s.triggerRes, s.triggerErr
}

func TestTriggerFailsFastOnUnknownCondition(t *testing.T) {
	stub := &stubClient{conditionErr: escrow.ErrNotFound}
	svc := New(stub)

	_, err := svc.Trigger(context.Background(), 7, [32]byte{})
	if !errors.Is(err, escrow.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if stub.triggerCalls != 0 {
		t.Fatalf("expected no submission, got %d", stub.triggerCalls)
	}
}

func TestTriggerFailsFastOnTerminalState(t *testing.T) {
	cases := []struct {
		name string
		cond escrow.Condition
		want escrow.ReasonCode
	}{
		{"executed", escrow.Condition{Executed: true, Amount: big.NewInt(1)}, escrow.ReasonAlreadyExecuted},
		{"refunded", escrow.Condition{Refunded: true, Amount: big.NewInt(1)}, escrow.ReasonAlreadyRefunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubClient{condition: tc.cond}
			svc := New(stub)

			_, err := svc.Trigger(context.Background(), 0, [32]byte{})
			if escrow.ReasonOf(err) != tc.want {
				t.Fatalf("got %v, want code %d", err, tc.want)
			}
			if stub.triggerCalls != 0 {
				t.Fatalf("terminal pre-check must not submit, got %d calls", stub.triggerCalls)
			}
		})
	}
}

func TestTriggerSubmitsExactlyOnce(t *testing.T) {
	stub := &stubClient{
		condition:  escrow.Condition{Amount: big.NewInt(1)},
		triggerRes: escrow.SubmitResult{TxHash: "0xabc", BlockNumber: 12, GasUsed: 90_000, Status: escrow.StatusSuccess},
	}
	svc := New(stub)

	res, err := svc.Trigger(context.Background(), 0, [32]byte{9})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if stub.triggerCalls != 1 {
		t.Fatalf("submissions = %d, want exactly 1", stub.triggerCalls)
	}
	if res.TxHash != "0xabc" || res.Status != escrow.StatusSuccess {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTriggerPassesThroughLedgerRejection(t *testing.T) {
	// A concurrent trigger can win between pre-check and submission; the
	// ledger's rejection must come back typed, not wrapped into oblivion.
	stub := &stubClient{
		condition:  escrow.Condition{Amount: big.NewInt(1)},
		triggerErr: &escrow.SubmissionError{Code: escrow.ReasonAlreadyExecuted, Reason: "Condition already executed"},
	}
	svc := New(stub)

	_, err := svc.Trigger(context.Background(), 0, [32]byte{})
	if escrow.ReasonOf(err) != escrow.ReasonAlreadyExecuted {
		t.Fatalf("got %v, want AlreadyExecuted", err)
	}
}

func TestHashProofIsKeccakOfUTF8(t *testing.T) {
	got := HashProof("proof123")
	want := crypto.Keccak256([]byte("proof123"))
	if !bytes.Equal(got[:], want) {
		t.Fatalf("hash mismatch: %x != %x", got, want)
	}
}
