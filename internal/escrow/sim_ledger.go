package escrow

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SimLedger is an in-process escrow ledger enforcing the full ConditionalUPI
// state machine: balances, role checks, deadline arithmetic, terminal-state
// guards and event emission. It backs the state-machine tests and stands in
// for a chain wherever one is not available.
//
// All mutations are serialized under one mutex, which makes the ledger the
// final arbiter for racing triggers exactly like the real chain: the first
// caller wins, the second gets ReasonAlreadyExecuted.
type SimLedger struct {
	mu         sync.Mutex
	admin      common.Address
	caller     common.Address
	clock      time.Time
	block      uint64
	conditions []Condition
	balances   map[common.Address]*big.Int
	relayers   map[common.Address]struct{}
	events     []Event
	offline    bool
}

// Event records an emitted ledger event. Fields that the event kind does not
// carry are zero.
type Event struct {
	Name        string
	ConditionID uint64
	Payer       common.Address
	Payee       common.Address
	Actor       common.Address
	Amount      *big.Int
	Deadline    int64
	MetadataURI string
	ProofHash   [32]byte
}

const (
	EventConditionCreated   = "ConditionCreated"
	EventConditionTriggered = "ConditionTriggered"
	EventConditionRefunded  = "ConditionRefunded"
	EventRelayerAdded       = "RelayerAdded"
	EventRelayerRemoved     = "RelayerRemoved"
)

const simGasUsed = 85_000

// NewSimLedger deploys the simulated contract with an admin and an initial
// relayer. The relayer identity doubles as the Client signing account.
func NewSimLedger(admin, relayer common.Address) (*SimLedger, error) {
	if relayer == (common.Address{}) {
		return nil, &SubmissionError{Code: ReasonOther, Reason: "Invalid relayer address"}
	}
	return &SimLedger{
		admin:    admin,
		caller:   relayer,
		clock:    time.Unix(1_700_000_000, 0).UTC(),
		block:    1,
		balances: make(map[common.Address]*big.Int),
		relayers: map[common.Address]struct{}{relayer: {}},
	}, nil
}

// Fund credits an account. Test setup only; the real chain funds accounts out
// of band.
func (s *SimLedger) Fund(addr common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(addr, amount)
}

func (s *SimLedger) credit(addr common.Address, amount *big.Int) {
	bal, ok := s.balances[addr]
	if !ok {
		bal = new(big.Int)
		s.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// BalanceOf returns a copy of the account balance in wei.
func (s *SimLedger) BalanceOf(addr common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Advance moves ledger time forward.
func (s *SimLedger) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(d)
}

// Now is the current ledger time in unix seconds.
func (s *SimLedger) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Unix()
}

// SetOffline makes every Client call fail, simulating an unreachable ledger
// endpoint.
func (s *SimLedger) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *SimLedger) checkOnline() error {
	if s.offline {
		return fmt.Errorf("rpc endpoint unreachable: connection refused")
	}
	return nil
}

// CreateCondition escrows value against a payee and deadline on behalf of
// payer. The attached value is debited from payer and held by the ledger
// until trigger or refund.
func (s *SimLedger) CreateCondition(payer, payee common.Address, deadline int64, metadataURI string, value *big.Int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payee == (common.Address{}) {
		return 0, &SubmissionError{Code: ReasonOther, Reason: "Invalid payee address"}
	}
	if value == nil || value.Sign() <= 0 {
		return 0, &SubmissionError{Code: ReasonOther, Reason: "Amount must be greater than 0"}
	}
	if deadline <= s.clock.Unix() {
		return 0, &SubmissionError{Code: ReasonOther, Reason: "Deadline must be in the future"}
	}
	bal, ok := s.balances[payer]
	if !ok || bal.Cmp(value) < 0 {
		return 0, &SubmissionError{Code: ReasonInsufficientFunds, Reason: "insufficient funds for transfer"}
	}

	bal.Sub(bal, value)

	id := uint64(len(s.conditions))
	amount := new(big.Int).Set(value)
	s.conditions = append(s.conditions, Condition{
		ID:          id,
		Payer:       payer,
		Payee:       payee,
		Amount:      amount,
		Deadline:    deadline,
		MetadataURI: metadataURI,
		CreatedAt:   s.clock.Unix(),
	})
	s.block++
	s.events = append(s.events, Event{
		Name:        EventConditionCreated,
		ConditionID: id,
		Payer:       payer,
		Payee:       payee,
		Amount:      new(big.Int).Set(amount),
		Deadline:    deadline,
		MetadataURI: metadataURI,
	})
	return id, nil
}

// TriggerFrom executes a condition as the given relayer identity. Not
// deadline-gated: a pending condition stays triggerable after its deadline
// until someone refunds it. That asymmetry matches the deployed contract and
// is intentional (late-but-valid proofs), pending product confirmation.
func (s *SimLedger) TriggerFrom(relayer common.Address, id uint64, proofHash [32]byte) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relayers[relayer]; !ok {
		return SubmitResult{}, &SubmissionError{Code: ReasonNotAuthorized, Reason: "Caller is not a relayer"}
	}
	cond, err := s.lookup(id)
	if err != nil {
		return SubmitResult{}, err
	}
	if cond.Executed {
		return SubmitResult{}, &SubmissionError{Code: ReasonAlreadyExecuted, Reason: revertAlreadyExecuted}
	}
	if cond.Refunded {
		return SubmitResult{}, &SubmissionError{Code: ReasonAlreadyRefunded, Reason: revertAlreadyRefunded}
	}

	cond.Executed = true
	s.credit(cond.Payee, cond.Amount)
	s.block++
	s.events = append(s.events, Event{
		Name:        EventConditionTriggered,
		ConditionID: id,
		Actor:       relayer,
		ProofHash:   proofHash,
	})
	return s.inclusion(id, proofHash), nil
}

// RefundFrom returns escrowed funds to the payer after the deadline.
func (s *SimLedger) RefundFrom(caller common.Address, id uint64) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond, err := s.lookup(id)
	if err != nil {
		return SubmitResult{}, err
	}
	if cond.Executed {
		return SubmitResult{}, &SubmissionError{Code: ReasonAlreadyExecuted, Reason: revertAlreadyExecuted}
	}
	if cond.Refunded {
		return SubmitResult{}, &SubmissionError{Code: ReasonAlreadyRefunded, Reason: revertAlreadyRefunded}
	}
	if caller != cond.Payer {
		return SubmitResult{}, &SubmissionError{Code: ReasonNotAuthorized, Reason: "Only payer can refund"}
	}
	if s.clock.Unix() <= cond.Deadline {
		return SubmitResult{}, &SubmissionError{Code: ReasonDeadlineNotReached, Reason: revertDeadline}
	}

	cond.Refunded = true
	s.credit(cond.Payer, cond.Amount)
	s.block++
	s.events = append(s.events, Event{
		Name:        EventConditionRefunded,
		ConditionID: id,
		Payer:       cond.Payer,
	})
	return s.inclusion(id, [32]byte{}), nil
}

// AddRelayer grants the relayer role. Admin only.
func (s *SimLedger) AddRelayer(caller, relayer common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return &SubmissionError{Code: ReasonNotAuthorized, Reason: "Caller is not an admin"}
	}
	if relayer == (common.Address{}) {
		return &SubmissionError{Code: ReasonOther, Reason: "Invalid relayer address"}
	}
	s.relayers[relayer] = struct{}{}
	s.events = append(s.events, Event{Name: EventRelayerAdded, Actor: relayer})
	return nil
}

// RemoveRelayer revokes the relayer role. Admin only.
func (s *SimLedger) RemoveRelayer(caller, relayer common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.admin {
		return &SubmissionError{Code: ReasonNotAuthorized, Reason: "Caller is not an admin"}
	}
	delete(s.relayers, relayer)
	s.events = append(s.events, Event{Name: EventRelayerRemoved, Actor: relayer})
	return nil
}

// HasRelayer reports whether the identity currently holds the relayer role.
func (s *SimLedger) HasRelayer(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.relayers[addr]
	return ok
}

// Events returns a copy of the emitted event log in order.
func (s *SimLedger) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *SimLedger) lookup(id uint64) (*Condition, error) {
	if id >= uint64(len(s.conditions)) {
		return nil, ErrNotFound
	}
	return &s.conditions[id], nil
}

func (s *SimLedger) inclusion(id uint64, proofHash [32]byte) SubmitResult {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], id)
	binary.BigEndian.PutUint64(buf[8:], s.block)
	hash := crypto.Keccak256(buf[:], proofHash[:])
	return SubmitResult{
		TxHash:      "0x" + common.Bytes2Hex(hash),
		BlockNumber: s.block,
		GasUsed:     simGasUsed,
		Status:      StatusSuccess,
	}
}

// Client implementation. The configured relayer identity is the signer.

func (s *SimLedger) Condition(_ context.Context, id uint64) (Condition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return Condition{}, err
	}
	cond, err := s.lookup(id)
	if err != nil {
		return Condition{}, err
	}
	out := *cond
	out.Amount = new(big.Int).Set(cond.Amount)
	return out, nil
}

func (s *SimLedger) CanTrigger(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return false, err
	}
	cond, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	return cond.Pending(), nil
}

func (s *SimLedger) CanRefund(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return false, err
	}
	cond, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	return cond.Pending() && s.clock.Unix() > cond.Deadline, nil
}

func (s *SimLedger) Count(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return 0, err
	}
	return uint64(len(s.conditions)), nil
}

func (s *SimLedger) Trigger(_ context.Context, id uint64, proofHash [32]byte) (SubmitResult, error) {
	if err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.checkOnline()
	}(); err != nil {
		return SubmitResult{}, err
	}
	return s.TriggerFrom(s.caller, id, proofHash)
}

func (s *SimLedger) Balance(_ context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOnline(); err != nil {
		return nil, err
	}
	if bal, ok := s.balances[s.caller]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (s *SimLedger) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkOnline()
}
