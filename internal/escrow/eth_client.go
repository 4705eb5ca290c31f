package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"upirelay/internal/contracts"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// gasMarginPercent is added on top of the node's gas estimate so a
// submission survives state drift between estimation and inclusion.
const gasMarginPercent = 20

// EthClient talks to the ConditionalUPI contract over JSON-RPC. One instance
// holds the process's single signing connection; construct it once at startup
// and share it.
type EthClient struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	opts     *bind.TransactOpts
	from     common.Address
}

type EthClientConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
}

// NewEthClient dials the RPC endpoint, parses the embedded ABI and derives
// the signing account. Any failure here is fatal to the caller: the process
// must not serve traffic without a working ledger connection.
func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("relayer private key is required")
	}
	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.ConditionalUPIABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &EthClient{
		client:   cli,
		contract: bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:      parsedABI,
		address:  address,
		chainID:  chainID,
		opts:     opts,
		from:     crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// From is the relayer's signing address.
func (c *EthClient) From() common.Address {
	return c.from
}

func (c *EthClient) Condition(ctx context.Context, id uint64) (Condition, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCondition", new(big.Int).SetUint64(id))
	if err != nil {
		return Condition{}, classifyCallError(err)
	}

	raw := *abi.ConvertType(out[0], new(conditionResult)).(*conditionResult)
	return Condition{
		ID:          raw.Id.Uint64(),
		Payer:       raw.Payer,
		Payee:       raw.Payee,
		Amount:      raw.Amount,
		Deadline:    raw.Deadline.Int64(),
		MetadataURI: raw.MetadataURI,
		Executed:    raw.Executed,
		Refunded:    raw.Refunded,
		CreatedAt:   raw.CreatedAt.Int64(),
	}, nil
}

// conditionResult mirrors the getCondition tuple for ABI unpacking.
type conditionResult struct {
	Id          *big.Int
	Payer       common.Address
	Payee       common.Address
	Amount      *big.Int
	Deadline    *big.Int
	MetadataURI string
	Executed    bool
	Refunded    bool
	CreatedAt   *big.Int
}

func (c *EthClient) CanTrigger(ctx context.Context, id uint64) (bool, error) {
	return c.callBool(ctx, "canTrigger", id)
}

func (c *EthClient) CanRefund(ctx context.Context, id uint64) (bool, error) {
	return c.callBool(ctx, "canRefund", id)
}

func (c *EthClient) callBool(ctx context.Context, method string, id uint64) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, new(big.Int).SetUint64(id))
	if err != nil {
		return false, classifyCallError(err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *EthClient) Count(ctx context.Context) (uint64, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getConditionCount")
	if err != nil {
		return 0, fmt.Errorf("getConditionCount: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int).Uint64(), nil
}

// Trigger submits triggerCondition and waits for inclusion. Gas is estimated
// against current state with a fixed safety margin, and the nonce is the
// pending-inclusive sequence number fetched immediately before submission so
// concurrent in-flight transactions from this account do not collide. That
// is a best-effort mitigation, not a lock: the ledger's own state transition
// is the serialization point, and a losing race surfaces as a rejection with
// ReasonAlreadyExecuted.
func (c *EthClient) Trigger(ctx context.Context, id uint64, proofHash [32]byte) (SubmitResult, error) {
	conditionID := new(big.Int).SetUint64(id)

	input, err := c.abi.Pack("triggerCondition", conditionID, proofHash)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("pack triggerCondition: %w", err)
	}

	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.address,
		Data: input,
	})
	if err != nil {
		return SubmitResult{}, classifySubmitError(err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("fetch pending nonce: %w", err)
	}

	opts := *c.opts
	opts.Context = ctx
	opts.GasLimit = gas + gas*gasMarginPercent/100
	opts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := c.contract.Transact(&opts, "triggerCondition", conditionID, proofHash)
	if err != nil {
		return SubmitResult{}, classifySubmitError(err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("wait for inclusion: %w", err)
	}

	status := StatusFailed
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = StatusSuccess
	}
	return SubmitResult{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Status:      status,
	}, nil
}

func (c *EthClient) Balance(ctx context.Context) (*big.Int, error) {
	return c.client.BalanceAt(ctx, c.from, nil)
}

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

// Revert reasons of the deployed contract. The literal strings live here and
// nowhere else; everything above this layer sees ReasonCode.
const (
	revertNotFound        = "Condition does not exist"
	revertAlreadyExecuted = "Condition already executed"
	revertAlreadyRefunded = "Condition already refunded"
	revertDeadline        = "Deadline not reached"
)

func classifyCallError(err error) error {
	if strings.Contains(err.Error(), revertNotFound) {
		return ErrNotFound
	}
	return err
}

func classifySubmitError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, revertNotFound):
		return ErrNotFound
	case strings.Contains(msg, revertAlreadyExecuted):
		return &SubmissionError{Code: ReasonAlreadyExecuted, Reason: revertAlreadyExecuted}
	case strings.Contains(msg, revertAlreadyRefunded):
		return &SubmissionError{Code: ReasonAlreadyRefunded, Reason: revertAlreadyRefunded}
	case strings.Contains(msg, revertDeadline):
		return &SubmissionError{Code: ReasonDeadlineNotReached, Reason: revertDeadline}
	case strings.Contains(strings.ToLower(msg), "insufficient funds"):
		return &SubmissionError{Code: ReasonInsufficientFunds, Reason: msg}
	default:
		return &SubmissionError{Code: ReasonOther, Reason: msg}
	}
}
