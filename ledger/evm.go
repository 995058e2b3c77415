package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"lendingctl/crypto"
)

// ErrTimeTravelUnsupported is returned by AdvanceTime when the node rejects the
// development time-travel RPCs.
var ErrTimeTravelUnsupported = errors.New("ledger: time travel not supported by node")

// Backend is the subset of the Ethereum JSON-RPC API used by EVM.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCCaller issues raw JSON-RPC calls; used for the development-chain time RPCs.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// EVMConfig captures the connection and transaction settings for an EVM ledger.
type EVMConfig struct {
	URL string
	// ChainID, when set, must match the chain id reported by the node.
	ChainID *big.Int
	// PollInterval is the receipt polling cadence.
	PollInterval time.Duration
	// ConfirmationTimeout bounds a single Wait. Zero waits until ctx is done.
	ConfirmationTimeout time.Duration
	// GasHeadroomPercent is added on top of the node's gas estimate.
	GasHeadroomPercent uint64
	// RateLimit caps RPC round trips per second. Zero disables throttling.
	RateLimit float64
	// TimeTravel selects evm_increaseTime/evm_mine for AdvanceTime; otherwise
	// AdvanceTime waits in wall-clock time.
	TimeTravel bool
	Logger     *slog.Logger
}

func (c *EVMConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.GasHeadroomPercent == 0 {
		c.GasHeadroomPercent = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// EVM implements Client against an Ethereum-compatible node.
type EVM struct {
	backend    Backend
	rpc        RPCCaller
	cfg        EVMConfig
	chainID    *big.Int
	signer     gethtypes.Signer
	identities []crypto.Identity
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
	closer     func()
}

// Dial connects to cfg.URL and returns a ready EVM client.
func Dial(ctx context.Context, cfg EVMConfig, identities []crypto.Identity) (*EVM, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("ledger: rpc url required")
	}
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", url, err)
	}
	evm, err := NewEVM(ctx, ethclient.NewClient(rpcClient), rpcClient, cfg, identities)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	evm.closer = rpcClient.Close
	return evm, nil
}

// NewEVM wraps an existing backend. The chain id is fetched once and checked
// against cfg.ChainID when that is set.
func NewEVM(ctx context.Context, backend Backend, caller RPCCaller, cfg EVMConfig, identities []crypto.Identity) (*EVM, error) {
	if backend == nil {
		return nil, fmt.Errorf("ledger: backend required")
	}
	cfg.applyDefaults()
	e := &EVM{
		backend:    backend,
		rpc:        caller,
		cfg:        cfg,
		identities: append([]crypto.Identity(nil), identities...),
		sleep:      sleepContext,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetch chain id: %w", err)
	}
	if cfg.ChainID != nil && cfg.ChainID.Sign() > 0 && cfg.ChainID.Cmp(chainID) != 0 {
		return nil, fmt.Errorf("ledger: chain id mismatch: configured %s, node reports %s", cfg.ChainID, chainID)
	}
	e.chainID = chainID
	e.signer = gethtypes.LatestSignerForChainID(chainID)
	return e, nil
}

// Close releases the underlying RPC connection when EVM owns it.
func (e *EVM) Close() {
	if e != nil && e.closer != nil {
		e.closer()
	}
}

// ChainID returns the chain id reported by the node.
func (e *EVM) ChainID() *big.Int { return new(big.Int).Set(e.chainID) }

// Identities returns the configured signers; index 0 is the owner.
func (e *EVM) Identities() []crypto.Identity {
	return append([]crypto.Identity(nil), e.identities...)
}

// Deploy submits a contract creation signed by signer.
func (e *EVM) Deploy(ctx context.Context, artifact Artifact, signer crypto.Identity, args ...any) (*Deployment, error) {
	data, err := artifact.DeployData(args...)
	if err != nil {
		return nil, err
	}
	tx, err := e.send(ctx, signer, nil, nil, data)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", artifact.Name, err)
	}
	ref := ContractRef{
		Name:    artifact.Name,
		Address: ethcrypto.CreateAddress(signer.Address, tx.Nonce()),
		ABI:     artifact.ABI,
	}
	return NewDeployment(e.pending(tx.Hash()), ref), nil
}

// Call submits a state-mutating contract call. value, when non-nil, is attached as
// the call's ether payload.
func (e *EVM) Call(ctx context.Context, ref ContractRef, signer crypto.Identity, value *big.Int, method string, args ...any) (Pending, error) {
	data, err := pack(ref, method, args)
	if err != nil {
		return nil, err
	}
	to := ref.Address
	tx, err := e.send(ctx, signer, &to, value, data)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ref.Name, method, err)
	}
	return e.pending(tx.Hash()), nil
}

// Read executes a constant call as from against the latest block.
func (e *EVM) Read(ctx context.Context, ref ContractRef, from common.Address, method string, args ...any) ([]any, error) {
	data, err := pack(ref, method, args)
	if err != nil {
		return nil, err
	}
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	to := ref.Address
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ref.Name, method, decodeRevert(err))
	}
	values, err := ref.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: unpack: %w", ref.Name, method, err)
	}
	return values, nil
}

// AdvanceTime moves the chain clock forward by d. On development chains this uses
// evm_increaseTime followed by evm_mine; elsewhere it waits d in wall-clock time.
func (e *EVM) AdvanceTime(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if !e.cfg.TimeTravel {
		e.cfg.Logger.Info("waiting for chain time to elapse", slog.Duration("duration", d))
		return e.sleep(ctx, d)
	}
	if e.rpc == nil {
		return ErrTimeTravelUnsupported
	}
	if err := e.throttle(ctx); err != nil {
		return err
	}
	var shifted any
	if err := e.rpc.CallContext(ctx, &shifted, "evm_increaseTime", int64(d/time.Second)); err != nil {
		return fmt.Errorf("%w: evm_increaseTime: %v", ErrTimeTravelUnsupported, err)
	}
	if err := e.throttle(ctx); err != nil {
		return err
	}
	var mined any
	if err := e.rpc.CallContext(ctx, &mined, "evm_mine"); err != nil {
		return fmt.Errorf("%w: evm_mine: %v", ErrTimeTravelUnsupported, err)
	}
	return nil
}

func pack(ref ContractRef, method string, args []any) ([]byte, error) {
	m, ok := ref.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, ref.Name, method)
	}
	coerced, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ref.Name, method, err)
	}
	data, err := ref.ABI.Pack(method, coerced...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: pack: %w", ref.Name, method, err)
	}
	return data, nil
}

func (e *EVM) send(ctx context.Context, signer crypto.Identity, to *common.Address, value *big.Int, data []byte) (*gethtypes.Transaction, error) {
	key, err := signer.PrivateKey()
	if err != nil {
		return nil, err
	}
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	nonce, err := e.backend.PendingNonceAt(ctx, signer.Address)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	estimate, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  signer.Address,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, decodeRevert(err)
	}
	gas := estimate + estimate*e.cfg.GasHeadroomPercent/100
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, e.signer, key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", decodeRevert(err))
	}
	e.cfg.Logger.Debug("transaction submitted",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("signer", signer.Address.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return signed, nil
}

func (e *EVM) throttle(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *EVM) pending(hash common.Hash) *evmPending {
	return &evmPending{evm: e, hash: hash}
}

type evmPending struct {
	evm  *EVM
	hash common.Hash
}

func (p *evmPending) Hash() common.Hash { return p.hash }

// Wait polls for the receipt and then for the requested confirmation depth. A
// receipt with a failed status is reported as a RevertError.
func (p *evmPending) Wait(ctx context.Context, confirmations uint64) (*Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	if timeout := p.evm.cfg.ConfirmationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(p.evm.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, done, err := p.poll(ctx, confirmations)
		if err != nil {
			return nil, err
		}
		if done {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", p.hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *evmPending) poll(ctx context.Context, confirmations uint64) (*Receipt, bool, error) {
	backend := p.evm.backend
	if err := p.evm.throttle(ctx); err != nil {
		return nil, false, err
	}
	receipt, err := backend.TransactionReceipt(ctx, p.hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch receipt %s: %w", p.hash.Hex(), err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, false, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, false, &RevertError{TxHash: p.hash}
	}
	if err := p.evm.throttle(ctx); err != nil {
		return nil, false, err
	}
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fetch head: %w", err)
	}
	included := receipt.BlockNumber.Uint64()
	if head < included {
		return nil, false, nil
	}
	if head-included+1 < confirmations {
		return nil, false, nil
	}
	return &Receipt{
		TxHash:          p.hash,
		BlockNumber:     included,
		GasUsed:         receipt.GasUsed,
		ContractAddress: receipt.ContractAddress,
	}, true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
