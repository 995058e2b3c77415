// Package ledgertest provides an in-memory ledger.Client whose contract behaviour
// is scripted per method, for exercising orchestration without a node.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendingctl/crypto"
	"lendingctl/ledger"
)

// Constructor is the method name recorded for deployments.
const Constructor = "constructor"

// Invocation describes a single call reaching the ledger.
type Invocation struct {
	Contract string
	Address  common.Address
	Method   string
	From     common.Address
	Value    *big.Int
	Args     []any
	// Elapsed is the chain time advanced so far.
	Elapsed time.Duration
}

// Handler scripts a contract method. Returning an error from a mutating call
// simulates a revert at submission time.
type Handler func(inv Invocation) ([]any, error)

// Record is a journal entry of a call in issue order.
type Record struct {
	Invocation
	Mutating bool
}

// Ledger is a scripted ledger.Client. It is safe for concurrent use.
type Ledger struct {
	mu         sync.Mutex
	identities []crypto.Identity
	handlers   map[string]Handler
	gates      map[string]chan struct{}
	waitErrs   map[string]error
	records    []Record
	elapsed    time.Duration
	seq        uint64
}

var _ ledger.Client = (*Ledger)(nil)

// New returns a ledger exposing identities in order; index 0 is the owner.
func New(identities ...crypto.Identity) *Ledger {
	return &Ledger{
		identities: identities,
		handlers:   map[string]Handler{},
		gates:      map[string]chan struct{}{},
		waitErrs:   map[string]error{},
	}
}

// Identities returns n watch-only identities with deterministic addresses.
func Identities(n int) []crypto.Identity {
	out := make([]crypto.Identity, n)
	for i := range out {
		out[i] = crypto.WatchOnly(common.BigToAddress(big.NewInt(int64(0xa0 + i))))
	}
	return out
}

func key(contract, method string) string { return contract + "." + method }

// Handle scripts contract.method.
func (l *Ledger) Handle(contract, method string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[key(contract, method)] = h
}

// Hold makes confirmations of contract.method block until the returned release
// function is called. Use Constructor as method to hold a deployment.
func (l *Ledger) Hold(contract, method string) (release func()) {
	gate := make(chan struct{})
	l.mu.Lock()
	l.gates[key(contract, method)] = gate
	l.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// FailWait makes confirmations of contract.method fail with err.
func (l *Ledger) FailWait(contract, method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitErrs[key(contract, method)] = err
}

// Records returns the call journal.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// Mutations counts submitted state-mutating calls of method on any contract.
func (l *Ledger) Mutations(method string) int {
	count := 0
	for _, rec := range l.Records() {
		if rec.Mutating && rec.Method == method {
			count++
		}
	}
	return count
}

// Elapsed reports the total chain time advanced.
func (l *Ledger) Elapsed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.elapsed
}

func (l *Ledger) Identities() []crypto.Identity {
	return append([]crypto.Identity(nil), l.identities...)
}

func (l *Ledger) Deploy(ctx context.Context, artifact ledger.Artifact, signer crypto.Identity, args ...any) (*ledger.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.seq++
	address := common.BigToAddress(new(big.Int).SetUint64(0x1000 + l.seq))
	l.mu.Unlock()
	inv := Invocation{Contract: artifact.Name, Address: address, Method: Constructor, From: signer.Address, Args: args}
	pending, err := l.submit(inv)
	if err != nil {
		return nil, err
	}
	return ledger.NewDeployment(pending, ledger.ContractRef{Name: artifact.Name, Address: address, ABI: artifact.ABI}), nil
}

func (l *Ledger) Call(ctx context.Context, ref ledger.ContractRef, signer crypto.Identity, value *big.Int, method string, args ...any) (ledger.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := Invocation{Contract: ref.Name, Address: ref.Address, Method: method, From: signer.Address, Value: value, Args: args}
	return l.submit(inv)
}

func (l *Ledger) Read(ctx context.Context, ref ledger.ContractRef, from common.Address, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv := Invocation{Contract: ref.Name, Address: ref.Address, Method: method, From: from, Args: args}
	l.mu.Lock()
	inv.Elapsed = l.elapsed
	l.records = append(l.records, Record{Invocation: inv})
	handler := l.handlers[key(ref.Name, method)]
	l.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("ledgertest: no handler for %s.%s", ref.Name, method)
	}
	return handler(inv)
}

func (l *Ledger) AdvanceTime(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.elapsed += d
	return nil
}

func (l *Ledger) submit(inv Invocation) (*pending, error) {
	k := key(inv.Contract, inv.Method)
	l.mu.Lock()
	inv.Elapsed = l.elapsed
	l.records = append(l.records, Record{Invocation: inv, Mutating: true})
	handler := l.handlers[k]
	l.seq++
	p := &pending{
		hash:     common.BigToHash(new(big.Int).SetUint64(l.seq)),
		block:    l.seq,
		gate:     l.gates[k],
		err:      l.waitErrs[k],
		contract: inv.Address,
	}
	l.mu.Unlock()
	if handler != nil {
		if _, err := handler(inv); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type pending struct {
	hash     common.Hash
	block    uint64
	gate     chan struct{}
	err      error
	contract common.Address
}

func (p *pending) Hash() common.Hash { return p.hash }

func (p *pending) Wait(ctx context.Context, _ uint64) (*ledger.Receipt, error) {
	if p.gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.gate:
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &ledger.Receipt{TxHash: p.hash, BlockNumber: p.block, ContractAddress: p.contract}, nil
}
