// Package ledger defines the narrow interface the orchestrator uses to drive
// contracts on a remote ledger, plus an EVM implementation over JSON-RPC.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"lendingctl/crypto"
)

// Client is the ledger surface consumed by the orchestration phases. Every method
// that mutates state returns a Pending handle that must be waited on before any
// causally dependent call is issued.
type Client interface {
	Identities() []crypto.Identity
	Deploy(ctx context.Context, artifact Artifact, signer crypto.Identity, args ...any) (*Deployment, error)
	Call(ctx context.Context, ref ContractRef, signer crypto.Identity, value *big.Int, method string, args ...any) (Pending, error)
	Read(ctx context.Context, ref ContractRef, from common.Address, method string, args ...any) ([]any, error)
	AdvanceTime(ctx context.Context, d time.Duration) error
}

// Pending is a submitted state-mutating call awaiting inclusion.
type Pending interface {
	Hash() common.Hash
	// Wait blocks until the call is included and buried under the requested number
	// of confirmations, or ctx is done.
	Wait(ctx context.Context, confirmations uint64) (*Receipt, error)
}

// Receipt is the confirmed outcome of a Pending operation.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
	ContractAddress common.Address
}

// ContractRef identifies a deployed contract and its call surface.
type ContractRef struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

func (r ContractRef) String() string {
	return fmt.Sprintf("%s@%s", r.Name, r.Address.Hex())
}

// Deployment is a pending contract creation. The contract reference is only handed
// out once the creation has been confirmed.
type Deployment struct {
	pending Pending
	ref     ContractRef
}

// NewDeployment pairs a pending creation with the address it will occupy.
func NewDeployment(pending Pending, ref ContractRef) *Deployment {
	return &Deployment{pending: pending, ref: ref}
}

// Hash returns the creation transaction hash.
func (d *Deployment) Hash() common.Hash { return d.pending.Hash() }

// Address returns the address the contract will occupy once confirmed.
func (d *Deployment) Address() common.Address { return d.ref.Address }

// Confirm waits for the creation to be confirmed and returns the usable reference.
func (d *Deployment) Confirm(ctx context.Context, confirmations uint64) (ContractRef, *Receipt, error) {
	receipt, err := d.pending.Wait(ctx, confirmations)
	if err != nil {
		return ContractRef{}, nil, err
	}
	return d.ref, receipt, nil
}

// ReadBig reads a method returning a single unsigned integer.
func ReadBig(ctx context.Context, client Client, ref ContractRef, from common.Address, method string, args ...any) (*big.Int, error) {
	out, err := client.Read(ctx, ref, from, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s.%s: expected 1 return value, got %d", ref.Name, method, len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s.%s: expected integer return, got %T", ref.Name, method, out[0])
	}
	return value, nil
}
