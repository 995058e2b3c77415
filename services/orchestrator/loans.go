package orchestrator

import (
	"context"
	"math/big"

	"go.opentelemetry.io/otel/attribute"

	"lendingctl/crypto"
	"lendingctl/ledger"
	"lendingctl/protocol"
)

// Borrow opens a loan for borrower by sending collateral to borrowTokens for the
// given number of days, then reads the borrower's token balance. Duration bounds
// are enforced by the contract, not here.
func (c *Controller) Borrow(ctx context.Context, lending ledger.ContractRef, borrower crypto.Identity, collateral *big.Int, days uint64) (*ledger.Receipt, error) {
	var receipt *ledger.Receipt
	attrs := append(signerAttr(borrower), attribute.Int64("days", int64(days)))
	err := c.track(ctx, phaseLoans, protocol.MethodBorrowTokens, attrs, func(ctx context.Context) error {
		c.console.Announcef("<g>Borrowing tokens to <b>%s", borrower.Address.Hex())
		r, err := c.submit(ctx, lending, borrower, collateral, protocol.MethodBorrowTokens, days)
		if err != nil {
			return err
		}
		receipt = r
		balance, err := c.readBig(ctx, lending, borrower.Address, protocol.MethodBalanceOf, borrower.Address)
		if err != nil {
			return err
		}
		c.console.Announcef("<g>Tokens successfully borrowed, address balance: <b>%s eth", protocol.FormatEther(balance))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Repay returns the borrower's tokens. Failures, including a loan that is not due
// yet, are announced and yield a nil receipt.
func (c *Controller) Repay(ctx context.Context, lending ledger.ContractRef, borrower crypto.Identity) *ledger.Receipt {
	receipt, _ := c.repay(ctx, lending, borrower)
	return receipt
}

func (c *Controller) repay(ctx context.Context, lending ledger.ContractRef, borrower crypto.Identity) (*ledger.Receipt, error) {
	var receipt *ledger.Receipt
	err := c.track(ctx, phaseLoans, protocol.MethodReturnTokens, signerAttr(borrower), func(ctx context.Context) error {
		c.console.Announcef("<g>Returning tokens from <b>%s", borrower.Address.Hex())
		r, err := c.submit(ctx, lending, borrower, nil, protocol.MethodReturnTokens)
		if err != nil {
			return err
		}
		receipt = r
		balance, err := c.readBig(ctx, lending, borrower.Address, protocol.MethodBalanceOf, borrower.Address)
		if err != nil {
			return err
		}
		c.console.Announcef("<g>Tokens successfully burnt, address balance: <b>%s eth", protocol.FormatEther(balance))
		return nil
	})
	if err != nil {
		c.console.Failure(err, "Failed to return tokens")
		return nil, err
	}
	return receipt, nil
}

// WithdrawCollateral withdraws the borrower's remaining collateral. Failures are
// announced and yield a nil receipt.
func (c *Controller) WithdrawCollateral(ctx context.Context, lending ledger.ContractRef, borrower crypto.Identity) *ledger.Receipt {
	receipt, _ := c.withdrawCollateral(ctx, lending, borrower)
	return receipt
}

func (c *Controller) withdrawCollateral(ctx context.Context, lending ledger.ContractRef, borrower crypto.Identity) (*ledger.Receipt, error) {
	var receipt *ledger.Receipt
	err := c.track(ctx, phaseLoans, protocol.MethodWithdrawEth, signerAttr(borrower), func(ctx context.Context) error {
		c.console.Announcef("<g>Withdrawing remaining eth of <b>%s", borrower.Address.Hex())
		r, err := c.submit(ctx, lending, borrower, nil, protocol.MethodWithdrawEth)
		if err != nil {
			return err
		}
		receipt = r
		c.console.Announce("<g>Eth successfully returned")
		return nil
	})
	if err != nil {
		c.console.Failure(err, "Error returning eth")
		return nil, err
	}
	return receipt, nil
}
