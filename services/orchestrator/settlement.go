package orchestrator

import (
	"context"
	"errors"
	"math/big"

	"lendingctl/crypto"
	"lendingctl/ledger"
	"lendingctl/protocol"
)

// WithdrawFees reads the accumulated fees and, when positive, withdraws them to
// owner. A zero total issues no call and returns a nil receipt.
func (c *Controller) WithdrawFees(ctx context.Context, lending ledger.ContractRef, owner crypto.Identity) (*ledger.Receipt, error) {
	_, receipt, err := c.withdrawFees(ctx, lending, owner)
	return receipt, err
}

func (c *Controller) withdrawFees(ctx context.Context, lending ledger.ContractRef, owner crypto.Identity) (*big.Int, *ledger.Receipt, error) {
	var (
		total   *big.Int
		receipt *ledger.Receipt
	)
	err := c.track(ctx, phaseSettlement, protocol.MethodWithdrawFees, signerAttr(owner), func(ctx context.Context) error {
		c.console.Announce("<g>Withdrawing fees...")
		fees, err := c.readBig(ctx, lending, owner.Address, protocol.MethodGetTotalFees)
		if err != nil {
			return err
		}
		total = fees
		c.metrics.RecordSettlement("fees", protocol.EtherFloat(fees))
		c.console.Announcef("<g>Total fees: <b>%s eth", protocol.FormatEther(fees))
		if fees.Sign() <= 0 {
			c.console.Announce("<r>No fee to withdraw")
			return errNothingToWithdraw
		}
		r, err := c.submit(ctx, lending, owner, nil, protocol.MethodWithdrawFees)
		if err != nil {
			return err
		}
		receipt = r
		c.console.Announce("<g>Fees successfully withdrawn")
		return nil
	})
	if errors.Is(err, errNothingToWithdraw) {
		return total, nil, nil
	}
	return total, receipt, err
}

// WithdrawOverdraft asks the lending contract to compute overdue penalties, reads
// the total and, when positive, withdraws it to owner, announcing the owner's
// balance before and after. A zero total issues no withdrawal.
func (c *Controller) WithdrawOverdraft(ctx context.Context, lending ledger.ContractRef, owner crypto.Identity) (*ledger.Receipt, error) {
	_, receipt, err := c.withdrawOverdraft(ctx, lending, owner)
	return receipt, err
}

func (c *Controller) withdrawOverdraft(ctx context.Context, lending ledger.ContractRef, owner crypto.Identity) (*big.Int, *ledger.Receipt, error) {
	var (
		total   *big.Int
		receipt *ledger.Receipt
	)
	err := c.track(ctx, phaseSettlement, protocol.MethodWithdrawOverdraft, signerAttr(owner), func(ctx context.Context) error {
		c.console.Announce("<g>Withdrawing overdraft...", "<g>Calculating...")
		if _, err := c.submit(ctx, lending, owner, nil, protocol.MethodCalculateOverdraft); err != nil {
			return err
		}
		c.console.Announce("<g>Done")

		overdraft, err := c.readBig(ctx, lending, owner.Address, protocol.MethodGetTotalOverdraft)
		if err != nil {
			return err
		}
		total = overdraft
		c.metrics.RecordSettlement("overdraft", protocol.EtherFloat(overdraft))
		c.console.Announcef("<g>Total overdraft: <b>%s eth", protocol.FormatEther(overdraft))
		if overdraft.Sign() <= 0 {
			c.console.Announce("<r>No overdraft to withdraw")
			return errNothingToWithdraw
		}

		before, err := c.readBig(ctx, lending, owner.Address, protocol.MethodBalanceOf, owner.Address)
		if err != nil {
			return err
		}
		c.console.Announcef("<g>Owner token balance: <b>%s eth", protocol.FormatEther(before))
		r, err := c.submit(ctx, lending, owner, nil, protocol.MethodWithdrawOverdraft)
		if err != nil {
			return err
		}
		receipt = r
		after, err := c.readBig(ctx, lending, owner.Address, protocol.MethodBalanceOf, owner.Address)
		if err != nil {
			return err
		}
		c.console.Announcef("<g>Owner token new balance: <b>%s eth", protocol.FormatEther(after))
		c.console.Announce("<g>Overdraft successfully withdrawn")
		return nil
	})
	if errors.Is(err, errNothingToWithdraw) {
		return total, nil, nil
	}
	return total, receipt, err
}
