package orchestrator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendingctl/ledger"
	"lendingctl/ledger/ledgertest"
	"lendingctl/protocol"
)

const day = 24 * time.Hour

type loan struct {
	days     uint64
	opened   time.Duration
	repaid   bool
	returned bool
}

// lendingModel scripts a ledgertest.Ledger with a small model of the lending
// contract: loans must run their full term before repayment, each repayment
// earns a fixed fee, and unrepaid loans past half their term accrue overdraft.
type lendingModel struct {
	mu        sync.Mutex
	params    protocol.Params
	balances  map[common.Address]*big.Int
	loans     map[common.Address]*loan
	fees      *big.Int
	overdraft *big.Int
}

func newLendingModel(l *ledgertest.Ledger, params protocol.Params) *lendingModel {
	m := &lendingModel{
		params:    params,
		balances:  map[common.Address]*big.Int{},
		loans:     map[common.Address]*loan{},
		fees:      new(big.Int),
		overdraft: new(big.Int),
	}
	ok := func(ledgertest.Invocation) ([]any, error) { return nil, nil }
	l.Handle(protocol.TokenContract, ledgertest.Constructor, ok)
	l.Handle(protocol.TokenContract, protocol.MethodMint, ok)
	l.Handle(protocol.TokenContract, protocol.MethodTransferOwnership, ok)
	l.Handle(protocol.LendingContract, ledgertest.Constructor, ok)
	l.Handle(protocol.LendingContract, protocol.MethodSetToken, ok)
	l.Handle(protocol.LendingContract, protocol.MethodBorrowTokens, m.borrow)
	l.Handle(protocol.LendingContract, protocol.MethodReturnTokens, m.repay)
	l.Handle(protocol.LendingContract, protocol.MethodWithdrawEth, m.withdraw)
	l.Handle(protocol.LendingContract, protocol.MethodBalanceOf, m.balanceOf)
	l.Handle(protocol.LendingContract, protocol.MethodGetTotalFees, m.totalFees)
	l.Handle(protocol.LendingContract, protocol.MethodWithdrawFees, m.withdrawFees)
	l.Handle(protocol.LendingContract, protocol.MethodCalculateOverdraft, m.calculateOverdraft)
	l.Handle(protocol.LendingContract, protocol.MethodGetTotalOverdraft, m.totalOverdraft)
	l.Handle(protocol.LendingContract, protocol.MethodWithdrawOverdraft, m.withdrawOverdraft)
	return m
}

func (m *lendingModel) borrow(inv ledgertest.Invocation) ([]any, error) {
	days, ok := inv.Args[0].(uint64)
	if !ok {
		return nil, fmt.Errorf("borrowTokens: unexpected argument %T", inv.Args[0])
	}
	if days < m.params.MinDuration() || days > m.params.MaxDuration() {
		return nil, &ledger.RevertError{Reason: "duration out of bounds"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	minted := new(big.Int).Mul(inv.Value, new(big.Int).SetUint64(m.params.BorrowRatio()))
	m.balances[inv.From] = minted
	m.loans[inv.From] = &loan{days: days, opened: inv.Elapsed}
	return nil, nil
}

func (m *lendingModel) repay(inv ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[inv.From]
	if !ok || l.repaid {
		return nil, &ledger.RevertError{Reason: "no active loan"}
	}
	if inv.Elapsed-l.opened < time.Duration(l.days)*day {
		return nil, &ledger.RevertError{Reason: "loan not due"}
	}
	l.repaid = true
	m.balances[inv.From] = new(big.Int)
	m.fees.Add(m.fees, m.params.MinFee())
	return nil, nil
}

func (m *lendingModel) withdraw(inv ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[inv.From]
	if !ok || !l.repaid || l.returned {
		return nil, &ledger.RevertError{Reason: "tokens not returned"}
	}
	l.returned = true
	return nil, nil
}

func (m *lendingModel) balanceOf(inv ledgertest.Invocation) ([]any, error) {
	account, ok := inv.Args[0].(common.Address)
	if !ok {
		return nil, errors.New("balanceOf: address expected")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[account]
	if balance == nil {
		balance = new(big.Int)
	}
	return []any{new(big.Int).Set(balance)}, nil
}

func (m *lendingModel) totalFees(ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []any{new(big.Int).Set(m.fees)}, nil
}

func (m *lendingModel) withdrawFees(ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees = new(big.Int)
	return nil, nil
}

func (m *lendingModel) calculateOverdraft(inv ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.repaid {
			continue
		}
		threshold := time.Duration(l.days) * day * time.Duration(m.params.OverdraftPercentDuration()) / 100
		if inv.Elapsed-l.opened >= threshold {
			m.overdraft.Add(m.overdraft, m.params.OverdraftFee())
		}
	}
	return nil, nil
}

func (m *lendingModel) totalOverdraft(ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []any{new(big.Int).Set(m.overdraft)}, nil
}

func (m *lendingModel) withdrawOverdraft(inv ledgertest.Invocation) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[inv.From]
	if balance == nil {
		balance = new(big.Int)
	}
	m.balances[inv.From] = new(big.Int).Add(balance, m.overdraft)
	m.overdraft = new(big.Int)
	return nil, nil
}
