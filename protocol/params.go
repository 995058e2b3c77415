package protocol

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrInvalidParams is returned when a parameter set violates its documented bounds.
var ErrInvalidParams = errors.New("protocol: invalid parameters")

// ParamsSpec is the raw, unvalidated input for NewParams. Fee amounts are in wei.
type ParamsSpec struct {
	// BorrowRatio is the number of tokens minted per unit of collateral.
	BorrowRatio uint64
	// MinDuration and MaxDuration bound the loan term in days.
	MinDuration uint64
	MaxDuration uint64
	// MinFee and MaxFee bound the protocol fee charged per loan.
	MinFee *big.Int
	MaxFee *big.Int
	// OverdraftPercentDuration is the share of the term (0-100) after which
	// overdraft accrues.
	OverdraftPercentDuration uint64
	// OverdraftFee is the penalty charged once a position is overdrawn.
	OverdraftFee *big.Int
}

// Params holds the lending contract constructor parameters. Values are copied on
// construction and never mutated afterwards.
type Params struct {
	borrowRatio              uint64
	minDuration              uint64
	maxDuration              uint64
	minFee                   *uint256.Int
	maxFee                   *uint256.Int
	overdraftPercentDuration uint64
	overdraftFee             *uint256.Int
}

// NewParams validates spec and returns the immutable parameter record.
func NewParams(spec ParamsSpec) (Params, error) {
	if spec.BorrowRatio == 0 {
		return Params{}, fmt.Errorf("%w: borrow ratio must be positive", ErrInvalidParams)
	}
	if spec.MinDuration == 0 {
		return Params{}, fmt.Errorf("%w: min duration must be positive", ErrInvalidParams)
	}
	if spec.MinDuration > spec.MaxDuration {
		return Params{}, fmt.Errorf("%w: min duration %d exceeds max duration %d", ErrInvalidParams, spec.MinDuration, spec.MaxDuration)
	}
	minFee, err := toUint256("min fee", spec.MinFee)
	if err != nil {
		return Params{}, err
	}
	maxFee, err := toUint256("max fee", spec.MaxFee)
	if err != nil {
		return Params{}, err
	}
	if minFee.Gt(maxFee) {
		return Params{}, fmt.Errorf("%w: min fee %s exceeds max fee %s", ErrInvalidParams, minFee.Dec(), maxFee.Dec())
	}
	if spec.OverdraftPercentDuration > 100 {
		return Params{}, fmt.Errorf("%w: overdraft percent duration %d exceeds 100", ErrInvalidParams, spec.OverdraftPercentDuration)
	}
	overdraftFee, err := toUint256("overdraft fee", spec.OverdraftFee)
	if err != nil {
		return Params{}, err
	}
	return Params{
		borrowRatio:              spec.BorrowRatio,
		minDuration:              spec.MinDuration,
		maxDuration:              spec.MaxDuration,
		minFee:                   minFee,
		maxFee:                   maxFee,
		overdraftPercentDuration: spec.OverdraftPercentDuration,
		overdraftFee:             overdraftFee,
	}, nil
}

func toUint256(label string, value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: %s required", ErrInvalidParams, label)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidParams, label)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows uint256", ErrInvalidParams, label)
	}
	return out, nil
}

func (p Params) BorrowRatio() uint64 { return p.borrowRatio }
func (p Params) MinDuration() uint64 { return p.minDuration }
func (p Params) MaxDuration() uint64 { return p.maxDuration }

func (p Params) OverdraftPercentDuration() uint64 { return p.overdraftPercentDuration }

// MinFee returns a copy of the minimum fee in wei.
func (p Params) MinFee() *big.Int { return bigOrZero(p.minFee) }

// MaxFee returns a copy of the maximum fee in wei.
func (p Params) MaxFee() *big.Int { return bigOrZero(p.maxFee) }

// OverdraftFee returns a copy of the overdraft penalty in wei.
func (p Params) OverdraftFee() *big.Int { return bigOrZero(p.overdraftFee) }

// IsZero reports whether p was never constructed through NewParams.
func (p Params) IsZero() bool { return p.borrowRatio == 0 }

// ConstructorArgs returns the lending contract constructor arguments in their fixed
// order: borrowRatio, minDuration, maxDuration, minFee, maxFee,
// overdraftPercentDuration, overdraftFee.
func (p Params) ConstructorArgs() []any {
	return []any{
		new(big.Int).SetUint64(p.borrowRatio),
		new(big.Int).SetUint64(p.minDuration),
		new(big.Int).SetUint64(p.maxDuration),
		p.MinFee(),
		p.MaxFee(),
		new(big.Int).SetUint64(p.overdraftPercentDuration),
		p.OverdraftFee(),
	}
}

func bigOrZero(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
