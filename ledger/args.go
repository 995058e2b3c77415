package ledger

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// coerceArgs converts *big.Int and plain integer arguments into the exact Go types
// the ABI packer expects for each input, so callers can pass protocol values without
// knowing whether the contract declares uint8, uint64 or uint256.
func coerceArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("argument count mismatch: want %d, got %d", len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, arg := range args {
		converted, err := coerce(inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, inputs[i].Name, err)
		}
		out[i] = converted
	}
	return out, nil
}

func coerce(typ abi.Type, arg any) (any, error) {
	if typ.T != abi.UintTy && typ.T != abi.IntTy {
		return arg, nil
	}
	value, ok := toBig(arg)
	if !ok {
		return arg, nil
	}
	if typ.T == abi.UintTy && value.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s for %s", value, typ.String())
	}
	limit := typ.Size
	if typ.T == abi.IntTy {
		limit--
	}
	if value.BitLen() > limit {
		return nil, fmt.Errorf("value %s overflows %s", value, typ.String())
	}
	goType := typ.GetType()
	if goType.Kind() == reflect.Ptr {
		return value, nil
	}
	target := reflect.New(goType).Elem()
	if typ.T == abi.UintTy {
		target.SetUint(value.Uint64())
	} else {
		target.SetInt(value.Int64())
	}
	return target.Interface(), nil
}

func toBig(arg any) (*big.Int, bool) {
	switch v := arg.(type) {
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Int).Set(v), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case int64:
		return big.NewInt(v), true
	case int:
		return big.NewInt(int64(v)), true
	}
	return nil, false
}
