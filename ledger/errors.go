package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrReverted marks calls rejected by contract code.
	ErrReverted = errors.New("ledger: execution reverted")
	// ErrUnknownMethod is returned when a method is missing from a contract ABI.
	ErrUnknownMethod = errors.New("ledger: unknown contract method")
)

// RevertError carries the decoded revert reason, when the node supplied one.
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	var b strings.Builder
	b.WriteString(ErrReverted.Error())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.TxHash != (common.Hash{}) {
		b.WriteString(" (tx ")
		b.WriteString(e.TxHash.Hex())
		b.WriteString(")")
	}
	return b.String()
}

func (e *RevertError) Unwrap() error { return ErrReverted }

// decodeRevert turns a node error into a RevertError when it carries revert data
// or the canonical revert message, and otherwise returns err unchanged.
func decodeRevert(err error) error {
	if err == nil {
		return nil
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return &RevertError{Reason: reason}
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		return &RevertError{Reason: reason}
	}
	if strings.Contains(msg, "revert") {
		return fmt.Errorf("%w: %s", ErrReverted, msg)
	}
	return err
}
