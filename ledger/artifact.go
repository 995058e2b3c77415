package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

type artifactFile struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// LoadArtifact reads a Hardhat/Truffle style artifact JSON file.
func LoadArtifact(path string) (Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	artifact, err := ParseArtifact(raw)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %s: %w", path, err)
	}
	return artifact, nil
}

// ParseArtifact decodes artifact JSON.
func ParseArtifact(raw []byte) (Artifact, error) {
	var file artifactFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	if strings.TrimSpace(file.ContractName) == "" {
		return Artifact{}, fmt.Errorf("contractName missing")
	}
	if len(file.ABI) == 0 {
		return Artifact{}, fmt.Errorf("abi missing")
	}
	parsed, err := abi.JSON(bytes.NewReader(file.ABI))
	if err != nil {
		return Artifact{}, fmt.Errorf("parse abi: %w", err)
	}
	code := strings.TrimSpace(file.Bytecode)
	if code == "" || code == "0x" {
		return Artifact{}, fmt.Errorf("bytecode missing")
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	bytecode, err := hexutil.Decode(code)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode bytecode: %w", err)
	}
	return Artifact{Name: file.ContractName, ABI: parsed, Bytecode: bytecode}, nil
}

// ConstructorInput packs constructor arguments without the creation code.
func (a Artifact) ConstructorInput(args ...any) ([]byte, error) {
	if len(a.ABI.Constructor.Inputs) == 0 {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: constructor takes no arguments, got %d", a.Name, len(args))
		}
		return nil, nil
	}
	coerced, err := coerceArgs(a.ABI.Constructor.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.Name, err)
	}
	packed, err := a.ABI.Pack("", coerced...)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.Name, err)
	}
	return packed, nil
}

// DeployData returns the creation bytecode followed by the packed constructor input.
func (a Artifact) DeployData(args ...any) ([]byte, error) {
	input, err := a.ConstructorInput(args...)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(a.Bytecode)+len(input))
	data = append(data, a.Bytecode...)
	return append(data, input...), nil
}
