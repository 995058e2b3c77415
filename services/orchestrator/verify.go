package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"lendingctl/integrations/etherscan"
	"lendingctl/ledger"
)

// VerifyRequest identifies a deployed contract whose source should be published.
type VerifyRequest struct {
	Contract        string
	Address         common.Address
	ConstructorArgs []any
}

// Verifier publishes contract sources to a block explorer.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req VerifyRequest) error

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, req VerifyRequest) error { return f(ctx, req) }

// Verify submits the named contract for source verification. Failures are
// announced and never stop the caller.
func (c *Controller) Verify(ctx context.Context, name string, address common.Address, args ...any) {
	_ = c.verify(ctx, name, address, args...)
}

func (c *Controller) verify(ctx context.Context, name string, address common.Address, args ...any) error {
	attrs := []attribute.KeyValue{attribute.String("contract.address", address.Hex())}
	err := c.track(ctx, phaseVerify, name, attrs, func(ctx context.Context) error {
		c.console.Announcef("<g>Verifying contract at: <b>%s", address.Hex())
		if c.verifier == nil {
			return fmt.Errorf("no verifier configured")
		}
		if err := c.verifier.Verify(ctx, VerifyRequest{Contract: name, Address: address, ConstructorArgs: args}); err != nil {
			return err
		}
		c.console.Announce("<g>Success")
		return nil
	})
	if err != nil {
		c.console.Failure(err, "Error verifying contract")
	}
	return err
}

type etherscanVerifier struct {
	client *etherscan.Client
}

func (v etherscanVerifier) Verify(ctx context.Context, req VerifyRequest) error {
	return v.client.Verify(ctx, req.Contract, req.Address, req.ConstructorArgs...)
}

// NewEtherscanVerifier builds a Verifier backed by an Etherscan-compatible API for
// the token and lending contracts.
func NewEtherscanVerifier(cfg VerificationConfig, artifacts Artifacts) (Verifier, error) {
	contracts := make([]etherscan.Contract, 0, 2)
	for _, artifact := range []ledger.Artifact{artifacts.Token, artifacts.Lending} {
		source, ok := cfg.Sources[artifact.Name]
		if !ok {
			return nil, fmt.Errorf("verification source for %s not configured", artifact.Name)
		}
		contents, err := os.ReadFile(strings.TrimSpace(source.Path))
		if err != nil {
			return nil, fmt.Errorf("read %s source: %w", artifact.Name, err)
		}
		contracts = append(contracts, etherscan.Contract{
			Artifact:        artifact,
			Source:          string(contents),
			Name:            source.Name,
			CompilerVersion: cfg.CompilerVersion,
			Optimized:       cfg.Optimized,
			Runs:            cfg.Runs,
		})
	}
	client, err := etherscan.NewClient(etherscan.Config{
		BaseURL:      cfg.APIURL,
		APIKey:       cfg.APIKey,
		Timeout:      30 * time.Second,
		PollInterval: cfg.PollInterval.Duration,
		MaxPolls:     cfg.MaxPolls,
	}, contracts...)
	if err != nil {
		return nil, err
	}
	return etherscanVerifier{client: client}, nil
}
