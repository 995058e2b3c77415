package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lendingctl/crypto"
	"lendingctl/ledger"
	"lendingctl/protocol"
)

// DeployToken deploys the collateral token and mints initialSupply to owner. The
// returned reference is only usable once both operations are confirmed; any
// failure is fatal.
func (c *Controller) DeployToken(ctx context.Context, initialSupply *big.Int, owner crypto.Identity) (ledger.ContractRef, error) {
	if initialSupply == nil || initialSupply.Sign() < 0 {
		return ledger.ContractRef{}, fmt.Errorf("initial supply must be non-negative")
	}
	var token ledger.ContractRef
	err := c.track(ctx, phaseDeploy, "token", signerAttr(owner), func(ctx context.Context) error {
		c.console.Announce("<g>Deploying token contract...")
		ref, err := c.deploy(ctx, c.artifacts.Token, owner)
		if err != nil {
			return err
		}
		token = ref
		c.console.Announcef("<g>Token deployed at <b>%s", ref.Address.Hex())
		return nil
	})
	if err != nil {
		return ledger.ContractRef{}, err
	}

	err = c.track(ctx, phaseDeploy, protocol.MethodMint, signerAttr(owner), func(ctx context.Context) error {
		c.console.Announcef("<g>Minting <b>%s eth <g>tokens to owner..", protocol.FormatEther(initialSupply))
		if _, err := c.submit(ctx, token, owner, nil, protocol.MethodMint, owner.Address, initialSupply); err != nil {
			return err
		}
		c.console.Announce("<g>Done")
		return nil
	})
	if err != nil {
		return ledger.ContractRef{}, err
	}
	return token, nil
}

// DeployLending deploys the lending contract with params, hands token ownership to
// it and registers the token with it. Each step waits for the previous one.
func (c *Controller) DeployLending(ctx context.Context, params protocol.Params, token ledger.ContractRef, owner crypto.Identity) (ledger.ContractRef, error) {
	if params.IsZero() {
		return ledger.ContractRef{}, fmt.Errorf("%w: parameters not set", protocol.ErrInvalidParams)
	}
	var lending ledger.ContractRef
	err := c.track(ctx, phaseDeploy, "lending", signerAttr(owner), func(ctx context.Context) error {
		c.console.Announce("<g>Deploying lending contract...")
		ref, err := c.deploy(ctx, c.artifacts.Lending, owner, params.ConstructorArgs()...)
		if err != nil {
			return err
		}
		lending = ref
		c.console.Announcef("<g>Lending contract deployed at <b>%s", ref.Address.Hex())
		return nil
	})
	if err != nil {
		return ledger.ContractRef{}, err
	}

	err = c.track(ctx, phaseDeploy, "wire", signerAttr(owner), func(ctx context.Context) error {
		c.console.Announce("<g>Setting token and transfering ownership...")
		if _, err := c.submit(ctx, token, owner, nil, protocol.MethodTransferOwnership, lending.Address); err != nil {
			return err
		}
		if _, err := c.submit(ctx, lending, owner, nil, protocol.MethodSetToken, token.Address); err != nil {
			return err
		}
		c.console.Announce("<g>Done")
		return nil
	})
	if err != nil {
		return ledger.ContractRef{}, err
	}
	return lending, nil
}

func (c *Controller) deploy(ctx context.Context, artifact ledger.Artifact, owner crypto.Identity, args ...any) (ledger.ContractRef, error) {
	deployment, err := c.client.Deploy(ctx, artifact, owner, args...)
	if err != nil {
		return ledger.ContractRef{}, fmt.Errorf("deploy %s: %w", artifact.Name, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tx", deployment.Hash().Hex()),
		attribute.String("contract.address", deployment.Address().Hex()),
	)
	c.logger.Debug("deployment submitted",
		"contract", artifact.Name,
		"address", deployment.Address().Hex(),
		"tx", deployment.Hash().Hex())
	start := time.Now()
	ref, _, err := deployment.Confirm(ctx, c.confirmations)
	c.metrics.ObserveWait(time.Since(start))
	if err != nil {
		return ledger.ContractRef{}, fmt.Errorf("confirm %s deployment %s: %w", artifact.Name, deployment.Hash().Hex(), err)
	}
	return ref, nil
}
