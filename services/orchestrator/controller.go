// Package orchestrator drives the lending protocol lifecycle against a ledger:
// deployment, borrowing and repayment, settlement and source verification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendingctl/console"
	"lendingctl/crypto"
	"lendingctl/ledger"
	"lendingctl/observability"
	"lendingctl/protocol"
)

// ErrMissingBorrower is returned when a planned loan names an identity the ledger
// does not expose.
var ErrMissingBorrower = errors.New("orchestrator: borrower identity not available")

// errNothingToWithdraw marks a settlement operation that was skipped because the
// total read back was zero.
var errNothingToWithdraw = errors.New("nothing to withdraw")

const (
	phaseDeploy     = "deploy"
	phaseVerify     = "verify"
	phaseLoans      = "loans"
	phaseTime       = "time"
	phaseSettlement = "settlement"
)

// Artifacts are the compiled contracts the controller deploys.
type Artifacts struct {
	Token   ledger.Artifact
	Lending ledger.Artifact
}

// BorrowPlan is one loan in the run.
type BorrowPlan struct {
	// Borrower is the identity index; 0 is the owner.
	Borrower   int
	Collateral *big.Int
	Days       uint64
}

// Plan is the resolved scenario a Run executes.
type Plan struct {
	InitialSupply *big.Int
	Params        protocol.Params
	Borrows       []BorrowPlan
	RepayAfter    time.Duration
	WithdrawAfter time.Duration
	Verify        bool
}

// Outcome classifies a step in the run report.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Step is the result of one controller operation.
type Step struct {
	Phase     string
	Operation string
	Subject   string
	Outcome   Outcome
	Receipt   *ledger.Receipt
	Err       error
}

// Report summarises a run.
type Report struct {
	Token     ledger.ContractRef
	Lending   ledger.ContractRef
	Fees      *big.Int
	Overdraft *big.Int
	Steps     []Step
}

// Failures returns the recoverable failures recorded during the run.
func (r Report) Failures() []Step {
	var out []Step
	for _, step := range r.Steps {
		if step.Outcome == OutcomeFailed {
			out = append(out, step)
		}
	}
	return out
}

func (r *Report) record(phase, operation, subject string, receipt *ledger.Receipt, err error) {
	step := Step{Phase: phase, Operation: operation, Subject: subject, Outcome: OutcomeOK, Receipt: receipt}
	switch {
	case err != nil:
		step.Outcome = OutcomeFailed
		step.Err = err
	case receipt == nil:
		step.Outcome = OutcomeSkipped
	}
	r.Steps = append(r.Steps, step)
}

// Controller sequences protocol operations against a ledger. It is not safe for
// concurrent use; a single goroutine issues every call.
type Controller struct {
	client        ledger.Client
	artifacts     Artifacts
	plan          Plan
	console       *console.Formatter
	verifier      Verifier
	metrics       *observability.OrchestratorMetrics
	tracer        trace.Tracer
	logger        *slog.Logger
	confirmations uint64
}

// Option customises the controller.
type Option func(*Controller)

// WithConsole sets the formatter used for operator announcements.
func WithConsole(f *console.Formatter) Option {
	return func(c *Controller) { c.console = f }
}

// WithVerifier enables source verification.
func WithVerifier(v Verifier) Option {
	return func(c *Controller) { c.verifier = v }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.OrchestratorMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithConfirmations sets the confirmation depth awaited after every mutating call.
func WithConfirmations(n uint64) Option {
	return func(c *Controller) { c.confirmations = n }
}

// New constructs a controller for plan.
func New(client ledger.Client, artifacts Artifacts, plan Plan, opts ...Option) (*Controller, error) {
	if client == nil {
		return nil, fmt.Errorf("orchestrator: ledger client required")
	}
	if artifacts.Token.Name == "" || artifacts.Lending.Name == "" {
		return nil, fmt.Errorf("orchestrator: token and lending artifacts required")
	}
	c := &Controller{
		client:        client,
		artifacts:     artifacts,
		plan:          plan,
		metrics:       observability.Orchestrator(),
		tracer:        otel.Tracer("lendingctl/orchestrator"),
		confirmations: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.console == nil {
		c.console = console.New(console.DefaultStyles(), io.Discard)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.confirmations == 0 {
		c.confirmations = 1
	}
	return c, nil
}

// Run executes the plan: deploy both contracts, optionally verify them, open every
// loan, advance time, repay, advance time, withdraw collateral, then settle fees and
// overdraft. Repayment, collateral withdrawal and verification failures are
// announced and recorded; any other failure stops the run.
func (c *Controller) Run(ctx context.Context) (Report, error) {
	var report Report
	identities := c.client.Identities()
	if len(identities) == 0 {
		return report, fmt.Errorf("orchestrator: ledger exposes no identities")
	}
	owner := identities[0]
	borrowers := make([]crypto.Identity, len(c.plan.Borrows))
	for i, loan := range c.plan.Borrows {
		if loan.Borrower <= 0 || loan.Borrower >= len(identities) {
			return report, fmt.Errorf("%w: index %d with %d identities", ErrMissingBorrower, loan.Borrower, len(identities))
		}
		borrowers[i] = identities[loan.Borrower]
	}
	if c.plan.InitialSupply == nil {
		return report, fmt.Errorf("orchestrator: initial supply required")
	}
	if c.plan.Params.IsZero() {
		return report, fmt.Errorf("orchestrator: %w: parameters not set", protocol.ErrInvalidParams)
	}

	token, err := c.DeployToken(ctx, c.plan.InitialSupply, owner)
	if err != nil {
		report.record(phaseDeploy, "token", "", nil, err)
		return report, fmt.Errorf("deploy token: %w", err)
	}
	report.Token = token
	report.record(phaseDeploy, "token", token.Address.Hex(), &ledger.Receipt{ContractAddress: token.Address}, nil)

	lending, err := c.DeployLending(ctx, c.plan.Params, token, owner)
	if err != nil {
		report.record(phaseDeploy, "lending", "", nil, err)
		return report, fmt.Errorf("deploy lending: %w", err)
	}
	report.Lending = lending
	report.record(phaseDeploy, "lending", lending.Address.Hex(), &ledger.Receipt{ContractAddress: lending.Address}, nil)

	if c.plan.Verify {
		err := c.verify(ctx, token.Name, token.Address)
		report.record(phaseVerify, token.Name, token.Address.Hex(), verifiedMarker(token.Address, err), err)
		err = c.verify(ctx, lending.Name, lending.Address, c.plan.Params.ConstructorArgs()...)
		report.record(phaseVerify, lending.Name, lending.Address.Hex(), verifiedMarker(lending.Address, err), err)
	}

	for i, loan := range c.plan.Borrows {
		receipt, err := c.Borrow(ctx, lending, borrowers[i], loan.Collateral, loan.Days)
		report.record(phaseLoans, protocol.MethodBorrowTokens, borrowers[i].Address.Hex(), receipt, err)
		if err != nil {
			return report, fmt.Errorf("borrow for %s: %w", borrowers[i].Address.Hex(), err)
		}
	}

	if err := c.AdvanceTime(ctx, c.plan.RepayAfter); err != nil {
		return report, fmt.Errorf("advance time before repayment: %w", err)
	}
	for _, borrower := range borrowers {
		receipt, err := c.repay(ctx, lending, borrower)
		report.record(phaseLoans, protocol.MethodReturnTokens, borrower.Address.Hex(), receipt, err)
	}

	if err := c.AdvanceTime(ctx, c.plan.WithdrawAfter); err != nil {
		return report, fmt.Errorf("advance time before collateral withdrawal: %w", err)
	}
	for _, borrower := range borrowers {
		receipt, err := c.withdrawCollateral(ctx, lending, borrower)
		report.record(phaseLoans, protocol.MethodWithdrawEth, borrower.Address.Hex(), receipt, err)
	}

	fees, receipt, err := c.withdrawFees(ctx, lending, owner)
	report.Fees = fees
	report.record(phaseSettlement, protocol.MethodWithdrawFees, owner.Address.Hex(), receipt, err)
	if err != nil {
		return report, fmt.Errorf("withdraw fees: %w", err)
	}

	overdraft, receipt, err := c.withdrawOverdraft(ctx, lending, owner)
	report.Overdraft = overdraft
	report.record(phaseSettlement, protocol.MethodWithdrawOverdraft, owner.Address.Hex(), receipt, err)
	if err != nil {
		return report, fmt.Errorf("withdraw overdraft: %w", err)
	}

	c.logger.Info("run complete",
		slog.String("token", token.Address.Hex()),
		slog.String("lending", lending.Address.Hex()),
		slog.Int("steps", len(report.Steps)),
		slog.Int("failures", len(report.Failures())))
	return report, nil
}

// AdvanceTime moves ledger time forward by d. Zero durations are ignored.
func (c *Controller) AdvanceTime(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return c.track(ctx, phaseTime, "advance", nil, func(ctx context.Context) error {
		c.console.Announcef("<g>Advancing time by <b>%s", humanDuration(d))
		return c.client.AdvanceTime(ctx, d)
	})
}

// track runs fn inside a span and records its outcome in metrics and logs.
func (c *Controller) track(ctx context.Context, phase, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, phase+"."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("phase", phase),
			attribute.String("operation", operation),
		}, attrs...)...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	logAttrs := []any{
		slog.String("phase", phase),
		slog.String("operation", operation),
		slog.Duration("elapsed", elapsed),
	}
	for _, attr := range attrs {
		logAttrs = append(logAttrs, slog.String(string(attr.Key), attr.Value.Emit()))
	}
	switch {
	case errors.Is(err, errNothingToWithdraw):
		c.metrics.RecordSkip(phase, operation)
		span.SetStatus(codes.Ok, "skipped")
		c.logger.Info("operation skipped", logAttrs...)
		return err
	case err != nil:
		c.metrics.Observe(phase, operation, elapsed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("operation failed", append(logAttrs, slog.Any("error", err))...)
		return err
	}
	c.metrics.Observe(phase, operation, elapsed, nil)
	span.SetStatus(codes.Ok, "confirmed")
	c.logger.Info("operation confirmed", logAttrs...)
	return nil
}

// submit issues a mutating call and blocks until it is confirmed.
func (c *Controller) submit(ctx context.Context, ref ledger.ContractRef, signer crypto.Identity, value *big.Int, method string, args ...any) (*ledger.Receipt, error) {
	pending, err := c.client.Call(ctx, ref, signer, value, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ref.Name, method, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tx", pending.Hash().Hex()))
	c.logger.Debug("transaction submitted",
		slog.String("contract", ref.Name),
		slog.String("method", method),
		slog.String("signer", signer.Address.Hex()),
		slog.String("tx", pending.Hash().Hex()))
	receipt, err := c.wait(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("%s.%s %s: %w", ref.Name, method, pending.Hash().Hex(), err)
	}
	return receipt, nil
}

func (c *Controller) wait(ctx context.Context, pending ledger.Pending) (*ledger.Receipt, error) {
	start := time.Now()
	receipt, err := pending.Wait(ctx, c.confirmations)
	c.metrics.ObserveWait(time.Since(start))
	return receipt, err
}

func (c *Controller) readBig(ctx context.Context, ref ledger.ContractRef, from common.Address, method string, args ...any) (*big.Int, error) {
	value, err := ledger.ReadBig(ctx, c.client, ref, from, method, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s.%s: %w", ref.Name, method, err)
	}
	return value, nil
}

func signerAttr(id crypto.Identity) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("signer", id.Address.Hex())}
}

func humanDuration(d time.Duration) string {
	day := 24 * time.Hour
	if d >= day && d%day == 0 {
		if d == day {
			return "1 day"
		}
		return fmt.Sprintf("%d days", d/day)
	}
	return d.String()
}

func verifiedMarker(address common.Address, err error) *ledger.Receipt {
	if err != nil {
		return nil
	}
	return &ledger.Receipt{ContractAddress: address}
}
