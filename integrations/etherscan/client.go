// Package etherscan submits contract sources to an Etherscan-compatible
// verification API and waits for the verdict.
package etherscan

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendingctl/ledger"
)

var (
	// ErrUnknownContract is returned when no source is registered for a contract name.
	ErrUnknownContract = errors.New("etherscan: unknown contract")
	// ErrVerificationFailed is returned when the service rejects the submission.
	ErrVerificationFailed = errors.New("etherscan: verification failed")
	// ErrStillPending is returned once the poll budget is used up.
	ErrStillPending = errors.New("etherscan: verification still pending")
)

const (
	statusPending  = "Pending in queue"
	statusVerified = "Pass - Verified"
	singleFile     = "solidity-single-file"
)

// Contract is the verifiable form of a deployed contract.
type Contract struct {
	Artifact ledger.Artifact
	// Source is the flattened Solidity source.
	Source string
	// Name is the fully qualified name, e.g. "contracts/LendingToken.sol:LendingToken".
	// Defaults to the artifact name.
	Name            string
	CompilerVersion string
	Optimized       bool
	Runs            int
}

// Config defines the HTTP client settings for the verification API.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
	Transport    http.RoundTripper
}

// Client verifies sources for a fixed set of contracts.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	contracts    map[string]Contract
	httpClient   *http.Client
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config, contracts ...Contract) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("etherscan: base url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("etherscan: api key required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 20
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	registry := make(map[string]Contract, len(contracts))
	for _, contract := range contracts {
		key := contract.Artifact.Name
		if key == "" {
			return nil, fmt.Errorf("etherscan: contract without artifact name")
		}
		if strings.TrimSpace(contract.Source) == "" {
			return nil, fmt.Errorf("etherscan: %s: source required", key)
		}
		if strings.TrimSpace(contract.CompilerVersion) == "" {
			return nil, fmt.Errorf("etherscan: %s: compiler version required", key)
		}
		registry[key] = contract
	}
	return &Client{
		baseURL:      strings.TrimRight(base, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		pollInterval: poll,
		maxPolls:     maxPolls,
		contracts:    registry,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}, nil
}

// Verify submits the source of the named contract deployed at address and polls
// until the service reports a verdict. A contract that is already verified counts
// as success.
func (c *Client) Verify(ctx context.Context, name string, address common.Address, constructorArgs ...any) error {
	if c == nil {
		return fmt.Errorf("etherscan: client not configured")
	}
	contract, ok := c.contracts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	encoded, err := contract.Artifact.ConstructorInput(constructorArgs...)
	if err != nil {
		return fmt.Errorf("etherscan: encode constructor: %w", err)
	}

	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("contractaddress", address.Hex())
	form.Set("sourceCode", contract.Source)
	form.Set("codeformat", singleFile)
	form.Set("contractname", contract.qualifiedName())
	form.Set("compilerversion", contract.CompilerVersion)
	if contract.Optimized {
		form.Set("optimizationUsed", "1")
		form.Set("runs", strconv.Itoa(contract.Runs))
	} else {
		form.Set("optimizationUsed", "0")
	}
	// The misspelling is part of the API.
	form.Set("constructorArguements", hex.EncodeToString(encoded))

	submitted, err := c.post(ctx, form)
	if err != nil {
		return err
	}
	if submitted.Status != "1" {
		if alreadyVerified(submitted.Result) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrVerificationFailed, submitted.Result)
	}
	return c.await(ctx, submitted.Result)
}

func (c *Client) await(ctx context.Context, guid string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		status, err := c.status(ctx, guid)
		if err != nil {
			return err
		}
		switch {
		case status.Result == statusPending:
			continue
		case status.Status == "1" || status.Result == statusVerified:
			return nil
		case alreadyVerified(status.Result):
			return nil
		default:
			return fmt.Errorf("%w: %s", ErrVerificationFailed, status.Result)
		}
	}
	return fmt.Errorf("%w: guid %s after %d polls", ErrStillPending, guid, c.maxPolls)
}

func (c *Client) status(ctx context.Context, guid string) (*apiResponse, error) {
	query := url.Values{}
	query.Set("apikey", c.apiKey)
	query.Set("module", "contract")
	query.Set("action", "checkverifystatus")
	query.Set("guid", guid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("etherscan: request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("etherscan: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("etherscan: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("etherscan: unexpected status %d", resp.StatusCode)
	}
	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("etherscan: decode: %w", err)
	}
	return &payload, nil
}

func (c Contract) qualifiedName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return c.Artifact.Name
}

func alreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), "already verified")
}
