package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"lendingctl/ledger"
)

const tokenArtifact = `{"contractName":"LendingToken","abi":[{"type":"constructor","inputs":[{"name":"cap","type":"uint256"}]}],"bytecode":"0x6080"}`

type fakeExplorer struct {
	mu       sync.Mutex
	submit   apiResponse
	statuses []string
	forms    []map[string]string
	polls    int
}

func (f *fakeExplorer) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for key := range req.PostForm {
			form[key] = req.PostForm.Get(key)
		}
		f.mu.Lock()
		f.forms = append(f.forms, form)
		resp := f.submit
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Get("/api", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("action") != "checkverifystatus" || req.URL.Query().Get("guid") != "guid-1" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		result := statusPending
		if f.polls < len(f.statuses) {
			result = f.statuses[f.polls]
		}
		f.polls++
		f.mu.Unlock()
		status := "0"
		if result == statusVerified {
			status = "1"
		}
		_ = json.NewEncoder(w).Encode(apiResponse{Status: status, Message: "OK", Result: result})
	})
	return r
}

func (f *fakeExplorer) snapshot() ([]map[string]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.forms...), f.polls
}

func newTestClient(t *testing.T, explorer *fakeExplorer) *Client {
	t.Helper()
	server := httptest.NewServer(explorer.router())
	t.Cleanup(server.Close)
	artifact, err := ledger.ParseArtifact([]byte(tokenArtifact))
	require.NoError(t, err)
	client, err := NewClient(Config{
		BaseURL:      server.URL + "/api",
		APIKey:       "key",
		PollInterval: time.Millisecond,
		MaxPolls:     3,
	}, Contract{
		Artifact:        artifact,
		Source:          "pragma solidity ^0.8.0;",
		Name:            "contracts/LendingToken.sol:LendingToken",
		CompilerVersion: "v0.8.4+commit.c7e474f2",
	})
	require.NoError(t, err)
	return client
}

func TestVerifySubmitsAndPolls(t *testing.T) {
	explorer := &fakeExplorer{
		submit:   apiResponse{Status: "1", Message: "OK", Result: "guid-1"},
		statuses: []string{statusPending, statusVerified},
	}
	client := newTestClient(t, explorer)
	address := common.HexToAddress("0x00000000000000000000000000000000000010aa")

	require.NoError(t, client.Verify(context.Background(), "LendingToken", address, big.NewInt(7)))

	forms, polls := explorer.snapshot()
	require.Len(t, forms, 1)
	form := forms[0]
	require.Equal(t, "verifysourcecode", form["action"])
	require.Equal(t, address.Hex(), form["contractaddress"])
	require.Equal(t, "contracts/LendingToken.sol:LendingToken", form["contractname"])
	require.Equal(t, strings.Repeat("0", 63)+"7", form["constructorArguements"])
	require.Equal(t, "0", form["optimizationUsed"])
	require.Equal(t, 2, polls)
}

func TestVerifyTreatsAlreadyVerifiedAsSuccess(t *testing.T) {
	explorer := &fakeExplorer{submit: apiResponse{Status: "0", Message: "NOTOK", Result: "Contract source code already verified"}}
	client := newTestClient(t, explorer)
	require.NoError(t, client.Verify(context.Background(), "LendingToken", common.Address{}, big.NewInt(1)))
	_, polls := explorer.snapshot()
	require.Zero(t, polls)
}

func TestVerifyReportsRejection(t *testing.T) {
	explorer := &fakeExplorer{
		submit:   apiResponse{Status: "1", Message: "OK", Result: "guid-1"},
		statuses: []string{"Fail - Unable to verify"},
	}
	client := newTestClient(t, explorer)
	err := client.Verify(context.Background(), "LendingToken", common.Address{}, big.NewInt(1))
	require.ErrorIs(t, err, ErrVerificationFailed)
	require.Contains(t, err.Error(), "Unable to verify")
}

func TestVerifyGivesUpAfterPollBudget(t *testing.T) {
	explorer := &fakeExplorer{submit: apiResponse{Status: "1", Message: "OK", Result: "guid-1"}}
	client := newTestClient(t, explorer)
	err := client.Verify(context.Background(), "LendingToken", common.Address{}, big.NewInt(1))
	require.ErrorIs(t, err, ErrStillPending)
	_, polls := explorer.snapshot()
	require.Equal(t, 3, polls)
}

func TestVerifyUnknownContract(t *testing.T) {
	explorer := &fakeExplorer{}
	client := newTestClient(t, explorer)
	err := client.Verify(context.Background(), "LendingContract", common.Address{})
	require.True(t, errors.Is(err, ErrUnknownContract))
	forms, _ := explorer.snapshot()
	require.Empty(t, forms)
}

func TestNewClientValidatesContracts(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://x", APIKey: "k"}, Contract{Artifact: ledger.Artifact{Name: "LendingToken"}})
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x"})
	require.Error(t, err)
}
