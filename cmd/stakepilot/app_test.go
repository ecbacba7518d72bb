package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"StakePilot-Chain/internal/api"
	"StakePilot-Chain/internal/config"
	"StakePilot-Chain/internal/conversation"
	"StakePilot-Chain/internal/staking"
	"StakePilot-Chain/internal/thread"
	"StakePilot-Chain/internal/web3"
	"StakePilot-Chain/internal/web3/provider"
	"StakePilot-Chain/pkg/logger"
)

type stubWallet struct {
	mu       sync.Mutex
	delegate int
	fail     bool
	gate     chan struct{}
}

func (w *stubWallet) delegateCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delegate
}

func (w *stubWallet) Connected() bool { return true }

func (w *stubWallet) Delegate(context.Context, *big.Int, *big.Int) (string, error) {
	w.mu.Lock()
	w.delegate++
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return "0xabc", nil
}

func (w *stubWallet) Undelegate(context.Context, *big.Int, *big.Int, *big.Int) (string, error) {
	return "0xdef", nil
}

func (w *stubWallet) ClaimRewards(context.Context, *big.Int) (string, error) { return "0x1", nil }

func (w *stubWallet) RestakeRewards(context.Context, *big.Int) (string, error) { return "0x2", nil }

func (w *stubWallet) LockStake(context.Context, *big.Int, *big.Int, *big.Int) (string, error) {
	return "0x3", nil
}

func (w *stubWallet) WaitReceipt(_ context.Context, hash string) (*web3.Receipt, error) {
	status := web3.ReceiptStatusSuccessful
	if w.fail {
		status = 0
	}
	return &web3.Receipt{TxHash: hash, Status: status, BlockNumber: 7}, nil
}

type fixture struct {
	store  *conversation.MemoryStore
	url    string
	config string
	wallet *stubWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := conversation.NewMemoryStore()
	svc := thread.NewService(store, nil, thread.WithLogger(logger.Discard()))
	ts := httptest.NewServer(api.NewServer(":0", svc, api.WithLogger(logger.Discard())).Handler())
	t.Cleanup(ts.Close)

	args, _ := json.Marshal(map[string]any{"validatorID": 1, "amount": "100"})
	if _, err := store.Append(context.Background(), "t1", []conversation.Message{
		{ID: "h1", Role: conversation.RoleHuman, Content: "stake 100 U2U"},
		{ID: "ai1", Role: conversation.RoleAI, ToolCalls: []conversation.ToolCall{{ID: "call-1", Name: "delegate", Args: args}}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "stakepilot.json")
	content := `{"storage":{"message_store":{"driver":"memory"}},"web3":{"rpc_url":"http://127.0.0.1:1","explorer_host":"testnet.u2uscan.xyz"},"logging":{"level":"error"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &fixture{store: store, url: ts.URL, config: path, wallet: &stubWallet{}}
}

func (f *fixture) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	r := newRunner(&stdout, &stderr)
	r.dial = func(context.Context, *provider.Registry, *config.Config, string) (web3.Wallet, func(), error) {
		return f.wallet, func() {}, nil
	}
	full := append([]string{"--config", f.config, "--api", f.url, "--thread", "t1"}, args...)
	code := r.Run(context.Background(), full)
	return code, stdout.String(), stderr.String()
}

func TestExecPersistsAndRestores(t *testing.T) {
	f := newFixture(t)

	code, out, errOut := f.run(t, "exec", "call-1")
	if code != 0 {
		t.Fatalf("exec failed with %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Transaction Completed, validator 1, 100 U2U, 0xabc") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "https://testnet.u2uscan.xyz/tx/0xabc") {
		t.Fatalf("explorer link missing from %q", out)
	}

	msgs, err := f.store.List(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	last := msgs[len(msgs)-1]
	if !last.Hidden() || last.ToolCallID != "call-1" || last.Name != staking.ResultToolName {
		t.Fatalf("result must be persisted as a hidden tool message, got %+v", last)
	}

	code, out, _ = f.run(t, "exec", "call-1")
	if code != 0 || f.wallet.delegate != 1 {
		t.Fatalf("second exec must replay the stored result, code=%d calls=%d", code, f.wallet.delegate)
	}
	if !strings.Contains(out, "[completed]") {
		t.Fatalf("expected restored card, got %q", out)
	}

	code, out, _ = f.run(t, "cards")
	if code != 0 || !strings.Contains(out, "call-1 Delegate Stake validator=1 amount=100 [completed]") {
		t.Fatalf("unexpected cards output %q", out)
	}
}

func TestExecFailureExitCode(t *testing.T) {
	f := newFixture(t)
	f.wallet.fail = true

	code, _, errOut := f.run(t, "exec", "call-1")
	if code != 1 {
		t.Fatalf("reverted transaction must exit 1, got %d", code)
	}
	if !strings.Contains(errOut, "error:") {
		t.Fatalf("expected error on stderr, got %q", errOut)
	}
}

func TestShowAndUsageErrors(t *testing.T) {
	f := newFixture(t)

	code, out, _ := f.run(t, "show")
	if code != 0 || !strings.Contains(out, "#1 human h1 stake 100 U2U") || !strings.Contains(out, "-> call-1 delegate") {
		t.Fatalf("unexpected show output %q", out)
	}

	code, _, errOut := f.run(t, "exec", "missing")
	if code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("unknown tool call must fail, got %d %q", code, errOut)
	}

	var stdout, stderr bytes.Buffer
	if code := newRunner(&stdout, &stderr).Run(context.Background(), []string{"--config", f.config, "--api", f.url, "cards"}); code != 2 {
		t.Fatalf("missing --thread must be a usage error, got %d", code)
	}
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		":8080":               "http://127.0.0.1:8080",
		"api.local:80":        "http://api.local:80",
		"https://api.example": "https://api.example",
	}
	for in, want := range cases {
		if got := baseURL(in); got != want {
			t.Fatalf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestActionsListsAliases(t *testing.T) {
	f := newFixture(t)

	code, out, _ := f.run(t, "actions")
	if code != 0 {
		t.Fatalf("actions exited %d", code)
	}
	for _, line := range []string{"u2u_staking_delegate", "delegateStake", "u2u_staking_lock_stake"} {
		if !strings.Contains(out, line) {
			t.Fatalf("actions output misses %s: %q", line, out)
		}
	}
	if !strings.Contains(out, staking.ActionClaimRewards.String()) {
		t.Fatalf("canonical names must be listed: %q", out)
	}
}

func TestConcurrentExecSignsOnce(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.wallet.gate = gate

	first := make(chan int, 1)
	go func() {
		code, _, _ := f.run(t, "exec", "call-1")
		first <- code
	}()

	deadline := time.Now().Add(5 * time.Second)
	for f.wallet.delegateCalls() == 0 {
		if time.Now().After(deadline) {
			close(gate)
			t.Fatalf("first exec never reached the wallet")
		}
		time.Sleep(10 * time.Millisecond)
	}

	code, _, errOut := f.run(t, "exec", "call-1")
	close(gate)
	if code != 1 || !strings.Contains(errOut, "already executing") {
		t.Fatalf("second exec must be rejected while the first holds the lock, got %d %q", code, errOut)
	}
	if code := <-first; code != 0 {
		t.Fatalf("first exec exited %d", code)
	}
	if calls := f.wallet.delegateCalls(); calls != 1 {
		t.Fatalf("expected one delegate call across both runs, got %d", calls)
	}

	code, out, _ := f.run(t, "exec", "call-1")
	if code != 0 || !strings.Contains(out, "Transaction Completed") || f.wallet.delegateCalls() != 1 {
		t.Fatalf("a later exec replays the stored result, got %d %q", code, out)
	}
}
