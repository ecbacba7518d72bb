package correlation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/staking"
)

func seed(t *testing.T, msgs ...conversation.Message) conversation.Thread {
	t.Helper()
	thread := conversation.Bind(conversation.NewMemoryStore(), "thread")
	if _, err := thread.Submit(context.Background(), msgs); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return thread
}

func ai(id string, calls ...conversation.ToolCall) conversation.Message {
	return conversation.Message{ID: id, Role: conversation.RoleAI, ToolCalls: calls}
}

func TestResolveMostRecentWins(t *testing.T) {
	t.Parallel()

	thread := seed(t,
		ai("m1", conversation.ToolCall{ID: "A", Name: "delegate"}),
		conversation.Message{ID: "h1", Role: conversation.RoleHuman, Content: "again"},
		ai("m2", conversation.ToolCall{ID: "B", Name: "delegate"}),
	)
	key, err := NewResolver(thread).Resolve(context.Background(), staking.ActionDelegate, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "B" {
		t.Fatalf("expected newest tool call B, got %q", key)
	}
}

func TestResolveAliases(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"delegate", "u2u_staking_delegate", "delegateStake"} {
		thread := seed(t, ai("m1",
			conversation.ToolCall{ID: "other", Name: "u2u_staking_claim_rewards"},
			conversation.ToolCall{ID: "want", Name: name},
		))
		key, err := NewResolver(thread).Resolve(context.Background(), staking.ActionDelegate, "")
		if err != nil || key != "want" {
			t.Fatalf("alias %s: got %q %v", name, key, err)
		}
	}
}

func TestResolveExplicitAndMissing(t *testing.T) {
	t.Parallel()

	thread := seed(t, ai("m1", conversation.ToolCall{ID: "A", Name: "delegate"}))
	resolver := NewResolver(thread)

	key, err := resolver.Resolve(context.Background(), staking.ActionDelegate, " given ")
	if err != nil || key != "given" {
		t.Fatalf("explicit key should win, got %q %v", key, err)
	}

	key, err = resolver.Resolve(context.Background(), staking.ActionLockStake, "")
	if err != nil || key != "" {
		t.Fatalf("missing correlation is not an error, got %q %v", key, err)
	}
}

type failingView struct{}

func (failingView) Messages(context.Context) ([]conversation.Message, error) {
	return nil, errors.New("down")
}

func TestResolveStorageFailure(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(failingView{}).Resolve(context.Background(), staking.ActionDelegate, "")
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestKeyLockerExclusive(t *testing.T) {
	t.Parallel()

	locker := NewKeyLocker()
	var acquired atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if unlock, ok := locker.TryLock("call-1"); ok {
				acquired.Add(1)
				<-release
				unlock()
			}
		}()
	}
	close(release)
	wg.Wait()
	if acquired.Load() < 1 {
		t.Fatalf("someone must acquire the lock")
	}

	unlock, ok := locker.TryLock("call-1")
	if !ok {
		t.Fatalf("lock should be free after release")
	}
	if _, ok := locker.TryLock("call-1"); ok {
		t.Fatalf("second holder must be rejected")
	}
	unlock()
	unlock()
	if locker.Held("call-1") {
		t.Fatalf("lock still held")
	}
	if _, ok := locker.TryLock(""); !ok {
		t.Fatalf("empty key never blocks")
	}
}

func TestMostRecentFuncSkipsRejected(t *testing.T) {
	t.Parallel()

	msgs := []conversation.Message{
		ai("m1", conversation.ToolCall{ID: "A", Name: "delegate"}),
		ai("m2", conversation.ToolCall{ID: "B", Name: "u2u_staking_delegate"}),
	}
	got := MostRecentFunc(msgs, staking.ActionDelegate, func(call conversation.ToolCall) bool { return call.ID != "B" })
	if got != "A" {
		t.Fatalf("expected older call A when B is rejected, got %q", got)
	}
	if MostRecentFunc(msgs, staking.ActionDelegate, func(conversation.ToolCall) bool { return false }) != "" {
		t.Fatalf("expected no match")
	}
}
