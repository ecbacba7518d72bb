package operation

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"StakePilot-Chain/internal/web3"
)

type fakeWallet struct {
	mu           sync.Mutex
	disconnected bool
	hash         string
	err          error
	reverted     bool
	receiptErr   error
	hangReceipt  bool
	gate         chan struct{}
	calls        []string
	amounts      []*big.Int
	cancelled    bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{hash: "0xabc"}
}

func (w *fakeWallet) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *fakeWallet) record(ctx context.Context, method string, amount *big.Int) (string, error) {
	w.mu.Lock()
	w.calls = append(w.calls, method)
	w.amounts = append(w.amounts, amount)
	gate := w.gate
	w.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if ctx.Err() != nil {
		w.mu.Lock()
		w.cancelled = true
		w.mu.Unlock()
		return "", ctx.Err()
	}
	if w.err != nil {
		return "", w.err
	}
	return w.hash, nil
}

func (w *fakeWallet) Connected() bool { return !w.disconnected }

func (w *fakeWallet) Delegate(ctx context.Context, _ *big.Int, amountWei *big.Int) (string, error) {
	return w.record(ctx, "delegate", amountWei)
}

func (w *fakeWallet) Undelegate(ctx context.Context, _, _, amountWei *big.Int) (string, error) {
	return w.record(ctx, "undelegate", amountWei)
}

func (w *fakeWallet) ClaimRewards(ctx context.Context, _ *big.Int) (string, error) {
	return w.record(ctx, "claimRewards", nil)
}

func (w *fakeWallet) RestakeRewards(ctx context.Context, _ *big.Int) (string, error) {
	return w.record(ctx, "restakeRewards", nil)
}

func (w *fakeWallet) LockStake(ctx context.Context, _, _, amountWei *big.Int) (string, error) {
	return w.record(ctx, "lockStake", amountWei)
}

func (w *fakeWallet) WaitReceipt(ctx context.Context, hash string) (*web3.Receipt, error) {
	if w.hangReceipt {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if w.receiptErr != nil {
		return nil, w.receiptErr
	}
	status := web3.ReceiptStatusSuccessful
	if w.reverted {
		status = 0
	}
	return &web3.Receipt{TxHash: hash, Status: status}, nil
}

var errUserRejected = errors.New("User rejected the request.")

var _ web3.Wallet = (*fakeWallet)(nil)
