package web3

import (
	"context"
	"math/big"
)

// ReceiptStatusSuccessful mirrors the EVM receipt status of a mined, non reverted transaction.
const ReceiptStatusSuccessful uint64 = 1

// Receipt is the subset of a transaction receipt the executor inspects.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Successful reports whether the transaction was mined without reverting.
func (r *Receipt) Successful() bool {
	return r != nil && r.Status == ReceiptStatusSuccessful
}

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	Name        string
	ChainID     string
	BlockNumber string
	Account     string
	Notes       string
}

// Wallet is the user-held signer surface of the SFC staking contract. Each
// staking call signs and broadcasts exactly one transaction and returns its
// hash; WaitReceipt blocks until that transaction is mined or ctx ends.
type Wallet interface {
	Connected() bool
	Delegate(ctx context.Context, validatorID, amountWei *big.Int) (string, error)
	Undelegate(ctx context.Context, validatorID, wrID, amountWei *big.Int) (string, error)
	ClaimRewards(ctx context.Context, validatorID *big.Int) (string, error)
	RestakeRewards(ctx context.Context, validatorID *big.Int) (string, error)
	LockStake(ctx context.Context, validatorID, durationSeconds, amountWei *big.Int) (string, error)
	WaitReceipt(ctx context.Context, hash string) (*Receipt, error)
}
