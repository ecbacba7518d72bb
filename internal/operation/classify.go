package operation

import (
	"context"
	"errors"
	"strings"

	xerrors "StakePilot-Chain/internal/errors"
)

var (
	// ErrWalletNotConnected 在未连接钱包时同步返回。
	ErrWalletNotConnected = xerrors.New(xerrors.CodeWalletNotConnected, "Please connect your wallet first")
	// ErrExecutionInProgress 在同一卡片或同一关联键已在执行时返回。
	ErrExecutionInProgress = xerrors.New(xerrors.CodeExecutionInProgress, "")
	// ErrAlreadyCompleted 在执行器已处于终态时返回。
	ErrAlreadyCompleted = xerrors.New(xerrors.CodeAlreadyCompleted, "")
)

var userRejectedMarkers = []string{
	"user rejected",
	"user denied",
	"rejected the request",
}

// classify 将钱包与回执错误归入 UserRejected、ExecutionReverted 或 ReceiptTimeoutOrNetworkError。
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeUserRejected, xerrors.CodeExecutionReverted, xerrors.CodeReceiptUnconfirmed:
		return err
	}

	text := strings.ToLower(err.Error())
	for _, marker := range userRejectedMarkers {
		if strings.Contains(text, marker) {
			return xerrors.Wrap(xerrors.CodeUserRejected, err, "")
		}
	}
	if strings.Contains(text, "execution reverted") {
		return xerrors.Wrap(xerrors.CodeExecutionReverted, err, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeReceiptUnconfirmed, err, "Timed out waiting for transaction confirmation")
	}
	return xerrors.Wrap(xerrors.CodeReceiptUnconfirmed, err, "")
}

func revertedError(hash string) error {
	return xerrors.New(xerrors.CodeExecutionReverted, "Transaction reverted on-chain", xerrors.WithMetadata("hash", hash))
}
