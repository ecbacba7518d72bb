package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"StakePilot-Chain/internal/correlation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/observability/alerting"
	"StakePilot-Chain/internal/staking"
	"StakePilot-Chain/internal/web3"
	"StakePilot-Chain/pkg/logger"
)

// Executor 是单张操作卡片的状态机：Idle -> Executing -> Completed | Failed。
// 终态不可逆，重试需要新的 Executor。
type Executor struct {
	op     staking.Operation
	action staking.CanonicalAction
	wallet web3.Wallet

	explicitKey    string
	retry          bool
	resolver       Resolver
	persister      ResultPersister
	restorer       StateRestorer
	locker         Locker
	receiptTimeout time.Duration
	now            func() time.Time
	metrics        Recorder
	alerts         alerting.Dispatcher
	log            *slog.Logger

	mu       sync.Mutex
	phase    Phase
	key      string
	result   *staking.TransactionResult
	err      error
	restored bool
	task     *Task
}

// New 创建执行器并尝试从消息流恢复终态，恢复成功时执行器直接处于 Completed 或 Failed。
func New(ctx context.Context, op staking.Operation, wallet web3.Wallet, opts ...Option) (*Executor, error) {
	action, err := staking.ParseAction(op.Action)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		op:             op,
		action:         action,
		wallet:         wallet,
		locker:         correlation.NewKeyLocker(),
		receiptTimeout: DefaultReceiptTimeout,
		now:            time.Now,
		metrics:        nopRecorder{},
		log:            logger.Named("executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.resolver == nil {
		e.resolver = correlation.NewResolver(nil)
	}
	e.log = e.log.With(slog.String("action", action.String()))

	if !e.retry {
		e.mount(ctx)
	}
	return e, nil
}

func (e *Executor) mount(ctx context.Context) {
	if e.restorer == nil {
		return
	}
	record, ok, err := e.restorer.Restore(ctx, e.action, e.explicitKey)
	if err != nil {
		e.log.Warn("恢复交易结果失败，卡片以未执行状态展示", slog.Any("error", err))
		return
	}
	if ok {
		e.adopt(record.Result, record.Key)
	}
}

// adopt 需要在持有 e.mu 或对象尚未共享时调用。
func (e *Executor) adopt(result staking.TransactionResult, key string) {
	e.result = &result
	e.restored = true
	e.key = key
	if result.Success {
		e.phase = PhaseCompleted
	} else {
		e.phase = PhaseFailed
		e.err = errors.New(result.Message)
	}
	e.metrics.ObserveRestore(e.action.String())
}

// Action 返回规范操作。
func (e *Executor) Action() staking.CanonicalAction { return e.action }

// Operation 返回卡片对应的操作。
func (e *Executor) Operation() staking.Operation { return e.op }

// Phase 返回当前阶段。
func (e *Executor) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Outcome 返回当前状态快照。
func (e *Executor) Outcome() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcomeLocked()
}

// Summary 返回终态视图文本，未到终态时返回空串。
func (e *Executor) Summary() string {
	out := e.Outcome()
	if out.Result == nil {
		return ""
	}
	return staking.Summary(*out.Result)
}

// Execute 开始执行并等待结果；ctx 结束时返回 Pending 结果。
func (e *Executor) Execute(ctx context.Context) (Outcome, error) {
	task, err := e.Start(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return task.Wait(ctx), nil
}

// Start 完成同步校验后在后台发起钱包调用。钱包调用不随 ctx 取消，只受回执超时约束。
func (e *Executor) Start(ctx context.Context) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case PhaseExecuting:
		return nil, ErrExecutionInProgress
	case PhaseCompleted, PhaseFailed:
		return nil, ErrAlreadyCompleted
	}
	if e.wallet == nil || !e.wallet.Connected() {
		return nil, ErrWalletNotConnected
	}
	call, err := e.op.Validate()
	if err != nil {
		return nil, err
	}

	key, err := e.resolveKey(ctx)
	if err != nil {
		return nil, err
	}
	unlock, ok := e.locker.TryLock(key)
	if !ok {
		return nil, xerrors.New(xerrors.CodeExecutionInProgress, "", xerrors.WithMetadata("tool_call_id", key))
	}

	if e.restorer != nil && key != "" {
		record, found, err := e.restorer.Restore(ctx, e.action, key)
		if err != nil {
			unlock()
			return nil, err
		}
		// 重试时最新记录若仍是失败，就是本次重试要取代的那条。
		if found && (!e.retry || record.Result.Success) {
			unlock()
			e.adopt(record.Result, key)
			e.log.Info("关联键已有终态结果，不再发起交易", slog.String("tool_call_id", key))
			return finishedTask(e.outcomeLocked()), nil
		}
	}

	e.phase = PhaseExecuting
	e.key = key
	e.task = newTask()
	go e.run(context.WithoutCancel(ctx), call, key, unlock, e.task)
	return e.task, nil
}

func (e *Executor) resolveKey(ctx context.Context) (string, error) {
	return e.resolver.Resolve(ctx, e.action, e.explicitKey)
}

func (e *Executor) run(ctx context.Context, call staking.Call, key string, unlock func(), task *Task) {
	defer unlock()

	log := e.log.With(slog.String("tool_call_id", key))
	callCtx, cancel := context.WithTimeout(ctx, e.receiptTimeout)
	hash, err := e.submit(callCtx, call)
	cancel()

	result := staking.TransactionResult{
		Hash:            hash,
		Action:          e.action.String(),
		ValidatorID:     e.op.ValidatorID,
		Amount:          e.op.Amount,
		AmountFormatted: e.op.AmountFormatted,
		Timestamp:       e.now().UTC(),
	}
	if err == nil {
		result.Success = true
		result.Message = "Transaction successful!"
	} else {
		result.Message = xerrors.MessageOf(err)
	}

	e.mu.Lock()
	e.result = &result
	e.err = err
	if err == nil {
		e.phase = PhaseCompleted
	} else {
		e.phase = PhaseFailed
	}
	e.mu.Unlock()

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		log.Warn("交易执行失败", slog.String("code", string(xerrors.CodeOf(err))), slog.String("error", result.Message))
		if xerrors.ShouldAlert(err) {
			e.alert(ctx, err, key)
		}
	} else {
		log.Info("交易已确认", slog.String("hash", hash))
	}
	e.metrics.ObserveOperation(e.action.String(), outcome)
	logger.Audit().Info("staking transaction",
		slog.String("action", result.Action),
		slog.String("tool_call_id", key),
		slog.String("validator_id", result.ValidatorID.String()),
		slog.Bool("success", result.Success),
		slog.String("hash", result.Hash),
		slog.String("message", result.Message))

	persistErr := e.persist(ctx, result, key, log)

	e.mu.Lock()
	final := e.outcomeLocked()
	e.mu.Unlock()
	final.Persisted = key != "" && persistErr == nil && e.persister != nil
	final.PersistErr = persistErr
	task.finish(final)
}

// submit 调用钱包并等待回执，回执状态非成功视为链上回滚。
func (e *Executor) submit(ctx context.Context, call staking.Call) (string, error) {
	hash, err := invoke(ctx, e.wallet, call)
	if err != nil {
		return "", classify(err)
	}
	receipt, err := e.wallet.WaitReceipt(ctx, hash)
	if err != nil {
		return hash, classify(err)
	}
	if !receipt.Successful() {
		return hash, revertedError(hash)
	}
	return hash, nil
}

func (e *Executor) persist(ctx context.Context, result staking.TransactionResult, key string, log *slog.Logger) error {
	if e.persister == nil {
		return nil
	}
	if key == "" {
		e.metrics.ObservePersist("skipped")
		return e.persister.Persist(ctx, result, key)
	}
	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := e.persister.Persist(persistCtx, result, key); err != nil {
		e.metrics.ObservePersist("failed")
		log.Error("交易结果写入消息流失败", slog.Any("error", err))
		e.alert(ctx, err, key)
		return err
	}
	e.metrics.ObservePersist("stored")
	return nil
}

func (e *Executor) alert(ctx context.Context, err error, key string) {
	if e.alerts == nil {
		return
	}
	if alertErr := e.alerts.Notify(ctx, alerting.EventFromError(err, e.action.String(), "", key)); alertErr != nil {
		e.log.Warn("发送告警失败", slog.Any("error", alertErr))
	}
}

func (e *Executor) outcomeLocked() Outcome {
	out := Outcome{Phase: e.phase, Err: e.err, Key: e.key, Restored: e.restored}
	if e.result != nil {
		result := *e.result
		out.Result = &result
	}
	return out
}

func invoke(ctx context.Context, wallet web3.Wallet, call staking.Call) (string, error) {
	switch call.Action {
	case staking.ActionDelegate:
		return wallet.Delegate(ctx, call.ValidatorID, call.AmountWei)
	case staking.ActionUndelegate:
		return wallet.Undelegate(ctx, call.ValidatorID, call.WrID, call.AmountWei)
	case staking.ActionClaimRewards:
		return wallet.ClaimRewards(ctx, call.ValidatorID)
	case staking.ActionRestakeRewards:
		return wallet.RestakeRewards(ctx, call.ValidatorID)
	case staking.ActionLockStake:
		return wallet.LockStake(ctx, call.ValidatorID, call.DurationSeconds, call.AmountWei)
	default:
		return "", xerrors.New(xerrors.CodeInvalidArguments, fmt.Sprintf("Unsupported operation: %s", call.Action))
	}
}
