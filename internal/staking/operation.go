package staking

import (
	"encoding/json"
	"math/big"
	"strings"

	xerrors "StakePilot-Chain/internal/errors"
)

// Operation 是界面准备执行的链上操作，由智能体的 ToolCall 参数构造，不直接持久化。
type Operation struct {
	Action               string `json:"action"`
	ValidatorID          Number `json:"validatorID"`
	Amount               Number `json:"amount,omitempty"`
	AmountFormatted      string `json:"amountFormatted,omitempty"`
	WrID                 Number `json:"wrID,omitempty"`
	LockupDuration       Number `json:"lockupDuration,omitempty"`
	LockupDurationDays   Number `json:"lockupDurationDays,omitempty"`
	Message              string `json:"message,omitempty"`
	RequiresWallet       bool   `json:"requiresWallet"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

// DecodeOperation 从 ToolCall 参数解析 Operation。
// toolName 在参数缺少 action 字段时作为操作名使用。
func DecodeOperation(toolName string, args json.RawMessage) (Operation, error) {
	var op Operation
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &op); err != nil {
			return Operation{}, xerrors.Wrap(xerrors.CodeInvalidArguments, err, "tool call arguments are not a valid operation")
		}
	}
	if strings.TrimSpace(op.Action) == "" {
		op.Action = toolName
	}
	if _, err := ParseAction(op.Action); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Canonical 返回操作的规范形式，未知操作返回 ActionUnknown。
func (o Operation) Canonical() CanonicalAction {
	action, err := ParseAction(o.Action)
	if err != nil {
		return ActionUnknown
	}
	return action
}

// Call 是校验通过后的钱包调用参数，金额已转换为 wei。
type Call struct {
	Action          CanonicalAction
	ValidatorID     *big.Int
	AmountWei       *big.Int
	WrID            *big.Int
	DurationSeconds *big.Int
}

// Validate 在任何外部调用之前检查必填字段，失败时返回 InvalidArguments。
func (o Operation) Validate() (Call, error) {
	action, err := ParseAction(o.Action)
	if err != nil {
		return Call{}, err
	}
	call := Call{Action: action}

	validatorID, ok := o.ValidatorID.BigInt()
	if !ok {
		return Call{}, invalid("Validator ID is required", "validatorID")
	}
	call.ValidatorID = validatorID

	if action.RequiresAmount() {
		if o.Amount.Empty() {
			return Call{}, invalid(amountRequiredMessage(action), "amount")
		}
		wei, err := ParseAmount(o.Amount.String())
		if err != nil {
			return Call{}, xerrors.Wrap(xerrors.CodeInvalidArguments, err, amountRequiredMessage(action),
				xerrors.WithMetadata("field", "amount"))
		}
		if wei.Sign() == 0 {
			return Call{}, invalid(amountRequiredMessage(action), "amount")
		}
		call.AmountWei = wei
	}

	switch action {
	case ActionUndelegate:
		wrID, ok := o.WrID.BigInt()
		if !ok {
			return Call{}, invalid("Amount and withdrawal request ID are required for undelegation", "wrID")
		}
		call.WrID = wrID
	case ActionLockStake:
		duration, ok := o.LockupDuration.BigInt()
		if !ok || duration.Sign() == 0 {
			return Call{}, invalid("Amount and lockup duration are required for locking stake", "lockupDuration")
		}
		call.DurationSeconds = duration
	}
	return call, nil
}

func amountRequiredMessage(action CanonicalAction) string {
	switch action {
	case ActionUndelegate:
		return "Amount and withdrawal request ID are required for undelegation"
	case ActionLockStake:
		return "Amount and lockup duration are required for locking stake"
	default:
		return "Amount is required for delegation"
	}
}

func invalid(message, field string) error {
	return xerrors.New(xerrors.CodeInvalidArguments, message, xerrors.WithMetadata("field", field))
}
