package staking

import (
	"fmt"
	"sort"
	"strings"

	xerrors "StakePilot-Chain/internal/errors"
)

// CanonicalAction 表示归一化后的链上质押操作。
type CanonicalAction int

const (
	ActionUnknown CanonicalAction = iota
	ActionDelegate
	ActionUndelegate
	ActionClaimRewards
	ActionRestakeRewards
	ActionLockStake
)

var canonicalNames = map[CanonicalAction]string{
	ActionDelegate:       "delegate",
	ActionUndelegate:     "undelegate",
	ActionClaimRewards:   "claimRewards",
	ActionRestakeRewards: "restakeRewards",
	ActionLockStake:      "lockStake",
}

// aliasTable 列出每个规范操作在历史上出现过的工具名（短名、命名空间名、旧版驼峰名）。
var aliasTable = map[CanonicalAction][]string{
	ActionDelegate:       {"delegate", "u2u_staking_delegate", "delegateStake"},
	ActionUndelegate:     {"undelegate", "u2u_staking_undelegate", "undelegateStake"},
	ActionClaimRewards:   {"claimRewards", "u2u_staking_claim_rewards"},
	ActionRestakeRewards: {"restakeRewards", "u2u_staking_restake_rewards"},
	ActionLockStake:      {"lockStake", "u2u_staking_lock_stake"},
}

var byName map[string]CanonicalAction

func init() {
	byName = make(map[string]CanonicalAction)
	for action, names := range aliasTable {
		for _, name := range names {
			if prev, ok := byName[name]; ok && prev != action {
				panic(fmt.Sprintf("staking: alias %q registered for both %s and %s", name, prev, action))
			}
			byName[name] = action
		}
	}
}

// String 返回规范名称。
func (a CanonicalAction) String() string {
	if name, ok := canonicalNames[a]; ok {
		return name
	}
	return "unknown"
}

// Valid 判断是否为已知操作。
func (a CanonicalAction) Valid() bool {
	_, ok := canonicalNames[a]
	return ok
}

// Aliases 返回该操作可能出现在 ToolCall 中的全部名称。
func (a CanonicalAction) Aliases() []string {
	names := aliasTable[a]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Matches 判断工具名是否为该操作的别名之一。
func (a CanonicalAction) Matches(toolName string) bool {
	action, ok := byName[strings.TrimSpace(toolName)]
	return ok && action == a
}

// RequiresAmount 表示调用前必须提供金额。
func (a CanonicalAction) RequiresAmount() bool {
	return a == ActionDelegate || a == ActionUndelegate || a == ActionLockStake
}

// Title 返回卡片标题。
func (a CanonicalAction) Title() string {
	switch a {
	case ActionDelegate:
		return "Delegate Stake"
	case ActionUndelegate:
		return "Undelegate Stake"
	case ActionClaimRewards:
		return "Claim Rewards"
	case ActionRestakeRewards:
		return "Restake Rewards"
	case ActionLockStake:
		return "Lock Stake"
	default:
		return "Staking Operation"
	}
}

// ParseAction 将任意别名解析为规范操作，未知名称在边界处直接拒绝。
func ParseAction(name string) (CanonicalAction, error) {
	action, ok := byName[strings.TrimSpace(name)]
	if !ok {
		return ActionUnknown, xerrors.New(xerrors.CodeInvalidArguments,
			fmt.Sprintf("Unsupported operation: %s", name),
			xerrors.WithMetadata("action", name))
	}
	return action, nil
}

// NormalizeAction 返回别名对应的规范名称，未知名称原样返回。
func NormalizeAction(name string) string {
	if action, ok := byName[strings.TrimSpace(name)]; ok {
		return action.String()
	}
	return name
}

// KnownToolNames 返回所有已注册的工具名，按字典序排列。
func KnownToolNames() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
