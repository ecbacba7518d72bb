package staking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Number 保存智能体参数中"数字或数字字符串"形式的值，例如 validatorID、amount。
// 空值表示字段缺失。序列化时合法数字输出为 JSON 数字，其余输出为字符串。
type Number string

// UnmarshalJSON 同时接受 JSON 数字、字符串与 null。
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	*n = Number(num.String())
	return nil
}

// MarshalJSON 实现 json.Marshaler。
func (n Number) MarshalJSON() ([]byte, error) {
	s := string(n)
	if isNumeric(s) {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// String 返回原始文本。
func (n Number) String() string { return string(n) }

// Empty 表示字段未提供。
func (n Number) Empty() bool { return strings.TrimSpace(string(n)) == "" }

// BigInt 将整数形式的值转为 *big.Int。
func (n Number) BigInt() (*big.Int, bool) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// Uint64 将整数形式的值转为 uint64。
func (n Number) Uint64() (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(n)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	var num json.Number
	return json.Unmarshal([]byte(s), &num) == nil
}

// weiDecimals 是 U2U 原生代币的小数位数。
const weiDecimals = 18

// ParseAmount 将十进制的 U2U 数量精确转换为 wei。
func ParseAmount(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount %q must not be negative", amount)
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, hasDot := strings.Cut(s, ".")
	if strings.Contains(frac, ".") {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	if len(frac) > weiDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, weiDecimals)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}

	digits := whole + frac + strings.Repeat("0", weiDecimals-len(frac))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	return wei, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
