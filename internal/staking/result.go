package staking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ResultToolName 是终态记录所在 tool 消息的名称。
const ResultToolName = "staking-transaction-result"

// DefaultExplorerHost 是 U2U 主网浏览器域名。
const DefaultExplorerHost = "u2uscan.xyz"

// TransactionResult 是一次操作的终态记录，作为 tool 消息的内容持久化。
type TransactionResult struct {
	Success         bool      `json:"success"`
	Hash            string    `json:"hash,omitempty"`
	Message         string    `json:"message"`
	Action          string    `json:"action"`
	ValidatorID     Number    `json:"validatorID"`
	Amount          Number    `json:"amount,omitempty"`
	AmountFormatted string    `json:"amountFormatted,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Terminal 判断记录是否可以直接回放：成功且带交易哈希，或明确失败。
func (r TransactionResult) Terminal() bool {
	if r.Success {
		return r.Hash != ""
	}
	return true
}

// DisplayAmount 返回展示用金额。
func (r TransactionResult) DisplayAmount() string {
	if r.AmountFormatted != "" {
		return r.AmountFormatted
	}
	if !r.Amount.Empty() {
		return r.Amount.String() + " U2U"
	}
	return ""
}

// Payload 是写入消息流的 JSON 结构，界面与智能体共同消费。
type Payload struct {
	TransactionResult
	ExplorerURL    string `json:"explorerUrl,omitempty"`
	ContextMessage string `json:"contextMessage,omitempty"`
}

// NewPayload 为结果补充浏览器链接与给智能体的上下文说明。
func NewPayload(result TransactionResult, explorerHost string) Payload {
	explorerURL := ExplorerURL(explorerHost, result.Hash)
	return Payload{
		TransactionResult: result,
		ExplorerURL:       explorerURL,
		ContextMessage:    ContextMessage(result, explorerURL),
	}
}

// DecodePayload 解析 tool 消息内容。
func DecodePayload(content string) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Payload{}, fmt.Errorf("decode transaction result: %w", err)
	}
	return payload, nil
}

// ExplorerURL 生成 https://<host>/tx/<hash>，hash 为空时返回空串。
func ExplorerURL(host, hash string) string {
	if hash == "" {
		return ""
	}
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		host = DefaultExplorerHost
	}
	return fmt.Sprintf("https://%s/tx/%s", host, hash)
}

// ContextMessage 生成供智能体下一轮回复使用的自然语言说明。
func ContextMessage(result TransactionResult, explorerURL string) string {
	var b strings.Builder
	amount := ""
	if result.AmountFormatted != "" {
		amount = "\n- Amount: " + result.AmountFormatted
	}
	if result.Success {
		b.WriteString("WALLET TRANSACTION COMPLETED\n\n")
		b.WriteString("**Transaction Details:**\n")
		fmt.Fprintf(&b, "- Action: %s\n", result.Action)
		fmt.Fprintf(&b, "- Validator ID: %s%s\n", result.ValidatorID, amount)
		fmt.Fprintf(&b, "- Transaction Hash: `%s`\n", result.Hash)
		fmt.Fprintf(&b, "- Explorer: [View on U2UScan](%s)\n\n", explorerURL)
		fmt.Fprintf(&b, "Please provide a clear, friendly summary confirming the successful %s transaction to the user. Include the explorer link so they can verify.", result.Action)
		return b.String()
	}
	b.WriteString("WALLET TRANSACTION FAILED\n\n")
	b.WriteString("**Error Details:**\n")
	fmt.Fprintf(&b, "- Action: %s\n", result.Action)
	fmt.Fprintf(&b, "- Validator ID: %s%s\n", result.ValidatorID, amount)
	fmt.Fprintf(&b, "- Error: %s\n\n", result.Message)
	b.WriteString("Please explain what went wrong in simple terms and suggest next steps the user can take.")
	return b.String()
}

// Summary 生成卡片终态视图的单行文本。
func Summary(result TransactionResult) string {
	if result.Success {
		parts := []string{"Transaction Completed", "validator " + result.ValidatorID.String()}
		if amount := result.DisplayAmount(); amount != "" {
			parts = append(parts, amount)
		}
		if result.Hash != "" {
			parts = append(parts, result.Hash)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("Transaction Failed, validator %s: %s", result.ValidatorID, result.Message)
}
