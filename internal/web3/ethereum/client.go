package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"StakePilot-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Config describes how to construct an SFC wallet for an EVM compatible chain.
type Config struct {
	Name         string
	RPCURL       string
	ChainID      int64
	SFCAddress   string
	PrivateKey   string
	GasLimit     uint64
	PollInterval time.Duration
	Notes        string
}

// chainBackend is the subset of the node API the wallet needs.
type chainBackend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// SFCWallet implements web3.Wallet by signing SFC calls with a local key.
type SFCWallet struct {
	name     string
	notes    string
	eth      *ethclient.Client
	backend  chainBackend
	contract *bind.BoundContract
	sfc      common.Address
	chainID  *big.Int
	signer   *bind.TransactOpts
	gasLimit uint64
	poll     time.Duration
	mu       sync.Mutex
}

// NewSFCWallet dials the configured RPC endpoint and returns a ready-to-use wallet.
// Without a private key the wallet reports itself as not connected.
func NewSFCWallet(ctx context.Context, cfg Config) (*SFCWallet, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	var key *ecdsa.PrivateKey
	if raw := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); raw != "" {
		key, err = crypto.HexToECDSA(raw)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
	}

	wallet, err := newSFCWallet(cfg, eth, chainID, key)
	if err != nil {
		eth.Close()
		return nil, err
	}
	wallet.eth = eth
	return wallet, nil
}

// NewSimulatedSFCWallet wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedSFCWallet(backend *backends.SimulatedBackend, chainID *big.Int, sfc common.Address, key *ecdsa.PrivateKey, gasLimit uint64) (*SFCWallet, error) {
	return newSFCWallet(Config{
		Name:         "simulated",
		SFCAddress:   sfc.Hex(),
		GasLimit:     gasLimit,
		PollInterval: 20 * time.Millisecond,
		Notes:        "simulated backend",
	}, backend, chainID, key)
}

func newSFCWallet(cfg Config, backend chainBackend, chainID *big.Int, key *ecdsa.PrivateKey) (*SFCWallet, error) {
	parsed, err := parseSFCABI()
	if err != nil {
		return nil, fmt.Errorf("解析 SFC ABI 失败: %w", err)
	}
	sfcHex := strings.TrimSpace(cfg.SFCAddress)
	if sfcHex == "" {
		sfcHex = web3.DefaultSFCAddress
	}
	if !common.IsHexAddress(sfcHex) {
		return nil, fmt.Errorf("SFC 合约地址不合法: %s", sfcHex)
	}
	sfc := common.HexToAddress(sfcHex)

	var signer *bind.TransactOpts
	if key != nil {
		signer, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("创建交易签名器失败: %w", err)
		}
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	return &SFCWallet{
		name:     cfg.Name,
		notes:    cfg.Notes,
		backend:  backend,
		contract: bind.NewBoundContract(sfc, parsed, backend, backend, backend),
		sfc:      sfc,
		chainID:  new(big.Int).Set(chainID),
		signer:   signer,
		gasLimit: cfg.GasLimit,
		poll:     poll,
	}, nil
}

// Connected reports whether a signing key is loaded.
func (w *SFCWallet) Connected() bool {
	return w != nil && w.signer != nil
}

// Account returns the signing address, or the zero address when not connected.
func (w *SFCWallet) Account() common.Address {
	if !w.Connected() {
		return common.Address{}
	}
	return w.signer.From
}

// Delegate stakes amountWei to the validator.
func (w *SFCWallet) Delegate(ctx context.Context, validatorID, amountWei *big.Int) (string, error) {
	return w.transact(ctx, amountWei, methodDelegate, validatorID)
}

// Undelegate starts a withdrawal request identified by wrID.
func (w *SFCWallet) Undelegate(ctx context.Context, validatorID, wrID, amountWei *big.Int) (string, error) {
	return w.transact(ctx, nil, methodUndelegate, validatorID, wrID, amountWei)
}

// ClaimRewards withdraws pending rewards.
func (w *SFCWallet) ClaimRewards(ctx context.Context, validatorID *big.Int) (string, error) {
	return w.transact(ctx, nil, methodClaimRewards, validatorID)
}

// RestakeRewards delegates pending rewards back to the validator.
func (w *SFCWallet) RestakeRewards(ctx context.Context, validatorID *big.Int) (string, error) {
	return w.transact(ctx, nil, methodRestakeRewards, validatorID)
}

// LockStake locks amountWei of existing stake for durationSeconds.
func (w *SFCWallet) LockStake(ctx context.Context, validatorID, durationSeconds, amountWei *big.Int) (string, error) {
	return w.transact(ctx, nil, methodLockStake, validatorID, durationSeconds, amountWei)
}

func (w *SFCWallet) transact(ctx context.Context, value *big.Int, method string, params ...any) (string, error) {
	if !w.Connected() {
		return "", errors.New("wallet not connected")
	}

	// nonce 由节点按 pending 状态分配，串行发送避免并发交易复用同一 nonce。
	w.mu.Lock()
	defer w.mu.Unlock()

	opts := *w.signer
	opts.Context = ctx
	opts.Value = value
	if w.gasLimit > 0 {
		opts.GasLimit = w.gasLimit
	}

	tx, err := w.contract.Transact(&opts, method, params...)
	if err != nil {
		return "", fmt.Errorf("%s 交易发送失败: %w", method, err)
	}
	if sim, ok := w.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}
	return tx.Hash().Hex(), nil
}

// WaitReceipt polls the node until the transaction is mined or ctx ends.
func (w *SFCWallet) WaitReceipt(ctx context.Context, hash string) (*web3.Receipt, error) {
	txHash := common.HexToHash(hash)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			out := &web3.Receipt{
				TxHash:  receipt.TxHash.Hex(),
				Status:  receipt.Status,
				GasUsed: receipt.GasUsed,
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待交易回执超时: %w", ctx.Err())
		case <-ticker.C:
			if sim, ok := w.backend.(*backends.SimulatedBackend); ok {
				sim.Commit()
			}
		}
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (w *SFCWallet) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if w == nil || w.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的钱包")
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	snapshot := web3.ChainSnapshot{
		Name:        w.name,
		ChainID:     toHexBig(w.chainID),
		BlockNumber: fmt.Sprintf("0x%x", head.Number.Uint64()),
		Notes:       w.notes,
	}
	if w.Connected() {
		snapshot.Account = w.signer.From.Hex()
	}
	return snapshot, nil
}

// Close releases network connections held by the wallet.
func (w *SFCWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eth != nil {
		w.eth.Close()
		w.eth = nil
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Wallet = (*SFCWallet)(nil)
