package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"StakePilot-Chain/internal/config"
	"StakePilot-Chain/internal/staking"
	"StakePilot-Chain/internal/web3"
	"StakePilot-Chain/internal/web3/ethereum"
)

// Chain is a resolved chain definition.
type Chain struct {
	Name         string
	RPCURL       string
	ChainID      int64
	SFCAddress   string
	ExplorerHost string
	Description  string
}

// Registry manages the configured chains keyed by human readable names and
// dials wallets for them on demand.
type Registry struct {
	defaultChain string
	chains       map[string]Chain
}

// NewRegistry loads chain definitions, falling back to the single RPC
// endpoint in cfg when no YAML definitions exist.
func NewRegistry(cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	chains := make(map[string]Chain)
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType != "evm" {
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		chains[name] = Chain{
			Name:         name,
			RPCURL:       def.RPCURL,
			ChainID:      def.ChainID,
			SFCAddress:   def.SFCAddress,
			ExplorerHost: firstNonEmpty(def.ExplorerHost, cfg.ExplorerHost),
			Description:  def.Description,
		}
	}

	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		chains["default"] = Chain{
			Name:         "default",
			RPCURL:       cfg.RPCURL,
			SFCAddress:   firstNonEmpty(cfg.SFCAddress, web3.DefaultSFCAddress),
			ExplorerHost: cfg.ExplorerHost,
		}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(chains))
		for name := range chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := chains[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, chains: chains}, nil
}

// Chain returns the chain identified by name; an empty name selects the default chain.
func (r *Registry) Chain(name string) (Chain, bool) {
	if r == nil {
		return Chain{}, false
	}
	if strings.TrimSpace(name) == "" {
		name = r.defaultChain
	}
	chain, ok := r.chains[name]
	return chain, ok
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// ExplorerHost returns the block explorer host for the chain.
func (r *Registry) ExplorerHost(name string) string {
	chain, ok := r.Chain(name)
	if !ok || chain.ExplorerHost == "" {
		return staking.DefaultExplorerHost
	}
	return chain.ExplorerHost
}

// Dial connects an SFC wallet to the named chain using privateKey for signing.
func (r *Registry) Dial(ctx context.Context, name, privateKey string, gasLimit uint64) (*ethereum.SFCWallet, error) {
	chain, ok := r.Chain(name)
	if !ok {
		return nil, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return ethereum.NewSFCWallet(ctx, ethereum.Config{
		Name:       chain.Name,
		RPCURL:     chain.RPCURL,
		ChainID:    chain.ChainID,
		SFCAddress: chain.SFCAddress,
		PrivateKey: privateKey,
		GasLimit:   gasLimit,
		Notes:      chain.Description,
	})
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
