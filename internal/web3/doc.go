// Package web3 houses the wallet abstraction the staking executor drives,
// together with chain definitions loaded from YAML. Concrete EVM wallets live
// in the ethereum subpackage and are assembled per chain by the provider
// registry.
package web3
