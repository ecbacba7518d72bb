package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// sfcABI covers the staking entry points of the SFC contract the wallet drives.
const sfcABI = `[
  {"type":"function","name":"delegate","stateMutability":"payable",
   "inputs":[{"name":"toValidatorID","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"undelegate","stateMutability":"nonpayable",
   "inputs":[{"name":"toValidatorID","type":"uint256"},{"name":"wrID","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimRewards","stateMutability":"nonpayable",
   "inputs":[{"name":"toValidatorID","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"restakeRewards","stateMutability":"nonpayable",
   "inputs":[{"name":"toValidatorID","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"lockStake","stateMutability":"nonpayable",
   "inputs":[{"name":"toValidatorID","type":"uint256"},{"name":"lockupDuration","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// SFC method names.
const (
	methodDelegate       = "delegate"
	methodUndelegate     = "undelegate"
	methodClaimRewards   = "claimRewards"
	methodRestakeRewards = "restakeRewards"
	methodLockStake      = "lockStake"
)

func parseSFCABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(sfcABI))
}
