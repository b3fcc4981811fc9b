package prophecy

import (
	"fmt"
	"strings"

	"Prophet-Chain/internal/web3/provider"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	createMethod = "createProphecy"
	createdEvent = "ProphecyCreated"
	faucetMethod = "faucet"
)

const prophetABIJSON = `[
  {"type":"function","name":"createProphecy","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_sentence","type":"string"},
     {"name":"_bettingAmount","type":"uint256"},
     {"name":"_oracle","type":"string"},
     {"name":"_targetDates","type":"uint256[]"}],
   "outputs":[{"name":"tokenId","type":"uint256"}]},
  {"type":"function","name":"stakeToken","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"event","name":"ProphecyCreated","anonymous":false,
   "inputs":[
     {"indexed":true,"name":"owner","type":"address"},
     {"indexed":true,"name":"tokenId","type":"uint256"},
     {"indexed":false,"name":"sentence","type":"string"},
     {"indexed":false,"name":"bettingAmount","type":"uint256"},
     {"indexed":false,"name":"oracle","type":"string"},
     {"indexed":false,"name":"targetDates","type":"uint256[]"}]},
  {"type":"error","name":"InvalidBettingAmount","inputs":[]},
  {"type":"error","name":"InvalidDate","inputs":[]},
  {"type":"error","name":"InvalidOracle","inputs":[]},
  {"type":"error","name":"InsufficientAllowance","inputs":[]},
  {"type":"error","name":"InsufficientBalance","inputs":[]},
  {"type":"error","name":"InvalidSentence","inputs":[]},
  {"type":"error","name":"InvalidTargetDates","inputs":[]},
  {"type":"error","name":"TransferFailed","inputs":[]},
  {"type":"error","name":"OracleNotFound","inputs":[]},
  {"type":"error","name":"ERC20InsufficientBalance",
   "inputs":[
     {"name":"account","type":"address"},
     {"name":"balance","type":"uint256"},
     {"name":"needed","type":"uint256"}]}
]`

const tokenABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"faucet","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"error","name":"ERC20InsufficientBalance",
   "inputs":[
     {"name":"sender","type":"address"},
     {"name":"balance","type":"uint256"},
     {"name":"needed","type":"uint256"}]}
]`

var (
	// ProphetABI is the subset of the prophecy NFT contract used here.
	ProphetABI = mustParseABI("prophet", prophetABIJSON)
	// TokenABI is the ERC-20 stake token with its test faucet.
	TokenABI = mustParseABI("token", tokenABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("prophecy: parse %s ABI: %v", name, err))
	}
	return parsed
}

// BindContracts registers the token and prophet ABIs on a network client. It
// is passed to provider.NewRegistry as the binder.
func BindContracts(network *provider.Network) error {
	if network == nil || network.Client == nil {
		return fmt.Errorf("prophecy: network has no client")
	}
	if err := network.Definition.Validate(); err != nil {
		return err
	}
	network.Client.Bind(network.Definition.TokenAddress(), TokenABI)
	network.Client.Bind(network.Definition.ProphetAddress(), ProphetABI)
	return nil
}
