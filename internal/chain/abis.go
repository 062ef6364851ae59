package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	FactoryABI  = mustParseABI(factoryABIJSON)
	TreasuryABI = mustParseABI(treasuryABIJSON)
	ERC20ABI    = mustParseABI(erc20ABIJSON)
)

// PackTreasuryConfig produces the canonical ABI tuple encoding of a treasury
// configuration, the encoding the factory's init code commits to.
func PackTreasuryConfig(cfg any) ([]byte, error) {
	args := abi.Arguments{FactoryABI.Methods["computeTreasuryAddress"].Inputs[1]}
	return args.Pack(cfg)
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

const treasuryConfigComponents = `[
	{"name": "owners", "type": "address[]"},
	{"name": "threshold", "type": "uint256"},
	{"name": "emergencyThreshold", "type": "uint256"},
	{"name": "dailyLimit", "type": "uint256"},
	{"name": "whitelistedTokens", "type": "address[]"},
	{"name": "whitelistedRecipients", "type": "address[]"},
	{"name": "vestingStart", "type": "uint256"},
	{"name": "vestingDuration", "type": "uint256"},
	{"name": "vestingCliff", "type": "uint256"}
]`

var factoryABIJSON = `[
	{
		"type": "function",
		"name": "createTreasury",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "salt", "type": "bytes32"},
			{"name": "config", "type": "tuple", "components": ` + treasuryConfigComponents + `},
			{"name": "name", "type": "string"},
			{"name": "description", "type": "string"}
		],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"type": "function",
		"name": "createTreasuryBatch",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "salts", "type": "bytes32[]"},
			{"name": "configs", "type": "tuple[]", "components": ` + treasuryConfigComponents + `},
			{"name": "names", "type": "string[]"},
			{"name": "descriptions", "type": "string[]"}
		],
		"outputs": [{"name": "", "type": "address[]"}]
	},
	{
		"type": "function",
		"name": "computeTreasuryAddress",
		"stateMutability": "view",
		"inputs": [
			{"name": "salt", "type": "bytes32"},
			{"name": "config", "type": "tuple", "components": ` + treasuryConfigComponents + `}
		],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"type": "function",
		"name": "getTreasuryCount",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getTreasuryByIndex",
		"stateMutability": "view",
		"inputs": [{"name": "index", "type": "uint256"}],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"type": "function",
		"name": "getTreasuriesByDeployer",
		"stateMutability": "view",
		"inputs": [{"name": "deployer", "type": "address"}],
		"outputs": [{"name": "", "type": "address[]"}]
	},
	{
		"type": "function",
		"name": "getTreasuryInfo",
		"stateMutability": "view",
		"inputs": [{"name": "treasury", "type": "address"}],
		"outputs": [
			{"name": "", "type": "tuple", "components": [
				{"name": "name", "type": "string"},
				{"name": "description", "type": "string"},
				{"name": "deployer", "type": "address"},
				{"name": "createdAt", "type": "uint256"}
			]}
		]
	},
	{
		"type": "function",
		"name": "implementation",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "address"}]
	}
]`

var treasuryABIJSON = `[
	{
		"type": "function",
		"name": "donate",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "proposeWithdrawal",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "token", "type": "address"},
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "description", "type": "string"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "approveWithdrawal",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "executeWithdrawal",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "getWithdrawalProposal",
		"stateMutability": "view",
		"inputs": [{"name": "proposalId", "type": "uint256"}],
		"outputs": [
			{"name": "", "type": "tuple", "components": [
				{"name": "token", "type": "address"},
				{"name": "recipient", "type": "address"},
				{"name": "amount", "type": "uint256"},
				{"name": "description", "type": "string"},
				{"name": "approvalCount", "type": "uint256"},
				{"name": "executed", "type": "bool"},
				{"name": "proposedAt", "type": "uint256"}
			]}
		]
	},
	{
		"type": "function",
		"name": "proposalCount",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "hasApproved",
		"stateMutability": "view",
		"inputs": [
			{"name": "proposalId", "type": "uint256"},
			{"name": "owner", "type": "address"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "getBalance",
		"stateMutability": "view",
		"inputs": [{"name": "token", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "getTotalDonations",
		"stateMutability": "view",
		"inputs": [{"name": "token", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "isOwner",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "function",
		"name": "threshold",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "emergencyThreshold",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "paused",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`

var erc20ABIJSON = `[
	{
		"type": "function",
		"name": "name",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "string"}]
	},
	{
		"type": "function",
		"name": "symbol",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "string"}]
	},
	{
		"type": "function",
		"name": "decimals",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}]
	},
	{
		"type": "function",
		"name": "balanceOf",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "allowance",
		"stateMutability": "view",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "approve",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}]
	}
]`
