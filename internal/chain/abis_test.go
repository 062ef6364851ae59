package chain_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"zakobox-go/internal/chain"
	"zakobox-go/internal/treasury"
)

// The deployed contracts return proposal and treasury metadata as one struct.
// These ABIs restate that declaration independently so the tests below fail if
// the client-side parse drifts from the on-chain return shape.
const deployedProposalReturn = `[{
	"type": "function",
	"name": "getWithdrawalProposal",
	"stateMutability": "view",
	"inputs": [{"name": "proposalId", "type": "uint256"}],
	"outputs": [{"name": "", "type": "tuple", "components": [
		{"name": "token", "type": "address"},
		{"name": "recipient", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "description", "type": "string"},
		{"name": "approvalCount", "type": "uint256"},
		{"name": "executed", "type": "bool"},
		{"name": "proposedAt", "type": "uint256"}
	]}]
}]`

const deployedInfoReturn = `[{
	"type": "function",
	"name": "getTreasuryInfo",
	"stateMutability": "view",
	"inputs": [{"name": "treasury", "type": "address"}],
	"outputs": [{"name": "", "type": "tuple", "components": [
		{"name": "name", "type": "string"},
		{"name": "description", "type": "string"},
		{"name": "deployer", "type": "address"},
		{"name": "createdAt", "type": "uint256"}
	]}]
}]`

func TestWithdrawalProposalReturnMatchesDeployedShape(t *testing.T) {
	deployed, err := abi.JSON(strings.NewReader(deployedProposalReturn))
	require.NoError(t, err)

	want := treasury.Proposal{
		Token:         common.HexToAddress("0x0000000000000000000000000000000000001234"),
		Recipient:     common.HexToAddress("0x0000000000000000000000000000000000005678"),
		Amount:        big.NewInt(500),
		Description:   "server costs",
		ApprovalCount: big.NewInt(2),
		Executed:      true,
		ProposedAt:    big.NewInt(1700000000),
	}
	raw, err := deployed.Methods["getWithdrawalProposal"].Outputs.Pack(want)
	require.NoError(t, err)
	// A single dynamic tuple return carries a head offset before the struct
	// body; word one of the reply points at offset 32.
	require.Equal(t, big.NewInt(32), new(big.Int).SetBytes(raw[:32]))

	out, err := chain.TreasuryABI.Unpack("getWithdrawalProposal", raw)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := *abi.ConvertType(out[0], new(treasury.Proposal)).(*treasury.Proposal)
	require.Equal(t, want.Token, got.Token)
	require.Equal(t, want.Recipient, got.Recipient)
	require.Zero(t, want.Amount.Cmp(got.Amount))
	require.Equal(t, want.Description, got.Description)
	require.Zero(t, want.ApprovalCount.Cmp(got.ApprovalCount))
	require.True(t, got.Executed)
	require.Zero(t, want.ProposedAt.Cmp(got.ProposedAt))
}

func TestTreasuryInfoReturnMatchesDeployedShape(t *testing.T) {
	deployed, err := abi.JSON(strings.NewReader(deployedInfoReturn))
	require.NoError(t, err)

	want := treasury.Info{
		Name:        "Community Fund",
		Description: "keeps the lights on",
		Deployer:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		CreatedAt:   big.NewInt(1690000000),
	}
	raw, err := deployed.Methods["getTreasuryInfo"].Outputs.Pack(want)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(32), new(big.Int).SetBytes(raw[:32]))

	out, err := chain.FactoryABI.Unpack("getTreasuryInfo", raw)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := *abi.ConvertType(out[0], new(treasury.Info)).(*treasury.Info)
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.Description, got.Description)
	require.Equal(t, want.Deployer, got.Deployer)
	require.Zero(t, want.CreatedAt.Cmp(got.CreatedAt))
}
