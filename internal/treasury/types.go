package treasury

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the immutable configuration a treasury is deployed with. Field
// names line up with the factory ABI tuple so it packs directly.
type Config struct {
	Owners                []common.Address
	Threshold             *big.Int
	EmergencyThreshold    *big.Int
	DailyLimit            *big.Int
	WhitelistedTokens     []common.Address
	WhitelistedRecipients []common.Address
	VestingStart          *big.Int
	VestingDuration       *big.Int
	VestingCliff          *big.Int
}

// DefaultConfig builds a configuration with the given owners and threshold
// and no spend limits, whitelists, or vesting schedule.
func DefaultConfig(owners []common.Address, threshold *big.Int) Config {
	return Config{
		Owners:             owners,
		Threshold:          threshold,
		EmergencyThreshold: new(big.Int).Set(threshold),
		DailyLimit:         big.NewInt(0),
		VestingStart:       big.NewInt(0),
		VestingDuration:    big.NewInt(0),
		VestingCliff:       big.NewInt(0),
	}
}

// Validate applies the shape rules the factory enforces on-chain: a non-empty
// unique owner set, a threshold bounded by the owner count,
// and a vesting cliff no longer than the vesting duration.
func (c Config) Validate() error {
	if len(c.Owners) == 0 {
		return errors.New("config: owner set is empty")
	}
	seen := make(map[common.Address]bool, len(c.Owners))
	for _, owner := range c.Owners {
		if owner == (common.Address{}) {
			return errors.New("config: zero address owner")
		}
		if seen[owner] {
			return fmt.Errorf("config: duplicate owner %s", owner.Hex())
		}
		seen[owner] = true
	}
	if c.Threshold == nil || c.Threshold.Sign() <= 0 {
		return errors.New("config: threshold must be positive")
	}
	if c.Threshold.Cmp(big.NewInt(int64(len(c.Owners)))) > 0 {
		return errors.New("config: threshold exceeds owner count")
	}
	if c.VestingCliff != nil && c.VestingDuration != nil && c.VestingCliff.Cmp(c.VestingDuration) > 0 {
		return errors.New("config: vesting cliff exceeds duration")
	}
	return nil
}

// Info is a treasury's deployment metadata, fetched from the factory and
// never edited locally.
type Info struct {
	Name        string
	Description string
	Deployer    common.Address
	CreatedAt   *big.Int
}

// Proposal mirrors one on-chain withdrawal proposal.
type Proposal struct {
	Token         common.Address
	Recipient     common.Address
	Amount        *big.Int
	Description   string
	ApprovalCount *big.Int
	Executed      bool
	ProposedAt    *big.Int
}

// ProposalStatus is an observed property, recomputed from the approval count
// and threshold on every read.
type ProposalStatus string

const (
	StatusProposed  ProposalStatus = "proposed"
	StatusApproving ProposalStatus = "approving"
	StatusApproved  ProposalStatus = "approved"
	StatusExecuted  ProposalStatus = "executed"
)

// Status classifies the proposal against the given threshold.
func (p Proposal) Status(threshold *big.Int) ProposalStatus {
	if p.Executed {
		return StatusExecuted
	}
	if threshold != nil && threshold.Sign() > 0 && p.ApprovalCount != nil && p.ApprovalCount.Cmp(threshold) >= 0 {
		return StatusApproved
	}
	if p.ApprovalCount != nil && p.ApprovalCount.Sign() > 0 {
		return StatusApproving
	}
	return StatusProposed
}
