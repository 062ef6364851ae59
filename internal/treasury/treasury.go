package treasury

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"zakobox-go/internal/chain"
	"zakobox-go/internal/logging"
	"zakobox-go/internal/notify"
	"zakobox-go/internal/wallet"
)

// Treasury drives one treasury's donation intake and withdrawal-proposal
// lifecycle. The ledger is the sole source of truth; everything held here is
// a read-through cache keyed by treasury address, so switching the current
// selection can never serve another treasury's data.
type Treasury struct {
	gw       chain.Gateway
	wallet   *wallet.Session
	notifier notify.Notifier
	log      *logrus.Entry

	mu         sync.Mutex
	current    common.Address
	hasCurrent bool

	balances   map[common.Address]map[common.Address]*big.Int
	donations  map[common.Address]map[common.Address]*big.Int
	proposals  map[common.Address]map[uint64]Proposal
	counts     map[common.Address]uint64
	thresholds map[common.Address]*big.Int
	owner      map[common.Address]bool
	paused     map[common.Address]bool
}

func New(gw chain.Gateway, w *wallet.Session, notifier notify.Notifier) *Treasury {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Treasury{
		gw:         gw,
		wallet:     w,
		notifier:   notifier,
		log:        logging.Component("treasury"),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		donations:  make(map[common.Address]map[common.Address]*big.Int),
		proposals:  make(map[common.Address]map[uint64]Proposal),
		counts:     make(map[common.Address]uint64),
		thresholds: make(map[common.Address]*big.Int),
		owner:      make(map[common.Address]bool),
		paused:     make(map[common.Address]bool),
	}
}

// SetCurrent selects the treasury subsequent operations act on. Caches for
// previously selected treasuries are kept; they are keyed by address.
func (t *Treasury) SetCurrent(address common.Address) {
	t.mu.Lock()
	t.current = address
	t.hasCurrent = true
	t.mu.Unlock()
}

// Current returns the selected treasury, false when none is set.
func (t *Treasury) Current() (common.Address, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasCurrent
}

// Donate sends value to the current treasury. The native sentinel goes as a
// plain value transfer; fungible tokens first clear allowance (awaiting the
// approval's finality before the donation is submitted) and then call donate.
// Success refreshes the balance and total-donation caches for the asset.
func (t *Treasury) Donate(ctx context.Context, asset common.Address, amount *big.Int) error {
	treasury, ok := t.Current()
	if !ok {
		t.notifier.Error("No treasury selected")
		return ErrNoTreasurySelected
	}
	if !t.wallet.Connected() {
		t.notifier.Error("Please connect your wallet")
		return ErrNoActor
	}

	if chain.IsNative(asset) {
		hash, err := t.gw.Submit(ctx, t.wallet, chain.Call{To: treasury, Value: amount})
		if err != nil {
			t.notifier.Error("Donation failed")
			return err
		}
		t.notifier.Info("Donating ETH...")
		if _, err := t.gw.AwaitFinality(ctx, hash); err != nil {
			t.notifier.Error("Donation failed")
			return err
		}
	} else {
		approved, err := chain.EnsureAllowance(ctx, t.gw, t.wallet, asset, treasury, amount)
		if err != nil {
			t.notifier.Error("Failed to approve token")
			return err
		}
		if approved {
			t.notifier.Info("Token approved successfully")
		}

		data, err := chain.TreasuryABI.Pack("donate", asset, amount)
		if err != nil {
			return fmt.Errorf("failed to pack donate: %w", err)
		}
		hash, err := t.gw.Submit(ctx, t.wallet, chain.Call{To: treasury, Data: data})
		if err != nil {
			t.notifier.Error("Donation failed")
			return err
		}
		t.notifier.Info("Processing donation...")
		if _, err := t.gw.AwaitFinality(ctx, hash); err != nil {
			t.notifier.Error("Donation failed")
			return err
		}
	}

	t.refreshAsset(ctx, asset)
	t.notifier.Success("Donation successful!")
	return nil
}

// ProposeWithdrawal submits a new withdrawal proposal and returns its id.
// The id is inferred as the refreshed proposal count minus one; identifiers
// are a dense zero-based sequence assigned in call order, so this tracks the
// contract's allocation rather than reading the confirmed event.
func (t *Treasury) ProposeWithdrawal(ctx context.Context, asset, recipient common.Address, amount *big.Int, description string) (uint64, error) {
	treasury, ok := t.Current()
	if !ok {
		t.notifier.Error("No treasury selected")
		return 0, ErrNoTreasurySelected
	}
	if !t.wallet.Connected() {
		t.notifier.Error("Please connect your wallet")
		return 0, ErrNoActor
	}

	data, err := chain.TreasuryABI.Pack("proposeWithdrawal", asset, recipient, amount, description)
	if err != nil {
		return 0, fmt.Errorf("failed to pack proposeWithdrawal: %w", err)
	}
	hash, err := t.gw.Submit(ctx, t.wallet, chain.Call{To: treasury, Data: data})
	if err != nil {
		t.notifier.Error("Failed to create proposal")
		return 0, err
	}

	t.notifier.Info("Creating withdrawal proposal...")
	if _, err := t.gw.AwaitFinality(ctx, hash); err != nil {
		t.notifier.Error("Failed to create proposal")
		return 0, err
	}

	count, err := t.ProposalCount(ctx)
	if err != nil {
		t.notifier.Error("Failed to refresh proposal count")
		return 0, err
	}
	if count == 0 {
		// A zero count after a confirmed submission means the read hit a
		// stale or inconsistent ledger; count-1 would wrap around.
		t.notifier.Error("Failed to refresh proposal count")
		return 0, ErrProposalIDUnknown
	}

	t.notifier.Success("Proposal created successfully")
	return count - 1, nil
}

// Approve records the actor's approval of a proposal. Duplicate approvals are
// rejected by the ledger and surface as execution failures; the client does
// no pre-validation beyond shape checks.
func (t *Treasury) Approve(ctx context.Context, proposalID uint64) error {
	if err := t.submitProposalCall(ctx, "approveWithdrawal", proposalID, "Approving withdrawal...", "Failed to approve withdrawal"); err != nil {
		return err
	}
	if _, err := t.Proposal(ctx, proposalID); err != nil {
		t.log.WithError(err).Warn("failed to refresh proposal")
	}
	t.notifier.Success("Withdrawal approved")
	return nil
}

// Execute runs an approved proposal. Whether the threshold is actually met is
// the ledger's call; a premature execute surfaces as a revert.
func (t *Treasury) Execute(ctx context.Context, proposalID uint64) error {
	if err := t.submitProposalCall(ctx, "executeWithdrawal", proposalID, "Executing withdrawal...", "Failed to execute withdrawal"); err != nil {
		return err
	}

	proposal, err := t.Proposal(ctx, proposalID)
	if err != nil {
		t.log.WithError(err).Warn("failed to refresh proposal")
	} else {
		if _, err := t.Balance(ctx, proposal.Token); err != nil {
			t.log.WithError(err).Warn("failed to refresh balance")
		}
	}
	t.notifier.Success("Withdrawal executed successfully")
	return nil
}

func (t *Treasury) submitProposalCall(ctx context.Context, method string, proposalID uint64, progress, failure string) error {
	treasury, ok := t.Current()
	if !ok {
		t.notifier.Error("No treasury selected")
		return ErrNoTreasurySelected
	}
	if !t.wallet.Connected() {
		t.notifier.Error("Please connect your wallet")
		return ErrNoActor
	}

	data, err := chain.TreasuryABI.Pack(method, new(big.Int).SetUint64(proposalID))
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	hash, err := t.gw.Submit(ctx, t.wallet, chain.Call{To: treasury, Data: data})
	if err != nil {
		t.notifier.Error(failure)
		return err
	}
	t.notifier.Info(progress)
	if _, err := t.gw.AwaitFinality(ctx, hash); err != nil {
		t.notifier.Error(failure)
		return err
	}
	return nil
}

// Balance reads the treasury's balance for an asset and refreshes the cache.
// On failure the cache is untouched and zero is returned with the error.
func (t *Treasury) Balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	treasury, ok := t.Current()
	if !ok {
		return big.NewInt(0), ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "getBalance", asset)
	if err != nil {
		return big.NewInt(0), err
	}
	balance := out[0].(*big.Int)

	t.mu.Lock()
	if t.balances[treasury] == nil {
		t.balances[treasury] = make(map[common.Address]*big.Int)
	}
	t.balances[treasury][asset] = balance
	t.mu.Unlock()
	return balance, nil
}

// CachedBalance returns the last fetched balance for the current treasury.
func (t *Treasury) CachedBalance(asset common.Address) (*big.Int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasCurrent {
		return nil, false
	}
	balance, ok := t.balances[t.current][asset]
	return balance, ok
}

// TotalDonations reads the cumulative donations for an asset.
func (t *Treasury) TotalDonations(ctx context.Context, asset common.Address) (*big.Int, error) {
	treasury, ok := t.Current()
	if !ok {
		return big.NewInt(0), ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "getTotalDonations", asset)
	if err != nil {
		return big.NewInt(0), err
	}
	total := out[0].(*big.Int)

	t.mu.Lock()
	if t.donations[treasury] == nil {
		t.donations[treasury] = make(map[common.Address]*big.Int)
	}
	t.donations[treasury][asset] = total
	t.mu.Unlock()
	return total, nil
}

// Proposal fetches one proposal and refreshes its cached record.
func (t *Treasury) Proposal(ctx context.Context, proposalID uint64) (Proposal, error) {
	treasury, ok := t.Current()
	if !ok {
		return Proposal{}, ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "getWithdrawalProposal", new(big.Int).SetUint64(proposalID))
	if err != nil {
		return Proposal{}, err
	}
	// The contract returns the proposal as one struct, so the reply is a
	// single tuple output.
	proposal := *abi.ConvertType(out[0], new(Proposal)).(*Proposal)

	t.mu.Lock()
	if t.proposals[treasury] == nil {
		t.proposals[treasury] = make(map[uint64]Proposal)
	}
	t.proposals[treasury][proposalID] = proposal
	t.mu.Unlock()
	return proposal, nil
}

// ProposalCount reads the number of proposals on the current treasury.
func (t *Treasury) ProposalCount(ctx context.Context) (uint64, error) {
	treasury, ok := t.Current()
	if !ok {
		return 0, ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "proposalCount")
	if err != nil {
		return 0, err
	}
	count := out[0].(*big.Int).Uint64()

	t.mu.Lock()
	t.counts[treasury] = count
	t.mu.Unlock()
	return count, nil
}

// HasApproved reports whether an owner already approved a proposal.
func (t *Treasury) HasApproved(ctx context.Context, proposalID uint64, owner common.Address) (bool, error) {
	treasury, ok := t.Current()
	if !ok {
		return false, ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "hasApproved", new(big.Int).SetUint64(proposalID), owner)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// IsOwner checks owner membership; the actor's own flag is cached.
func (t *Treasury) IsOwner(ctx context.Context, account common.Address) (bool, error) {
	treasury, ok := t.Current()
	if !ok {
		return false, ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "isOwner", account)
	if err != nil {
		return false, err
	}
	isOwner := out[0].(bool)

	if account == t.wallet.Address() {
		t.mu.Lock()
		t.owner[treasury] = isOwner
		t.mu.Unlock()
	}
	return isOwner, nil
}

// Threshold reads the approval threshold and refreshes its cache.
func (t *Treasury) Threshold(ctx context.Context) (*big.Int, error) {
	treasury, ok := t.Current()
	if !ok {
		return big.NewInt(0), ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "threshold")
	if err != nil {
		return big.NewInt(0), err
	}
	threshold := out[0].(*big.Int)

	t.mu.Lock()
	t.thresholds[treasury] = threshold
	t.mu.Unlock()
	return threshold, nil
}

// EmergencyThreshold reads the emergency approval threshold.
func (t *Treasury) EmergencyThreshold(ctx context.Context) (*big.Int, error) {
	treasury, ok := t.Current()
	if !ok {
		return big.NewInt(0), ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "emergencyThreshold")
	if err != nil {
		return big.NewInt(0), err
	}
	return out[0].(*big.Int), nil
}

// Paused reads the treasury's paused flag.
func (t *Treasury) Paused(ctx context.Context) (bool, error) {
	treasury, ok := t.Current()
	if !ok {
		return false, ErrNoTreasurySelected
	}
	out, err := t.call(ctx, treasury, "paused")
	if err != nil {
		return false, err
	}
	paused := out[0].(bool)

	t.mu.Lock()
	t.paused[treasury] = paused
	t.mu.Unlock()
	return paused, nil
}

// ProposalStatus classifies a cached proposal against the cached threshold,
// recomputed on every call rather than tracked locally.
func (t *Treasury) ProposalStatus(proposalID uint64) (ProposalStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasCurrent {
		return "", false
	}
	proposal, ok := t.proposals[t.current][proposalID]
	if !ok {
		return "", false
	}
	return proposal.Status(t.thresholds[t.current]), true
}

// LoadTreasuryData refreshes the proposal count, threshold, paused flag and,
// when an actor is connected, the owner flag. Fetches run concurrently and
// log their failures independently.
func (t *Treasury) LoadTreasuryData(ctx context.Context) {
	if _, ok := t.Current(); !ok {
		return
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				t.log.WithError(err).WithField("fetch", name).Warn("treasury data refresh failed")
			}
		}()
	}

	run("proposalCount", func() error { _, err := t.ProposalCount(ctx); return err })
	run("threshold", func() error { _, err := t.Threshold(ctx); return err })
	run("paused", func() error { _, err := t.Paused(ctx); return err })
	if t.wallet.Connected() {
		run("isOwner", func() error { _, err := t.IsOwner(ctx, t.wallet.Address()); return err })
	}
	wg.Wait()
}

func (t *Treasury) refreshAsset(ctx context.Context, asset common.Address) {
	if _, err := t.Balance(ctx, asset); err != nil {
		t.log.WithError(err).Warn("failed to refresh balance")
	}
	if _, err := t.TotalDonations(ctx, asset); err != nil {
		t.log.WithError(err).Warn("failed to refresh total donations")
	}
}

func (t *Treasury) call(ctx context.Context, treasury common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := chain.TreasuryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := t.gw.CallView(ctx, chain.Call{To: treasury, Data: data})
	if err != nil {
		return nil, err
	}
	out, err := chain.TreasuryABI.Unpack(method, raw)
	if err != nil {
		return nil, &chain.QueryError{Op: method, Err: err}
	}
	return out, nil
}
