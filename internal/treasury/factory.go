package treasury

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"zakobox-go/internal/chain"
	"zakobox-go/internal/derive"
	"zakobox-go/internal/logging"
	"zakobox-go/internal/notify"
	"zakobox-go/internal/wallet"
)

// Factory deploys treasuries through the factory contract and tracks the
// instances owned by the current actor. Cached metadata is re-fetched, never
// edited locally.
type Factory struct {
	gw       chain.Gateway
	wallet   *wallet.Session
	address  common.Address
	notifier notify.Notifier
	log      *logrus.Entry

	// now injects the freshness value for salt derivation.
	now func() time.Time

	mu    sync.Mutex
	count uint64
	mine  []common.Address
	info  map[common.Address]Info
}

func NewFactory(gw chain.Gateway, w *wallet.Session, address common.Address, notifier notify.Notifier) *Factory {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Factory{
		gw:       gw,
		wallet:   w,
		address:  address,
		notifier: notifier,
		log:      logging.Component("factory"),
		now:      time.Now,
		info:     make(map[common.Address]Info),
	}
}

// DeriveSalt produces the deployment salt for a treasury name. The actor's
// address and the current time feed the hash, so repeated deployments of the
// same name still get distinct salts.
func (f *Factory) DeriveSalt(name string) common.Hash {
	return derive.Salt(f.wallet.Address(), f.now(), name)
}

// PredictAddress asks the factory for the address a (salt, config) pair would
// deploy to.
func (f *Factory) PredictAddress(ctx context.Context, salt common.Hash, cfg Config) (common.Address, error) {
	out, err := f.call(ctx, "computeTreasuryAddress", salt, cfg)
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// Deploy creates a single treasury and waits for the deployment to be final.
// It returns the predicted address; prediction failure is best-effort and
// does not abort the deployment.
func (f *Factory) Deploy(ctx context.Context, cfg Config, name, description string) (common.Address, error) {
	if !f.wallet.Connected() {
		f.notifier.Error("Please connect your wallet")
		return common.Address{}, ErrNoActor
	}
	if err := cfg.Validate(); err != nil {
		f.notifier.Error("Invalid treasury configuration")
		return common.Address{}, err
	}

	salt := f.DeriveSalt(name)

	predicted, err := f.PredictAddress(ctx, salt, cfg)
	if err != nil {
		f.log.WithError(err).Warn("failed to compute treasury address")
	} else {
		f.notifier.Info(fmt.Sprintf("Treasury will be deployed at: %s", predicted.Hex()))
	}

	data, err := chain.FactoryABI.Pack("createTreasury", salt, cfg, name, description)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack createTreasury: %w", err)
	}

	hash, err := f.gw.Submit(ctx, f.wallet, chain.Call{To: f.address, Data: data})
	if err != nil {
		f.notifier.Error("Failed to create treasury")
		return common.Address{}, err
	}

	f.notifier.Info("Deploying treasury...")
	if _, err := f.gw.AwaitFinality(ctx, hash); err != nil {
		f.notifier.Error("Failed to deploy treasury")
		return common.Address{}, err
	}

	if _, err := f.RefreshMine(ctx); err != nil {
		f.log.WithError(err).Warn("failed to refresh treasury list")
	}

	f.notifier.Success("Treasury deployed successfully!")
	return predicted, nil
}

// DeployBatch creates several treasuries in one ledger call. The call is
// all-or-nothing on the ledger side; there is no per-entry retry. Returned
// addresses are recomputed predictions, not read back from event logs, and
// the slice is index-aligned with cfgs: a failed recomputation leaves the
// zero address at that position.
func (f *Factory) DeployBatch(ctx context.Context, cfgs []Config, names, descriptions []string) ([]common.Address, error) {
	if !f.wallet.Connected() {
		f.notifier.Error("Please connect your wallet")
		return nil, ErrNoActor
	}
	if len(cfgs) != len(names) || len(cfgs) != len(descriptions) {
		f.notifier.Error("Arrays must have same length")
		return nil, ErrArityMismatch
	}
	for i, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config %d: %w", i, err)
		}
	}

	salts := make([]common.Hash, len(names))
	for i, name := range names {
		salts[i] = f.DeriveSalt(name)
	}

	data, err := chain.FactoryABI.Pack("createTreasuryBatch", salts, cfgs, names, descriptions)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createTreasuryBatch: %w", err)
	}

	hash, err := f.gw.Submit(ctx, f.wallet, chain.Call{To: f.address, Data: data})
	if err != nil {
		f.notifier.Error("Failed to create treasuries")
		return nil, err
	}

	f.notifier.Info(fmt.Sprintf("Deploying %d treasuries...", len(cfgs)))
	if _, err := f.gw.AwaitFinality(ctx, hash); err != nil {
		f.notifier.Error("Failed to deploy treasuries")
		return nil, err
	}

	if _, err := f.RefreshMine(ctx); err != nil {
		f.log.WithError(err).Warn("failed to refresh treasury list")
	}

	// The result stays index-aligned with the input configs; an entry whose
	// address could not be recomputed is left as the zero address.
	deployed := make([]common.Address, len(salts))
	for i, salt := range salts {
		addr, err := f.PredictAddress(ctx, salt, cfgs[i])
		if err != nil {
			f.log.WithError(err).WithField("index", i).Warn("failed to compute deployed address")
			continue
		}
		deployed[i] = addr
	}

	f.notifier.Success("Treasuries deployed successfully!")
	return deployed, nil
}

// Count reads the global treasury count.
func (f *Factory) Count(ctx context.Context) (uint64, error) {
	out, err := f.call(ctx, "getTreasuryCount")
	if err != nil {
		return 0, err
	}
	count := out[0].(*big.Int).Uint64()
	f.mu.Lock()
	f.count = count
	f.mu.Unlock()
	return count, nil
}

// ByIndex reads a treasury address from the global registry.
func (f *Factory) ByIndex(ctx context.Context, index uint64) (common.Address, error) {
	out, err := f.call(ctx, "getTreasuryByIndex", new(big.Int).SetUint64(index))
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// RefreshMine replaces the cached instance list with the ledger-reported set
// for the current actor; with no actor the list is simply empty. Idempotent.
func (f *Factory) RefreshMine(ctx context.Context) ([]common.Address, error) {
	if !f.wallet.Connected() {
		f.mu.Lock()
		f.mine = nil
		f.mu.Unlock()
		return nil, nil
	}

	out, err := f.call(ctx, "getTreasuriesByDeployer", f.wallet.Address())
	if err != nil {
		return nil, err
	}
	mine := out[0].([]common.Address)

	f.mu.Lock()
	f.mine = mine
	f.mu.Unlock()
	return f.Mine(), nil
}

// Mine returns a copy of the cached instance list.
func (f *Factory) Mine() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Address, len(f.mine))
	copy(out, f.mine)
	return out
}

// Info is a read-through cache over the factory's treasury metadata. A ledger
// error leaves the cache untouched rather than poisoning it.
func (f *Factory) Info(ctx context.Context, treasury common.Address) (Info, error) {
	f.mu.Lock()
	cached, ok := f.info[treasury]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}

	out, err := f.call(ctx, "getTreasuryInfo", treasury)
	if err != nil {
		return Info{}, err
	}
	info := *abi.ConvertType(out[0], new(Info)).(*Info)

	f.mu.Lock()
	f.info[treasury] = info
	f.mu.Unlock()
	return info, nil
}

// Implementation reads the treasury implementation address behind the factory.
func (f *Factory) Implementation(ctx context.Context) (common.Address, error) {
	out, err := f.call(ctx, "implementation")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// LoadFactoryData refreshes the count and the actor's instance list
// concurrently; either sub-fetch failing does not abort the other.
func (f *Factory) LoadFactoryData(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := f.Count(ctx); err != nil {
			f.log.WithError(err).Warn("failed to get treasury count")
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := f.RefreshMine(ctx); err != nil {
			f.log.WithError(err).Warn("failed to get user treasuries")
		}
	}()
	wg.Wait()
}

func (f *Factory) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := chain.FactoryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := f.gw.CallView(ctx, chain.Call{To: f.address, Data: data})
	if err != nil {
		return nil, err
	}
	out, err := chain.FactoryABI.Unpack(method, raw)
	if err != nil {
		return nil, &chain.QueryError{Op: method, Err: err}
	}
	return out, nil
}
