package treasury_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"zakobox-go/internal/chain/chaintest"
	"zakobox-go/internal/treasury"
	"zakobox-go/internal/wallet"
)

type fixture struct {
	ledger   *chaintest.Ledger
	wallet   *wallet.Session
	factory  *treasury.Factory
	treasury *treasury.Treasury
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	ledger := chaintest.NewLedger()
	w := wallet.NewSession(wallet.NewKeyProvider(key))
	require.NoError(t, w.Connect(context.Background()))

	return &fixture{
		ledger:   ledger,
		wallet:   w,
		factory:  treasury.NewFactory(ledger, w, ledger.Factory(), nil),
		treasury: treasury.New(ledger, w, nil),
	}
}

func (f *fixture) soloConfig() treasury.Config {
	return treasury.DefaultConfig([]common.Address{f.wallet.Address()}, big.NewInt(1))
}

func (f *fixture) deploy(t *testing.T, name string) common.Address {
	t.Helper()
	addr, err := f.factory.Deploy(context.Background(), f.soloConfig(), name, "test treasury")
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, addr)
	f.treasury.SetCurrent(addr)
	return addr
}

func TestDeployRequiresActor(t *testing.T) {
	f := newFixture(t)
	cfg := f.soloConfig()
	f.wallet.Disconnect()

	_, err := f.factory.Deploy(context.Background(), cfg, "fund", "")
	require.ErrorIs(t, err, treasury.ErrNoActor)
	require.Empty(t, f.ledger.Calls())
}

func TestDeployValidatesConfig(t *testing.T) {
	f := newFixture(t)

	bad := f.soloConfig()
	bad.Threshold = big.NewInt(2)
	_, err := f.factory.Deploy(context.Background(), bad, "fund", "")
	require.Error(t, err)
	require.Empty(t, f.ledger.Calls())

	bad = f.soloConfig()
	bad.Owners = append(bad.Owners, bad.Owners[0])
	_, err = f.factory.Deploy(context.Background(), bad, "fund", "")
	require.Error(t, err)
	require.Empty(t, f.ledger.Calls())
}

func TestDeploy(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(t, "grant fund")

	require.Contains(t, f.factory.Mine(), addr)

	count, err := f.factory.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	byIndex, err := f.factory.ByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, addr, byIndex)

	info, err := f.factory.Info(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, "grant fund", info.Name)
	require.Equal(t, "test treasury", info.Description)
	require.Equal(t, f.wallet.Address(), info.Deployer)
	require.NotNil(t, info.CreatedAt)
}

func TestDeployDistinctAddressesForSameName(t *testing.T) {
	f := newFixture(t)
	first := f.deploy(t, "grant fund")
	// Salt freshness has millisecond resolution.
	time.Sleep(2 * time.Millisecond)
	second := f.deploy(t, "grant fund")
	require.NotEqual(t, first, second)
	require.Len(t, f.factory.Mine(), 2)
}

func TestPredictAddressMatchesDeployment(t *testing.T) {
	f := newFixture(t)
	cfg := f.soloConfig()
	salt := f.factory.DeriveSalt("grant fund")

	predicted, err := f.factory.PredictAddress(context.Background(), salt, cfg)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, predicted)

	// A different configuration lands on a different address.
	other := f.soloConfig()
	other.DailyLimit = big.NewInt(1)
	otherPredicted, err := f.factory.PredictAddress(context.Background(), salt, other)
	require.NoError(t, err)
	require.NotEqual(t, predicted, otherPredicted)
}

func TestDeployBatchArityMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.factory.DeployBatch(context.Background(),
		[]treasury.Config{f.soloConfig(), f.soloConfig()},
		[]string{"one"},
		[]string{"", ""},
	)
	require.ErrorIs(t, err, treasury.ErrArityMismatch)
	require.Empty(t, f.ledger.Calls())
}

func TestDeployBatch(t *testing.T) {
	f := newFixture(t)

	deployed, err := f.factory.DeployBatch(context.Background(),
		[]treasury.Config{f.soloConfig(), f.soloConfig()},
		[]string{"one", "two"},
		[]string{"first", "second"},
	)
	require.NoError(t, err)
	require.Len(t, deployed, 2)
	require.NotEqual(t, deployed[0], deployed[1])

	count, err := f.factory.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
	require.Len(t, f.factory.Mine(), 2)
}

func TestDeployBatchKeepsIndexAlignment(t *testing.T) {
	f := newFixture(t)

	// Address recomputation failing after the deploy leaves zero-address
	// holes instead of shifting later entries down.
	f.ledger.FailView("computeTreasuryAddress", errors.New("backend down"))
	deployed, err := f.factory.DeployBatch(context.Background(),
		[]treasury.Config{f.soloConfig(), f.soloConfig()},
		[]string{"one", "two"},
		[]string{"first", "second"},
	)
	require.NoError(t, err)
	require.Len(t, deployed, 2)
	require.Equal(t, common.Address{}, deployed[0])
	require.Equal(t, common.Address{}, deployed[1])

	// The deployments themselves went through.
	count, err := f.factory.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestRefreshMineWithoutActor(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "grant fund")
	f.wallet.Disconnect()

	mine, err := f.factory.RefreshMine(context.Background())
	require.NoError(t, err)
	require.Empty(t, mine)
	require.Empty(t, f.factory.Mine())
}

func TestInfoCached(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(t, "grant fund")

	first, err := f.factory.Info(context.Background(), addr)
	require.NoError(t, err)

	// Cached metadata survives a failing backend.
	f.ledger.FailView("getTreasuryInfo", errors.New("backend down"))
	second, err := f.factory.Info(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// An uncached read fails without poisoning the cache.
	_, err = f.factory.Info(context.Background(), common.HexToAddress("0x9999999999999999999999999999999999999999"))
	require.Error(t, err)
}

func TestImplementation(t *testing.T) {
	f := newFixture(t)
	impl, err := f.factory.Implementation(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, impl)
}

func TestLoadFactoryData(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, "grant fund")

	f.factory.LoadFactoryData(context.Background())
	require.Len(t, f.factory.Mine(), 1)
}
