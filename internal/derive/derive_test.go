package derive_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"zakobox-go/internal/derive"
)

var (
	deployerA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	deployerB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestSaltDeterministic(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	require.Equal(t, derive.Salt(deployerA, at, "grant fund"), derive.Salt(deployerA, at, "grant fund"))
}

func TestSaltSensitivity(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	base := derive.Salt(deployerA, at, "grant fund")

	require.NotEqual(t, base, derive.Salt(deployerB, at, "grant fund"))
	require.NotEqual(t, base, derive.Salt(deployerA, at.Add(time.Millisecond), "grant fund"))
	require.NotEqual(t, base, derive.Salt(deployerA, at, "grant funds"))
}

func TestSaltSubSecondFreshness(t *testing.T) {
	// Two deployments of the same name inside the same second must still get
	// distinct salts; millisecond resolution provides that.
	at := time.UnixMilli(1700000000000)
	require.NotEqual(t,
		derive.Salt(deployerA, at, "grant fund"),
		derive.Salt(deployerA, at.Add(250*time.Millisecond), "grant fund"),
	)
}

func TestCreate2Address(t *testing.T) {
	factory := common.HexToAddress("0x3333333333333333333333333333333333333333")
	salt := derive.Salt(deployerA, time.UnixMilli(1700000000000), "grant fund")
	initCodeHash := crypto.Keccak256Hash([]byte("init code"))

	addr := derive.Create2Address(factory, salt, initCodeHash)
	require.Equal(t, crypto.CreateAddress2(factory, salt, initCodeHash.Bytes()), addr)
	require.NotEqual(t, common.Address{}, addr)

	otherSalt := derive.Salt(deployerB, time.UnixMilli(1700000000000), "grant fund")
	require.NotEqual(t, addr, derive.Create2Address(factory, otherSalt, initCodeHash))
}
