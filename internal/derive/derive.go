// Package derive computes deterministic deployment addresses: a
// caller-chosen salt hashed from the deployer, a freshness value and the
// treasury name, combined with the factory's CREATE2 rule.
package derive

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Salt hashes the packed encoding of (deployer, unix-milli timestamp, name).
// The timestamp term means two deployments of the same name by the same
// deployer still land on distinct addresses; that is deliberate.
func Salt(deployer common.Address, at time.Time, name string) common.Hash {
	ts := math.U256Bytes(big.NewInt(at.UnixMilli()))
	return crypto.Keccak256Hash(deployer.Bytes(), ts, []byte(name))
}

// Create2Address applies the EVM CREATE2 rule locally, with no network
// round-trip. initCodeHash is the keccak of the init code the factory deploys
// for the given configuration.
func Create2Address(factory common.Address, salt common.Hash, initCodeHash common.Hash) common.Address {
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}
