package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeAsset is the zero-address sentinel for the chain's native value.
var NativeAsset = common.Address{}

// IsNative reports whether an asset address is the native-value sentinel.
func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

// TokenInfo describes a fungible asset.
type TokenInfo struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
}

// maxAllowance stands in for "no approval needed" on the native asset.
var maxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// GetTokenInfo reads name/symbol/decimals from a token contract. The native
// sentinel short-circuits without any network call.
func GetTokenInfo(ctx context.Context, gw Gateway, token common.Address) (TokenInfo, error) {
	if IsNative(token) {
		return TokenInfo{Address: token, Name: "Ethereum", Symbol: "ETH", Decimals: 18}, nil
	}

	info := TokenInfo{Address: token}

	name, err := callERC20(ctx, gw, token, "name")
	if err != nil {
		return TokenInfo{}, err
	}
	info.Name = name[0].(string)

	symbol, err := callERC20(ctx, gw, token, "symbol")
	if err != nil {
		return TokenInfo{}, err
	}
	info.Symbol = symbol[0].(string)

	decimals, err := callERC20(ctx, gw, token, "decimals")
	if err != nil {
		return TokenInfo{}, err
	}
	info.Decimals = decimals[0].(uint8)

	return info, nil
}

// Allowance reads how much the spender may pull from the owner. Native value
// needs no approval, so the sentinel reports an unbounded allowance.
func Allowance(ctx context.Context, gw Gateway, token, owner, spender common.Address) (*big.Int, error) {
	if IsNative(token) {
		return new(big.Int).Set(maxAllowance), nil
	}
	out, err := callERC20(ctx, gw, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// EnsureAllowance is the approve-then-transfer coupling made explicit: it
// reads the current allowance and, only when short, submits approve(amount)
// and waits for its finality. Once it returns nil the spender is cleared to
// pull the full amount. The returned flag reports whether an approval call
// was actually made.
func EnsureAllowance(ctx context.Context, gw Gateway, signer Signer, token, spender common.Address, amount *big.Int) (bool, error) {
	allowance, err := Allowance(ctx, gw, token, signer.Address(), spender)
	if err != nil {
		return false, err
	}
	if allowance.Cmp(amount) >= 0 {
		return false, nil
	}

	data, err := ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return false, fmt.Errorf("failed to pack approve: %w", err)
	}
	hash, err := gw.Submit(ctx, signer, Call{To: token, Data: data})
	if err != nil {
		return false, err
	}
	if _, err := gw.AwaitFinality(ctx, hash); err != nil {
		return false, err
	}
	return true, nil
}

// ParseAmount converts a human decimal string into base units.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatAmount renders base units as a human decimal string.
func FormatAmount(amount *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func callERC20(ctx context.Context, gw Gateway, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := gw.CallView(ctx, Call{To: token, Data: data})
	if err != nil {
		return nil, err
	}
	out, err := ERC20ABI.Unpack(method, raw)
	if err != nil {
		return nil, &QueryError{Op: method, Err: err}
	}
	return out, nil
}
