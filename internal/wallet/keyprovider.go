package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"zakobox-go/internal/chain"
)

// KeyProvider signs with in-memory secp256k1 keys. It is the provider used by
// the CLI (key from the environment) and by tests.
type KeyProvider struct {
	keys  map[common.Address]*ecdsa.PrivateKey
	order []common.Address
}

func NewKeyProvider(keys ...*ecdsa.PrivateKey) *KeyProvider {
	p := &KeyProvider{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		p.keys[addr] = key
		p.order = append(p.order, addr)
	}
	return p
}

// NewKeyProviderFromHex builds a provider from a hex-encoded private key.
func NewKeyProviderFromHex(hexKey string) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyProvider(key), nil
}

func (p *KeyProvider) RequestAddresses(context.Context) ([]common.Address, error) {
	out := make([]common.Address, len(p.order))
	copy(out, p.order)
	return out, nil
}

// SignMessage produces an EIP-191 personal-message signature with the
// Ethereum 27/28 recovery id convention.
func (p *KeyProvider) SignMessage(_ context.Context, account common.Address, message []byte) ([]byte, error) {
	key, ok := p.keys[account]
	if !ok {
		return nil, chain.ErrSigningDeclined
	}
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func (p *KeyProvider) SignTx(_ context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, ok := p.keys[account]
	if !ok {
		return nil, chain.ErrSigningDeclined
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
