package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"zakobox-go/internal/logging"
)

var (
	// ErrNoAddress means an operation needs a connected address first.
	ErrNoAddress = errors.New("no address found")
	// ErrNoClient means no wallet provider is attached to the session.
	ErrNoClient = errors.New("no wallet client found")
)

// Provider is the wallet surface the session delegates to: address discovery
// plus message and transaction signing.
type Provider interface {
	RequestAddresses(ctx context.Context) ([]common.Address, error)
	SignMessage(ctx context.Context, account common.Address, message []byte) ([]byte, error)
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Session holds the acting identity. Lifecycle: Disconnected until Connect
// succeeds, then Connected(address). It satisfies the chain Signer interface
// so workflows can hand it straight to the gateway.
type Session struct {
	mu       sync.Mutex
	provider Provider
	address  common.Address
	active   bool
	log      *logrus.Entry
}

func NewSession(provider Provider) *Session {
	return &Session{
		provider: provider,
		log:      logging.Component("wallet"),
	}
}

// Connect requests an address from the provider. Already-connected sessions
// are left untouched.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}
	if s.provider == nil {
		return ErrNoClient
	}

	addresses, err := s.provider.RequestAddresses(ctx)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return ErrNoAddress
	}

	s.address = addresses[0]
	s.active = true
	s.log.WithField("address", s.address.Hex()).Info("wallet connected")
	return nil
}

// Disconnect drops the connected address.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = common.Address{}
	s.active = false
}

// Connected reports whether an address is established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Address returns the acting address, zero when disconnected.
func (s *Session) Address() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// SignMessage signs an arbitrary payload with the connected account.
func (s *Session) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	s.mu.Lock()
	provider, address, active := s.provider, s.address, s.active
	s.mu.Unlock()

	if !active {
		return nil, ErrNoAddress
	}
	if provider == nil {
		return nil, ErrNoClient
	}
	return provider.SignMessage(ctx, address, message)
}

// SignTx signs a ledger transaction with the connected account.
func (s *Session) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	provider, address, active := s.provider, s.address, s.active
	s.mu.Unlock()

	if !active {
		return nil, ErrNoAddress
	}
	if provider == nil {
		return nil, ErrNoClient
	}
	return provider.SignTx(ctx, address, tx, chainID)
}
