package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"zakobox-go/internal/logging"
	"zakobox-go/internal/notify"
	"zakobox-go/internal/wallet"
)

// ErrSessionExpired is returned when the backend reports 401 for a session
// the client still believed active.
var ErrSessionExpired = errors.New("session expired")

// Store drives the challenge-response authentication flow and holds the
// current backend session record. It is the only component allowed to
// downgrade the authenticated state.
type Store struct {
	mu     sync.Mutex
	api    *Client
	wallet *wallet.Session

	user *User

	// onDeauth fires whenever the session ends, voluntarily or not. The CLI
	// uses it to route back to the unauthenticated entry point.
	onDeauth func()

	notifier notify.Notifier
	log      *logrus.Entry
}

func NewStore(api *Client, w *wallet.Session, notifier notify.Notifier) *Store {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Store{
		api:      api,
		wallet:   w,
		notifier: notifier,
		log:      logging.Component("session"),
	}
}

// OnDeauth registers the forced-navigation hook.
func (s *Store) OnDeauth(fn func()) {
	s.mu.Lock()
	s.onDeauth = fn
	s.mu.Unlock()
}

// Current returns the held session record, nil when unauthenticated.
func (s *Store) Current() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Message string `json:"message"`
}

type createRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Create runs the full authentication sequence: connect the wallet, fetch a
// one-time challenge for the address, sign it, and exchange the signature for
// a session. Failure at any step leaves the state at Connected; partial
// progress is never promoted.
func (s *Store) Create(ctx context.Context) (*User, error) {
	if err := s.wallet.Connect(ctx); err != nil {
		s.notifier.Error("No address found.")
		return nil, err
	}
	address := s.wallet.Address()

	var challenge challengeResponse
	if err := s.api.do(ctx, http.MethodPost, "session-messages", &challengeRequest{Address: address.Hex()}, &challenge); err != nil {
		s.notifier.Error("Failed to request login challenge.")
		return nil, fmt.Errorf("failed to fetch challenge: %w", err)
	}

	message, err := hexutil.Decode(challenge.Message)
	if err != nil {
		// Backend sent a plain-text challenge; sign the raw bytes.
		message = []byte(challenge.Message)
	}

	signature, err := s.wallet.SignMessage(ctx, message)
	if err != nil {
		s.notifier.Error("Failed to sign message.")
		return nil, err
	}

	var user User
	req := &createRequest{Address: address.Hex(), Signature: hexutil.Encode(signature)}
	if err := s.api.do(ctx, http.MethodPost, "sessions", req, &user); err != nil {
		s.notifier.Error("Failed to create session.")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	s.api.setToken(user.Token)
	s.log.WithField("address", user.Address).Info("session established")
	return &user, nil
}

// Get refreshes the session record from the backend. A 401 while a session is
// held is the one externally triggered downgrade: the record is cleared and
// the deauth hook fires.
func (s *Store) Get(ctx context.Context) (*User, error) {
	var user User
	err := s.api.do(ctx, http.MethodGet, "sessions", nil, &user)
	if err != nil {
		s.mu.Lock()
		hadSession := s.user != nil
		s.mu.Unlock()
		if hadSession && IsUnauthorized(err) {
			s.expire()
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	return &user, nil
}

// Destroy logs out: best-effort server-side invalidation (errors are logged,
// not surfaced) followed by an unconditional local reset. Logout always
// succeeds locally.
func (s *Store) Destroy(ctx context.Context) {
	if err := s.api.do(ctx, http.MethodDelete, "sessions", nil, nil); err != nil {
		s.log.WithError(err).Error("failed to destroy session")
	}

	s.mu.Lock()
	s.user = nil
	hook := s.onDeauth
	s.mu.Unlock()

	s.api.setToken("")
	s.wallet.Disconnect()
	if hook != nil {
		hook()
	}
}

func (s *Store) expire() {
	s.mu.Lock()
	s.user = nil
	hook := s.onDeauth
	s.mu.Unlock()

	s.api.setToken("")
	s.notifier.Error("Session expired, please login again.")
	if hook != nil {
		hook()
	}
}
