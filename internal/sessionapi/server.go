// Package sessionapi is a reference implementation of the session backend:
// one-time challenges bound to an address, signature verification by
// recovering the signer, and bearer-token sessions. It backs the dev server
// under external-apis and the authentication tests.
package sessionapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"zakobox-go/internal/logging"
)

const challengeTTL = 5 * time.Minute

type challenge struct {
	message []byte
	expires time.Time
}

type session struct {
	Address   string    `json:"address"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Server holds challenges and sessions in memory; state lives only as long as
// the process.
type Server struct {
	mu         sync.Mutex
	challenges map[common.Address]challenge
	sessions   map[string]*session
	log        *logrus.Entry
}

func New() *Server {
	return &Server{
		challenges: make(map[common.Address]challenge),
		sessions:   make(map[string]*session),
		log:        logging.Component("sessionapi"),
	}
}

// Router mounts the backend contract under /api/v1.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session-messages", s.handleChallenge).Methods("POST")
	api.HandleFunc("/sessions", s.handleCreate).Methods("POST")
	api.HandleFunc("/sessions", s.handleShow).Methods("GET")
	api.HandleFunc("/sessions", s.handleDestroy).Methods("DELETE")
	return r
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	address := common.HexToAddress(req.Address)

	message := make([]byte, 32)
	if _, err := rand.Read(message); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate challenge")
		return
	}

	s.mu.Lock()
	s.challenges[address] = challenge{message: message, expires: time.Now().Add(challengeTTL)}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"message": hexutil.Encode(message)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	address := common.HexToAddress(req.Address)

	signature, err := hexutil.Decode(req.Signature)
	if err != nil || len(signature) != crypto.SignatureLength {
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	s.mu.Lock()
	ch, ok := s.challenges[address]
	// Challenges are single-use regardless of the verification outcome.
	delete(s.challenges, address)
	s.mu.Unlock()

	if !ok || time.Now().After(ch.expires) {
		writeError(w, http.StatusUnauthorized, "no active challenge for address")
		return
	}

	if !verifySignature(address, ch.message, signature) {
		s.log.WithField("address", address.Hex()).Warn("signature verification failed")
		writeError(w, http.StatusUnauthorized, "signature does not match address")
		return
	}

	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	sess := &session{
		Address:   address.Hex(),
		Token:     hex.EncodeToString(token),
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	s.log.WithField("address", sess.Address).Info("session created")
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	sess := s.authenticate(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if sess := s.authenticate(r); sess != nil {
		s.mu.Lock()
		delete(s.sessions, sess.Token)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authenticate(r *http.Request) *session {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[token]
}

// ExpireAll drops every live session; the test harness uses it to simulate a
// backend-side expiry.
func (s *Server) ExpireAll() {
	s.mu.Lock()
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
}

// verifySignature checks an EIP-191 personal-message signature against the
// claimed address.
func verifySignature(address common.Address, message, signature []byte) bool {
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == address
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
