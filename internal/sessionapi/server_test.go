package sessionapi_test

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"zakobox-go/internal/sessionapi"
)

type harness struct {
	t      *testing.T
	server *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server := httptest.NewServer(sessionapi.New().Router())
	t.Cleanup(server.Close)
	return &harness{t: t, server: server}
}

func (h *harness) post(path string, body any) *http.Response {
	h.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(h.t, err)
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(h.t, err)
	return resp
}

func (h *harness) request(method, path, token string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, nil)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	return resp
}

// challenge requests a login challenge and returns the raw message bytes.
func (h *harness) challenge(key *ecdsa.PrivateKey) []byte {
	h.t.Helper()
	address := crypto.PubkeyToAddress(key.PublicKey)
	resp := h.post("/api/v1/session-messages", map[string]string{"address": address.Hex()})
	defer resp.Body.Close()
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Message string `json:"message"`
	}
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	message, err := hexutil.Decode(out.Message)
	require.NoError(h.t, err)
	return message
}

func signChallenge(t *testing.T, key *ecdsa.PrivateKey, message []byte) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	message := h.challenge(key)
	resp := h.post("/api/v1/sessions", map[string]string{
		"address":   address.Hex(),
		"signature": signChallenge(t, key, message),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess struct {
		Address string `json:"address"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.Equal(t, address.Hex(), sess.Address)
	require.NotEmpty(t, sess.Token)

	show := h.request(http.MethodGet, "/api/v1/sessions", sess.Token)
	defer show.Body.Close()
	require.Equal(t, http.StatusOK, show.StatusCode)
}

func TestWrongSignerRejected(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostor, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	message := h.challenge(key)
	resp := h.post("/api/v1/sessions", map[string]string{
		"address":   address.Hex(),
		"signature": signChallenge(t, impostor, message),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChallengeSingleUse(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	message := h.challenge(key)
	signature := signChallenge(t, key, message)

	first := h.post("/api/v1/sessions", map[string]string{"address": address.Hex(), "signature": signature})
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	// The same signature cannot mint a second session.
	second := h.post("/api/v1/sessions", map[string]string{"address": address.Hex(), "signature": signature})
	second.Body.Close()
	require.Equal(t, http.StatusUnauthorized, second.StatusCode)
}

func TestSessionWithoutChallenge(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	resp := h.post("/api/v1/sessions", map[string]string{
		"address":   address.Hex(),
		"signature": signChallenge(t, key, []byte("anything")),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestShowRequiresToken(t *testing.T) {
	h := newHarness(t)

	missing := h.request(http.MethodGet, "/api/v1/sessions", "")
	missing.Body.Close()
	require.Equal(t, http.StatusUnauthorized, missing.StatusCode)

	bogus := h.request(http.MethodGet, "/api/v1/sessions", "not-a-token")
	bogus.Body.Close()
	require.Equal(t, http.StatusUnauthorized, bogus.StatusCode)
}

func TestDestroyInvalidatesToken(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	message := h.challenge(key)
	resp := h.post("/api/v1/sessions", map[string]string{
		"address":   address.Hex(),
		"signature": signChallenge(t, key, message),
	})
	var sess struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	resp.Body.Close()

	destroy := h.request(http.MethodDelete, "/api/v1/sessions", sess.Token)
	destroy.Body.Close()
	require.Equal(t, http.StatusNoContent, destroy.StatusCode)

	show := h.request(http.MethodGet, "/api/v1/sessions", sess.Token)
	show.Body.Close()
	require.Equal(t, http.StatusUnauthorized, show.StatusCode)
}
