package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cerberus/adapters/store"
	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/internal/cryptox"
	"github.com/layer-3/cerberus/internal/otpx"
	"github.com/layer-3/cerberus/service"
)

const testSecret = "3132333435363738393031323334353637383930"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()

	sessions := service.NewSessionService(st.Sessions(), nil, 0, 0, log)
	auth := service.NewAuthService(st.Users(), log)
	registrations := service.NewRegistrationService(st.Users(), st.Registrations(), sessions, "cerberus", log)

	handlers := NewHandlers(auth, sessions, registrations, "", log)
	return &testServer{router: SetupRouter(handlers, sessions), store: st}
}

func (ts *testServer) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) post(t *testing.T, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (ts *testServer) seedUser(t *testing.T, pseudo, name, password string) []byte {
	t.Helper()
	key := cryptox.DeriveClientKey(password, pseudo)
	pub, err := cryptox.PublicKeyHex(key)
	require.NoError(t, err)
	require.NoError(t, ts.store.Users().Insert(context.Background(), &core.User{
		Pseudo:     pseudo,
		Name:       name,
		PublicKey:  pub,
		TOTPSecret: testSecret,
	}))
	return key
}

func (ts *testServer) seedInvitation(t *testing.T, gid, pseudo, name string) {
	t.Helper()
	require.NoError(t, ts.store.Registrations().Insert(context.Background(), &core.PendingRegistration{
		GID:        gid,
		Pseudo:     pseudo,
		Name:       name,
		TOTPSecret: testSecret,
	}))
}

func currentCode(t *testing.T) string {
	t.Helper()
	code, err := otpx.Generate(testSecret)
	require.NoError(t, err)
	return code
}

// login runs the two-step protocol and returns the bearer token.
func (ts *testServer) login(t *testing.T, pseudo, code string, key []byte, existingToken string) *httptest.ResponseRecorder {
	t.Helper()
	w := ts.post(t, "/api/prelogin", gin.H{"l": pseudo}, "")
	require.Equal(t, http.StatusOK, w.Code)
	challenge := decodeJSON(t, w)["c"].(string)

	signature, err := cryptox.SignChallenge(challenge, key)
	require.NoError(t, err)

	return ts.post(t, "/api/login", gin.H{"l": pseudo, "r": signature, "g": code}, existingToken)
}

func TestAuthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	key := ts.seedUser(t, "H", "Hydrogen", "1.0079")

	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/auth", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/auth", "bogus").Code)

	w := ts.login(t, "H", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeJSON(t, w)["token"].(string)

	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", token).Code)
}

func TestInfo(t *testing.T) {
	ts := newTestServer(t)
	key := ts.seedUser(t, "He", "Helium", "4.0026")

	w := ts.get(t, "/api/info", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeJSON(t, w))

	w = ts.get(t, "/api/info", "bogus")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeJSON(t, w))

	w = ts.login(t, "He", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeJSON(t, w)["token"].(string)

	w = ts.get(t, "/api/info", token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "Helium", body["name"])
	assert.Equal(t, "He", body["pseudo"])
	assert.Equal(t, token, body["token"])
}

func TestPreloginValidation(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.post(t, "/api/prelogin", gin.H{}, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.post(t, "/api/prelogin", gin.H{"l": gin.H{"evil": 666}}, "").Code)

	// Unknown pseudos still get a fresh-looking challenge.
	w := ts.post(t, "/api/prelogin", gin.H{"l": "nobody"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeJSON(t, w)["c"].(string), 64)
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)
	key := ts.seedUser(t, "Li", "Lithium", "6.941")

	w := ts.login(t, "Li", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "Lithium", body["name"])
	assert.Equal(t, "Li", body["pseudo"])
	token := body["token"].(string)
	assert.Len(t, token, 64)

	cookie := w.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(cookie, CookieName+"="+token))
}

func TestLoginValidation(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.post(t, "/api/login", gin.H{"l": "x"}, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.post(t, "/api/login", gin.H{"l": "x", "r": "y", "g": 123}, "").Code)

	// Unknown identity collapses to 401.
	w := ts.post(t, "/api/login", gin.H{"l": "nobody", "r": "00", "g": "000000"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginReplacesOwnSession(t *testing.T) {
	ts := newTestServer(t)
	key := ts.seedUser(t, "Be", "Beryllium", "9.0122")

	w := ts.login(t, "Be", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeJSON(t, w)["token"].(string)

	// A separate device logs in too.
	w = ts.login(t, "Be", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)
	other := decodeJSON(t, w)["token"].(string)

	// Re-login from the first browser, its old cookie attached.
	w = ts.login(t, "Be", currentCode(t), key, first)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decodeJSON(t, w)["token"].(string)

	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/auth", first).Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", other).Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", fresh).Code)
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	key := ts.seedUser(t, "B", "Boron", "10.811")

	w := ts.login(t, "B", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeJSON(t, w)["token"].(string)

	assert.Equal(t, http.StatusNoContent, ts.get(t, "/api/logout", token).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/auth", token).Code)

	// Logging out without a session is still a 204.
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/api/logout", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/api/logout", token).Code)
}

// TestInvitationScenario runs the registration walkthrough: peek the
// invitation, claim it with a fresh key and a current code, then watch the
// second claim bounce.
func TestInvitationScenario(t *testing.T) {
	ts := newTestServer(t)
	ts.seedInvitation(t, "abc", "alice", "Alice")

	w := ts.post(t, "/api/geninfo", gin.H{"gid": "abc"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "alice", body["pseudo"])
	qrcode := body["qrcode"].(string)
	assert.True(t, strings.HasPrefix(qrcode, "otpauth://totp/"))
	assert.Contains(t, qrcode, "secret="+testSecret)

	pub, err := cryptox.PublicKeyHex(cryptox.DeriveClientKey("hunter2", "alice"))
	require.NoError(t, err)

	w = ts.post(t, "/api/generate", gin.H{"gid": "abc", "g": currentCode(t), "k": pub}, "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeJSON(t, w)
	assert.Equal(t, "alice", body["pseudo"])
	token := body["token"].(string)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", token).Code)

	// The invitation is burned.
	w = ts.post(t, "/api/generate", gin.H{"gid": "abc", "g": currentCode(t), "k": pub}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = ts.post(t, "/api/geninfo", gin.H{"gid": "abc"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// And the new identity can run the normal login protocol.
	w = ts.login(t, "alice", currentCode(t), cryptox.DeriveClientKey("hunter2", "alice"), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateRejections(t *testing.T) {
	ts := newTestServer(t)
	ts.seedInvitation(t, "abc", "alice", "Alice")
	key := ts.seedUser(t, "C", "Carbon", "12.011")

	pub, err := cryptox.PublicKeyHex(cryptox.DeriveClientKey("hunter2", "alice"))
	require.NoError(t, err)

	// Missing fields.
	assert.Equal(t, http.StatusBadRequest, ts.post(t, "/api/generate", gin.H{"gid": "abc"}, "").Code)

	// Wrong TOTP code: 403, distinguishable from an unknown invitation.
	w := ts.post(t, "/api/generate", gin.H{"gid": "abc", "g": "000000", "k": pub}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown invitation: 401.
	w = ts.post(t, "/api/generate", gin.H{"gid": "nope", "g": currentCode(t), "k": pub}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// An already-authenticated browser cannot hijack the flow.
	w = ts.login(t, "C", currentCode(t), key, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeJSON(t, w)["token"].(string)
	w = ts.post(t, "/api/generate", gin.H{"gid": "abc", "g": currentCode(t), "k": pub}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// All rejections left the invitation intact.
	assert.Equal(t, http.StatusOK, ts.post(t, "/api/geninfo", gin.H{"gid": "abc"}, "").Code)
}

func TestListRemoveFlush(t *testing.T) {
	ts := newTestServer(t)
	keyN := ts.seedUser(t, "N", "Nitrogen", "14.007")
	keyO := ts.seedUser(t, "O", "Oxygen", "15.999")

	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/api/list", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.post(t, "/api/remove", gin.H{"sid": "x"}, "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/api/flush", "").Code)

	tokens := make([]string, 3)
	for i := range tokens {
		w := ts.login(t, "N", currentCode(t), keyN, "")
		require.Equal(t, http.StatusOK, w.Code)
		tokens[i] = decodeJSON(t, w)["token"].(string)
	}
	w := ts.login(t, "O", currentCode(t), keyO, "")
	require.Equal(t, http.StatusOK, w.Code)
	otherToken := decodeJSON(t, w)["token"].(string)

	w = ts.get(t, "/api/list", tokens[0])
	require.Equal(t, http.StatusOK, w.Code)
	var entries []struct {
		SID       string `json:"sid"`
		IP        string `json:"ip"`
		UserAgent string `json:"ua"`
		LastUsed  int64  `json:"lastUsed"`
		Current   bool   `json:"current"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 3)

	var currentSID string
	foreign := map[string]bool{}
	for _, e := range entries {
		assert.NotEmpty(t, e.SID)
		assert.Positive(t, e.LastUsed)
		if e.Current {
			currentSID = e.SID
		} else {
			foreign[e.SID] = true
		}
	}
	require.NotEmpty(t, currentSID)
	require.Len(t, foreign, 2)

	// Removing another user's session id is a silent no-op.
	w = ts.get(t, "/api/list", otherToken)
	require.Equal(t, http.StatusOK, w.Code)
	var otherEntries []struct {
		SID string `json:"sid"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &otherEntries))
	require.Len(t, otherEntries, 1)
	assert.Equal(t, http.StatusNoContent, ts.post(t, "/api/remove", gin.H{"sid": otherEntries[0].SID}, tokens[0]).Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", otherToken).Code)

	// Removing an own session works; malformed requests are 400.
	assert.Equal(t, http.StatusBadRequest, ts.post(t, "/api/remove", gin.H{}, tokens[0]).Code)
	for sid := range foreign {
		assert.Equal(t, http.StatusNoContent, ts.post(t, "/api/remove", gin.H{"sid": sid}, tokens[0]).Code)
		break
	}

	// Flush keeps only the calling session (and other users untouched).
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/api/flush", tokens[0]).Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", tokens[0]).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/auth", tokens[1]).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get(t, "/auth", tokens[2]).Code)
	assert.Equal(t, http.StatusNoContent, ts.get(t, "/auth", otherToken).Code)
}
