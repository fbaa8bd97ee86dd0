package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vueni/strongbox/audit"
	"github.com/vueni/strongbox/csrf"
	"github.com/vueni/strongbox/random"
	"github.com/vueni/strongbox/securestore"
	"github.com/vueni/strongbox/session"
	"github.com/vueni/strongbox/storage/memory"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()

	emitter := audit.NewEmitter("", "")
	t.Cleanup(emitter.Close)

	store := securestore.New(memory.NewMedium(), memguard.NewEnclaveRandom(32), emitter)
	t.Cleanup(store.Close)

	rng := random.NewGenerator()
	tokens := csrf.NewIssuer(memory.NewMedium(), rng)
	sessions := session.NewManager(store, rng, emitter, session.WithCSRFIssuer(tokens))
	t.Cleanup(sessions.Stop)

	return New(store, sessions, tokens)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, handler http.Handler) (sessionResponse, string) {
	t.Helper()
	w := doJSON(t, handler, http.MethodPost, "/session", createSessionRequest{
		UserID:      "user-1",
		LoginMethod: "password",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CSRFToken)
	return resp, resp.CSRFToken
}

func TestHealth(t *testing.T) {
	r := newTestAPI(t).Router()
	w := doJSON(t, r, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestCreateAndGetSession(t *testing.T) {
	r := newTestAPI(t).Router()

	resp, _ := login(t, r)
	assert.True(t, resp.Session.IsActive)
	assert.Equal(t, "user-1", resp.Session.UserID)

	w := doJSON(t, r, http.MethodGet, "/session", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var current sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, resp.Session.ID, current.Session.ID)
}

func TestGetSession_NoneActive(t *testing.T) {
	r := newTestAPI(t).Router()
	w := doJSON(t, r, http.MethodGet, "/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStoreRoundTrip(t *testing.T) {
	r := newTestAPI(t).Router()
	_, token := login(t, r)

	headers := map[string]string{csrfHeaderName: token}
	w := doJSON(t, r, http.MethodPut, "/store/budget", putItemRequest{
		Value:     json.RawMessage(`{"monthly":2000}`),
		Sensitive: true,
	}, headers)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/store/budget", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp getItemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "budget", resp.Key)
	assert.JSONEq(t, `{"monthly":2000}`, string(resp.Value))

	w = doJSON(t, r, http.MethodDelete, "/store/budget", nil, headers)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/store/budget", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoreMutation_RequiresCSRFToken(t *testing.T) {
	r := newTestAPI(t).Router()
	login(t, r)

	w := doJSON(t, r, http.MethodPut, "/store/budget", putItemRequest{
		Value: json.RawMessage(`1`),
	}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPut, "/store/budget", putItemRequest{
		Value: json.RawMessage(`1`),
	}, map[string]string{csrfHeaderName: "forged"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCSRFRotation(t *testing.T) {
	r := newTestAPI(t).Router()
	_, first := login(t, r)

	w := doJSON(t, r, http.MethodGet, "/csrf", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp csrfResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEqual(t, first, resp.Token)

	// The replaced token no longer authorizes mutations.
	w = doJSON(t, r, http.MethodPut, "/store/k", putItemRequest{
		Value: json.RawMessage(`1`),
	}, map[string]string{csrfHeaderName: first})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPut, "/store/k", putItemRequest{
		Value: json.RawMessage(`1`),
	}, map[string]string{csrfHeaderName: resp.Token})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCSRF_RequiresSession(t *testing.T) {
	r := newTestAPI(t).Router()
	w := doJSON(t, r, http.MethodGet, "/csrf", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEndSession(t *testing.T) {
	r := newTestAPI(t).Router()
	_, token := login(t, r)

	headers := map[string]string{csrfHeaderName: token}
	w := doJSON(t, r, http.MethodPut, "/store/budget", putItemRequest{
		Value: json.RawMessage(`1`),
	}, headers)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/session", nil, headers)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Logout is total: previously stored keys are unreadable.
	w = doJSON(t, r, http.MethodGet, "/store/budget", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionActivityAndExtend(t *testing.T) {
	r := newTestAPI(t).Router()
	_, token := login(t, r)
	headers := map[string]string{csrfHeaderName: token}

	w := doJSON(t, r, http.MethodPost, "/session/activity", nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/session/extend", extendSessionRequest{Minutes: 60}, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 60.0, resp.Session.ExpiresAt.Sub(resp.Session.LastActivity).Minutes())
}

func TestOpenAPISpecServed(t *testing.T) {
	r := newTestAPI(t).Router()
	w := doJSON(t, r, http.MethodGet, "/openapi.yaml", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi:")
}
