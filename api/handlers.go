package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vueni/strongbox/securestore"
	"github.com/vueni/strongbox/session"
)

type createSessionRequest struct {
	UserID        string `json:"userId"`
	LoginMethod   string `json:"loginMethod"`
	SecurityLevel string `json:"securityLevel"`
}

type sessionResponse struct {
	Session   session.Session `json:"session"`
	CSRFToken string          `json:"csrfToken,omitempty"`
}

type putItemRequest struct {
	Value       json.RawMessage `json:"value"`
	Sensitive   bool            `json:"sensitive"`
	SessionOnly bool            `json:"sessionOnly"`
}

type getItemResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type extendSessionRequest struct {
	Minutes int `json:"minutes"`
}

type csrfResponse struct {
	Token string `json:"token"`
}

// CreateSession starts a new session, replacing any existing one, and issues
// a fresh CSRF token alongside it.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := a.sessions.Create(req.UserID, req.LoginMethod, session.SecurityLevel(req.SecurityLevel))
	if err != nil {
		mapError(w, err)
		return
	}

	token, err := a.tokens.Generate()
	if err != nil {
		a.logger.Warn("issuing CSRF token failed", "error", err)
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess, CSRFToken: token})
}

// CurrentSession returns the active session, or 401 if none exists.
func (a *API) CurrentSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.sessions.Current()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

// UpdateActivity refreshes the session's activity timestamps.
func (a *API) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	if !a.sessions.UpdateActivity() {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	sess, _ := a.sessions.Current()
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

// ExtendSession refreshes the session with a caller-supplied window.
func (a *API) ExtendSession(w http.ResponseWriter, r *http.Request) {
	var req extendSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !a.sessions.Extend(time.Duration(req.Minutes) * time.Minute) {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	sess, _ := a.sessions.Current()
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

// EndSession logs out: the session record and every encrypted entry under
// the store namespace are removed.
func (a *API) EndSession(w http.ResponseWriter, r *http.Request) {
	a.sessions.End()
	w.WriteHeader(http.StatusNoContent)
}

// IssueCSRFToken generates a fresh anti-forgery token, replacing any prior
// one, and requires an active session.
func (a *API) IssueCSRFToken(w http.ResponseWriter, r *http.Request) {
	if !a.sessions.IsAuthenticated() {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	token, err := a.tokens.Generate()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, csrfResponse{Token: token})
}

// PutItem stores a value in the encrypted store.
func (a *API) PutItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req putItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.store.SetItem(key, req.Value, securestore.SetOptions{
		Sensitive:   req.Sensitive,
		SessionOnly: req.SessionOnly,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetItem reads a value from the encrypted store. Absent keys — including
// entries that failed decryption — return 404.
func (a *API) GetItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var value json.RawMessage
	found, err := a.store.GetItem(key, &value)
	if err != nil {
		mapError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, getItemResponse{Key: key, Value: value})
}

// DeleteItem removes a value from the encrypted store.
func (a *API) DeleteItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := a.store.RemoveItem(key); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
