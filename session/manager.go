package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vueni/strongbox/audit"
	"github.com/vueni/strongbox/clock"
	"github.com/vueni/strongbox/csrf"
	"github.com/vueni/strongbox/random"
	"github.com/vueni/strongbox/securestore"
)

const (
	// Timeout is the session inactivity window.
	Timeout = 30 * time.Minute

	// cleanupInterval paces the background re-validation sweep.
	cleanupInterval = 5 * time.Minute

	// sessionSlot is the fixed storage slot for the single active session.
	sessionSlot = "current_session"

	sessionIDPrefix = "sess"
)

// Manager owns the single active session. All methods are safe for
// concurrent use; the watchdog timer and cleanup ticker interleave freely
// with foreground calls.
type Manager struct {
	store   *securestore.Store
	rng     *random.Generator
	emitter *audit.Emitter
	tokens  *csrf.Issuer
	clk     clock.Clock
	logger  *slog.Logger

	// onForcedLogout is invoked after the inactivity watchdog destroys the
	// session. The host application uses it to navigate to its
	// unauthenticated entry point.
	onForcedLogout func()

	mu       sync.Mutex
	watchdog clock.Timer
	cleanup  clock.Ticker
	stopCh   chan struct{}
	started  bool
	stopped  bool
	// active tracks whether a session was created and not yet destroyed.
	// The watchdog keys off this rather than Current, whose lazy expiry
	// check destroys the record before the forced-logout path can run.
	active bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for expiry and scheduling.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clk = clk
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With("component", "session")
	}
}

// WithCSRFIssuer attaches the CSRF token issuer so session end clears the
// active token.
func WithCSRFIssuer(issuer *csrf.Issuer) Option {
	return func(m *Manager) {
		m.tokens = issuer
	}
}

// WithForcedLogoutFunc sets the callback invoked when the inactivity
// watchdog destroys the session.
func WithForcedLogoutFunc(f func()) Option {
	return func(m *Manager) {
		m.onForcedLogout = f
	}
}

// NewManager creates a Manager. Call Start to arm the inactivity watchdog
// and periodic cleanup, and Stop to tear them down.
func NewManager(store *securestore.Store, rng *random.Generator, emitter *audit.Emitter, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		rng:     rng,
		emitter: emitter,
		clk:     clock.System(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default().With("component", "session")
	}
	return m
}

// Start arms the inactivity watchdog and the periodic cleanup sweep.
// Calling Start on a started or stopped manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.watchdog = m.clk.AfterFunc(Timeout, m.watchdogFired)
	m.cleanup = m.clk.NewTicker(cleanupInterval)
	go m.cleanupLoop(m.cleanup)
}

// Stop cancels the watchdog, the cleanup ticker, and all background work.
// Idempotent; safe to call from test teardown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	if m.cleanup != nil {
		m.cleanup.Stop()
	}
	close(m.stopCh)
}

// Signal records a user-activity signal (pointer, keyboard, scroll, touch in
// the host). Each signal pushes the watchdog deadline out by the full
// inactivity window. It does not refresh the session record itself; that is
// UpdateActivity's job.
func (m *Manager) Signal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started && !m.stopped && m.watchdog != nil {
		m.watchdog.Reset(Timeout)
	}
}

// Create generates a new session and persists it through the encrypted
// store. A maximal security level keeps the record session-only so it never
// reaches the durable medium.
func (m *Manager) Create(userID, loginMethod string, level SecurityLevel) (Session, error) {
	if level == "" {
		level = LevelStandard
	}
	now := m.clk.Now()
	sess := Session{
		ID:            m.rng.SessionID(sessionIDPrefix),
		UserID:        userID,
		LoginMethod:   loginMethod,
		CreatedAt:     now,
		LastActivity:  now,
		ExpiresAt:     now.Add(Timeout),
		IsActive:      true,
		SecurityLevel: level,
	}

	if err := m.persist(sess); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()

	m.emitter.SetSessionID(sess.ID)
	m.emitter.Security(audit.EventSessionCreated, sessionSlot, map[string]any{
		"loginMethod":   loginMethod,
		"securityLevel": string(level),
	})
	m.logger.Info("session created", "session_id", sess.ID, "security_level", string(level))

	m.Signal()
	return sess, nil
}

// Current returns the active session, if any. A missing, structurally
// invalid, or expired record yields false — and an invalid or expired record
// is destroyed as a side effect, so stale state cannot be observed twice.
func (m *Manager) Current() (Session, bool) {
	var sess Session
	found, err := m.store.GetItem(sessionSlot, &sess)
	if err != nil || !found {
		return Session{}, false
	}

	if !structurallyValid(sess) {
		m.emitter.Security(audit.EventSessionInvalidStructure, sessionSlot, nil)
		m.logger.Warn("session record malformed, destroying")
		m.destroy()
		return Session{}, false
	}

	if expired(sess, m.clk.Now()) {
		m.emitter.Security(audit.EventSessionExpired, sessionSlot, map[string]any{
			"expiresAt": sess.ExpiresAt,
		})
		m.destroy()
		return Session{}, false
	}

	return sess, true
}

// UpdateActivity refreshes the session's activity timestamps, pushing expiry
// out by the full inactivity window. Returns false if there is no valid
// current session.
func (m *Manager) UpdateActivity() bool {
	return m.refresh(Timeout)
}

// Extend refreshes the session with a caller-supplied window, for explicit
// "stay signed in" actions.
func (m *Manager) Extend(window time.Duration) bool {
	if window <= 0 {
		window = Timeout
	}
	return m.refresh(window)
}

// IsAuthenticated reports whether a valid current session exists.
func (m *Manager) IsAuthenticated() bool {
	_, ok := m.Current()
	return ok
}

// End destroys the session and clears all encrypted durable entries under
// the store's namespace. Logout is total: nothing is selectively retained,
// so no partial state can leak across identities.
func (m *Manager) End() {
	m.emitter.Security(audit.EventSessionEnded, sessionSlot, nil)
	m.destroy()
}

func (m *Manager) refresh(window time.Duration) bool {
	sess, ok := m.Current()
	if !ok {
		return false
	}
	now := m.clk.Now()
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(window)
	if err := m.persist(sess); err != nil {
		m.logger.Warn("persisting refreshed session failed", "error", err)
		return false
	}
	return true
}

func (m *Manager) persist(sess Session) error {
	return m.store.SetItem(sessionSlot, sess, securestore.SetOptions{
		Sensitive:   true,
		SessionOnly: sess.SecurityLevel == LevelMaximal,
	})
}

// destroy removes the session record, bulk-clears encrypted storage, and
// invalidates the CSRF token.
func (m *Manager) destroy() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
	if err := m.store.RemoveItem(sessionSlot); err != nil {
		m.logger.Warn("removing session record failed", "error", err)
	}
	if err := m.store.ClearAll(); err != nil {
		m.logger.Warn("clearing encrypted storage failed", "error", err)
	}
	if m.tokens != nil {
		if err := m.tokens.Clear(); err != nil {
			m.logger.Warn("clearing CSRF token failed", "error", err)
		}
	}
	m.emitter.SetSessionID("")
}

// watchdogFired runs when the inactivity window elapses with no observed
// activity signal. Independent of, and in addition to, the lazy expiry check
// in Current: it ends the session whether or not the record has already
// crossed its expiry instant, so it consults the active flag, not Current.
func (m *Manager) watchdogFired() {
	m.forceEnd()
}

// forceEnd finishes an inactivity logout. Claiming the active flag before
// acting makes End and the forced-logout callback run at most once per
// session, however the watchdog and the cleanup sweep interleave.
func (m *Manager) forceEnd() {
	m.mu.Lock()
	if m.stopped || !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.mu.Unlock()

	m.logger.Info("inactivity deadline passed, ending session")
	m.End()
	if m.onForcedLogout != nil {
		m.onForcedLogout()
	}
}

// cleanupLoop re-validates the session and sweeps expired session-only
// entries every cleanupInterval, so an idle process without recent reads
// still self-cleans.
func (m *Manager) cleanupLoop(ticker clock.Ticker) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.Chan():
			m.store.EvictExpired()
			m.revalidate()
		}
	}
}

// revalidate checks the active session from the background sweep without
// going through Current, whose lazy check destroys the record before the
// forced-logout path could see it. A session that fails the check (expired,
// malformed, unreadable, or already evicted by the store) is ended.
func (m *Manager) revalidate() {
	m.mu.Lock()
	active := m.active && !m.stopped
	m.mu.Unlock()
	if !active {
		return
	}

	var sess Session
	found, err := m.store.GetItem(sessionSlot, &sess)
	if err == nil && found && structurallyValid(sess) && !expired(sess, m.clk.Now()) {
		return
	}
	m.forceEnd()
}
