package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vueni/strongbox/audit"
	"github.com/vueni/strongbox/clock"
	"github.com/vueni/strongbox/csrf"
	"github.com/vueni/strongbox/random"
	"github.com/vueni/strongbox/securestore"
	"github.com/vueni/strongbox/storage/memory"
)

type fixture struct {
	manager *Manager
	store   *securestore.Store
	medium  *memory.Medium
	tokens  *csrf.Issuer
	clk     *clock.Manual
	logouts atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	f.clk = clock.NewManual(time.UnixMilli(1700000000000))
	f.medium = memory.NewMedium()
	emitter := audit.NewEmitter("", "")
	t.Cleanup(emitter.Close)

	f.store = securestore.New(f.medium, memguard.NewEnclaveRandom(32), emitter,
		securestore.WithClock(f.clk))
	t.Cleanup(f.store.Close)

	rng := random.NewGenerator(random.WithNowFunc(f.clk.Now))
	f.tokens = csrf.NewIssuer(memory.NewMedium(), rng)

	f.manager = NewManager(f.store, rng, emitter,
		WithClock(f.clk),
		WithCSRFIssuer(f.tokens),
		WithForcedLogoutFunc(func() { f.logouts.Add(1) }),
	)
	t.Cleanup(f.manager.Stop)

	return f
}

func TestCreateAndCurrent(t *testing.T) {
	f := newFixture(t)

	created, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	sess, ok := f.manager.Current()
	require.True(t, ok)
	assert.Equal(t, created.ID, sess.ID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, Timeout, sess.ExpiresAt.Sub(sess.LastActivity))
	assert.True(t, f.manager.IsAuthenticated())
}

func TestCurrent_NoSession(t *testing.T) {
	f := newFixture(t)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.False(t, f.manager.IsAuthenticated())
}

func TestCurrent_ExpiredSessionDestroyed(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)
	require.NoError(t, f.store.SetItem("balances", "secret", securestore.SetOptions{Sensitive: true}))

	f.clk.Advance(Timeout + time.Second)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.False(t, f.manager.IsAuthenticated())

	// Detection destroys: encrypted storage is bulk-cleared alongside.
	var out string
	found, err := f.store.GetItem("balances", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateActivity_ExtendsExpiry(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	f.clk.Advance(20 * time.Minute)
	require.True(t, f.manager.UpdateActivity())

	// Past the original expiry point, but within the refreshed window.
	f.clk.Advance(20 * time.Minute)
	sess, ok := f.manager.Current()
	require.True(t, ok)
	assert.Equal(t, Timeout, sess.ExpiresAt.Sub(sess.LastActivity))
}

func TestUpdateActivity_NoSession(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.manager.UpdateActivity())
}

func TestExtend_CustomWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	require.True(t, f.manager.Extend(60*time.Minute))

	// Alive well past the default window.
	f.clk.Advance(45 * time.Minute)
	assert.True(t, f.manager.IsAuthenticated())

	f.clk.Advance(16 * time.Minute)
	assert.False(t, f.manager.IsAuthenticated())
}

func TestEnd_ClearsEverything(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)
	require.NoError(t, f.store.SetItem("balances", "secret", securestore.SetOptions{}))
	require.NoError(t, f.store.SetItem("budget", "secret", securestore.SetOptions{}))
	token, err := f.tokens.Generate()
	require.NoError(t, err)

	f.manager.End()

	assert.False(t, f.manager.IsAuthenticated())
	var out string
	for _, k := range []string{"balances", "budget"} {
		found, err := f.store.GetItem(k, &out)
		require.NoError(t, err)
		assert.False(t, found, "key %q must be unreadable after logout", k)
	}
	assert.False(t, f.tokens.Validate(token), "CSRF token must not survive logout")
}

func TestCreate_MaximalLevelStaysOutOfDurableStorage(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "biometric", LevelMaximal)
	require.NoError(t, err)

	assert.True(t, f.manager.IsAuthenticated())
	keys, err := f.medium.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys, "a maximal-level session must never reach durable storage")
}

func TestCreate_StandardReplacesMaximalSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "biometric", LevelMaximal)
	require.NoError(t, err)

	created, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	// The new durable record wins; the old memory-held one must not
	// shadow it.
	sess, ok := f.manager.Current()
	require.True(t, ok)
	assert.Equal(t, created.ID, sess.ID)
	assert.Equal(t, LevelStandard, sess.SecurityLevel)
}

func TestCurrent_MalformedRecordDestroyed(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	// Overwrite the slot with a structurally invalid record through the
	// same encrypted path.
	require.NoError(t, f.store.SetItem(sessionSlot, map[string]any{"id": ""}, securestore.SetOptions{Sensitive: true}))

	_, ok := f.manager.Current()
	assert.False(t, ok)

	// Destroyed on detection: the stale record cannot be observed twice.
	var raw map[string]any
	found, err := f.store.GetItem(sessionSlot, &raw)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWatchdog_ForcesLogoutAfterInactivity(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	f.clk.Advance(Timeout)

	assert.False(t, f.manager.IsAuthenticated())
	assert.Equal(t, int32(1), f.logouts.Load())
}

func TestWatchdog_FiresPastExpiryInstant(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	// A lone activity signal pushes the watchdog deadline one minute past
	// the record's expiry instant. The record is already expired when the
	// watchdog fires; the forced logout must still run.
	f.clk.Advance(time.Minute)
	f.manager.Signal()
	f.clk.Advance(Timeout)

	assert.False(t, f.manager.IsAuthenticated())
	require.Eventually(t, func() bool {
		return f.logouts.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWatchdog_MaximalSessionEvictedByStoreStillEndsFully(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()

	_, err := f.manager.Create("user-1", "biometric", LevelMaximal)
	require.NoError(t, err)
	require.NoError(t, f.store.SetItem("balances", "secret", securestore.SetOptions{Sensitive: true}))

	// The store evicts the session-only record at its own timeout, before
	// the watchdog deadline. The logout must still finish, bulk durable
	// clear included.
	f.clk.Advance(time.Minute)
	f.manager.Signal()
	f.clk.Advance(Timeout)

	require.Eventually(t, func() bool {
		return f.logouts.Load() == 1
	}, time.Second, 10*time.Millisecond)

	var out string
	found, err := f.store.GetItem("balances", &out)
	require.NoError(t, err)
	assert.False(t, found, "durable entries must not survive the forced logout")
}

func TestWatchdog_ActivitySignalResetsTimer(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()

	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)

	f.clk.Advance(20 * time.Minute)
	require.True(t, f.manager.UpdateActivity())
	f.manager.Signal()

	// The original deadline passes without the watchdog firing.
	f.clk.Advance(15 * time.Minute)
	assert.True(t, f.manager.IsAuthenticated())
	assert.Equal(t, int32(0), f.logouts.Load())
}

func TestWatchdog_NoSessionNoLogout(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()

	f.clk.Advance(Timeout + time.Minute)
	assert.Equal(t, int32(0), f.logouts.Load())
}

func TestPeriodicCleanup_SweepsSessionOnlyEntries(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()

	require.NoError(t, f.store.SetItem("transient", "v", securestore.SetOptions{SessionOnly: true}))

	// Signal activity along the way so the watchdog never fires; the
	// session-only entry still ages out and the sweep evicts it.
	for i := 0; i < 7; i++ {
		f.clk.Advance(5 * time.Minute)
		f.manager.Signal()
	}

	require.Eventually(t, func() bool {
		var out string
		found, err := f.store.GetItem("transient", &out)
		return err == nil && !found
	}, time.Second, 10*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.manager.Start()
	f.manager.Stop()
	f.manager.Stop()

	// After Stop the watchdog never fires.
	_, err := f.manager.Create("user-1", "password", LevelStandard)
	require.NoError(t, err)
	f.clk.Advance(2 * Timeout)
	assert.Equal(t, int32(0), f.logouts.Load())
}

func TestStructurallyValid(t *testing.T) {
	now := time.Now()
	valid := Session{
		ID:            "sess_x_y",
		CreatedAt:     now,
		LastActivity:  now,
		ExpiresAt:     now.Add(Timeout),
		IsActive:      true,
		SecurityLevel: LevelStandard,
	}
	assert.True(t, structurallyValid(valid))

	missingID := valid
	missingID.ID = ""
	assert.False(t, structurallyValid(missingID))

	zeroTime := valid
	zeroTime.CreatedAt = time.Time{}
	assert.False(t, structurallyValid(zeroTime))

	badLevel := valid
	badLevel.SecurityLevel = "extreme"
	assert.False(t, structurallyValid(badLevel))
}
