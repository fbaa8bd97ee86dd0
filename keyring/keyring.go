// Package keyring validates the encryption key material supplied through the
// environment and gates every cryptographic operation on it. The derived
// AES-256 key is sealed in a memguard Enclave so the raw key spends as little
// time as possible in addressable memory.
package keyring

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/vueni/strongbox/internal/util"
)

const (
	// EnvEncryptionKey is the canonical environment variable carrying the
	// encryption key material.
	EnvEncryptionKey = "VUENI_ENCRYPTION_KEY"
	// EnvEncryptionKeyLegacy is the pre-rework name, still accepted as a
	// read-only fallback.
	EnvEncryptionKeyLegacy = "VITE_VUENI_ENCRYPTION_KEY"
	// EnvRuntimeMode selects production or development validation behavior.
	EnvRuntimeMode = "VUENI_ENV"

	// MinKeyLength is the minimum accepted key material length in characters.
	MinKeyLength = 32
)

var storeKeyInfo = []byte("strongbox:store-key:v1")

// RequiredKeys lists every key name the security environment must provide.
var RequiredKeys = []string{EnvEncryptionKey}

// Mode is the runtime validation mode.
type Mode int

const (
	// Development logs violations as warnings and continues.
	Development Mode = iota
	// Production treats violations as fatal configuration errors.
	Production
)

func (m Mode) String() string {
	if m == Production {
		return "production"
	}
	return "development"
}

// ParseMode maps the EnvRuntimeMode value onto a Mode. Anything other than
// "production" is development.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "production") {
		return Production
	}
	return Development
}

// ErrKeyMissing indicates a required key name is absent from the environment.
var ErrKeyMissing = errors.New("encryption key missing")

// ErrKeyTooWeak indicates key material below the minimum length.
var ErrKeyTooWeak = errors.New("encryption key below minimum length")

// LookupFunc resolves an environment variable, reporting presence.
type LookupFunc func(name string) (string, bool)

// Keyring validates key material and derives the store encryption key.
type Keyring struct {
	mode   Mode
	lookup LookupFunc
	logger *slog.Logger
}

// Option configures a Keyring.
type Option func(*Keyring)

// WithMode overrides the runtime mode detected from the environment.
func WithMode(mode Mode) Option {
	return func(k *Keyring) {
		k.mode = mode
	}
}

// WithLookup overrides the environment lookup. Tests use this to supply
// key material without touching the process environment.
func WithLookup(lookup LookupFunc) Option {
	return func(k *Keyring) {
		k.lookup = lookup
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keyring) {
		k.logger = logger.With("component", "keyring")
	}
}

// New creates a Keyring. By default the runtime mode is read from
// EnvRuntimeMode and keys are resolved through os.LookupEnv.
func New(opts ...Option) *Keyring {
	k := &Keyring{
		mode:   ParseMode(os.Getenv(EnvRuntimeMode)),
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = slog.Default().With("component", "keyring")
	}
	return k
}

// Mode returns the active runtime mode.
func (k *Keyring) Mode() Mode {
	return k.mode
}

// ValidateSecurityEnvironment checks that every required key is present and
// meets the minimum length. In production any violation is returned as an
// error listing the offending names; in development violations are logged as
// warnings and nil is returned so local work can proceed without secrets.
func (k *Keyring) ValidateSecurityEnvironment() error {
	var missing, weak []string
	for _, name := range RequiredKeys {
		material, ok := k.resolve(name)
		switch {
		case !ok || material == "":
			missing = append(missing, name)
		case len(material) < MinKeyLength:
			weak = append(weak, name)
		}
	}

	if len(missing) == 0 && len(weak) == 0 {
		return nil
	}

	if k.mode == Production {
		return fmt.Errorf("security environment invalid: missing %v, below %d chars %v",
			missing, MinKeyLength, weak)
	}

	k.logger.Warn("security environment incomplete, continuing in development mode",
		"missing", missing, "weak", weak)
	return nil
}

// ValidatedEncryptionKey resolves the named key material, enforces the
// minimum length regardless of runtime mode, and returns the derived AES-256
// store key sealed in an Enclave. The store cannot safely operate without a
// valid key, so unlike ValidateSecurityEnvironment this never degrades.
func (k *Keyring) ValidatedEncryptionKey(name string) (*memguard.Enclave, error) {
	material, ok := k.resolve(name)
	if !ok || material == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrKeyMissing)
	}
	if len(material) < MinKeyLength {
		return nil, fmt.Errorf("%s: %w (%d < %d chars)", name, ErrKeyTooWeak, len(material), MinKeyLength)
	}

	seed := []byte(util.Normalize(material))
	key, err := util.HKDF(seed, nil, storeKeyInfo)
	util.WipeBytes(seed)
	if err != nil {
		return nil, fmt.Errorf("deriving store key: %w", err)
	}

	// NewEnclave wipes the source buffer after sealing.
	return memguard.NewEnclave(key), nil
}

// LogSecurityStatus reports pass/fail per required key. It never logs the
// key value itself.
func (k *Keyring) LogSecurityStatus() {
	for _, name := range RequiredKeys {
		material, ok := k.resolve(name)
		status := "ok"
		switch {
		case !ok || material == "":
			status = "missing"
		case len(material) < MinKeyLength:
			status = "weak"
		}
		k.logger.Info("security key status", "key", name, "status", status, "mode", k.mode.String())
	}
}

// resolve looks a key up by its canonical name, falling back to the legacy
// name for the encryption key.
func (k *Keyring) resolve(name string) (string, bool) {
	if v, ok := k.lookup(name); ok && v != "" {
		return v, true
	}
	if name == EnvEncryptionKey {
		if v, ok := k.lookup(EnvEncryptionKeyLegacy); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
