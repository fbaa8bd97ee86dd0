// Package random produces cryptographically strong random bytes and the
// identifier formats the session and CSRF layers are built on. When the
// platform RNG is unavailable it degrades to a non-cryptographic source and
// exposes that fact through SecureAvailable so callers can downgrade trust.
package random

import (
	"crypto/rand"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vueni/strongbox/internal/util"
)

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generator produces random bytes and derived identifiers.
type Generator struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	secure   bool
	warned   bool
	fallback *mathrand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the structured logger used for degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger.With("component", "random")
	}
}

// WithNowFunc overrides the clock used for timestamp-bearing identifiers.
func WithNowFunc(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a Generator backed by the platform secure RNG.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:    time.Now,
		secure: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default().With("component", "random")
	}
	return g
}

// SecureAvailable reports whether every byte produced so far came from the
// platform's secure RNG. Once the generator has fallen back it stays false.
func (g *Generator) SecureAvailable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.secure
}

// Bytes returns n random bytes. If the secure RNG fails, it falls back to a
// time-seeded non-cryptographic source, logs a warning once, and clears the
// secure capability flag. Callers needing a hard guarantee must check
// SecureAvailable afterwards.
func (g *Generator) Bytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err == nil {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.secure = false
	if !g.warned {
		g.warned = true
		g.logger.Warn("secure RNG unavailable, falling back to non-cryptographic source")
	}
	if g.fallback == nil {
		g.fallback = mathrand.New(mathrand.NewSource(g.now().UnixNano()))
	}
	for i := range b {
		b[i] = byte(g.fallback.Intn(256))
	}
	return b
}

// Hex returns a random hex string of length 2n (n bytes hex-encoded).
func (g *Generator) Hex(n int) string {
	return util.HexEncode(g.Bytes(n))
}

// Alphanumeric returns a random alphanumeric string of length n.
func (g *Generator) Alphanumeric(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(alphanumerics[g.intn(len(alphanumerics))])
	}
	return sb.String()
}

// SessionID returns a session identifier of the form
// <prefix>_<base36 timestamp>_<16-byte hex>.
func (g *Generator) SessionID(prefix string) string {
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)
	return prefix + "_" + ts + "_" + g.Hex(16)
}

// CSRFToken returns an anti-forgery token of the form
// <32-byte hex><base36 timestamp>.
func (g *Generator) CSRFToken() string {
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)
	return g.Hex(32) + ts
}

// Token returns a generic secure token: hex of the given byte length.
func (g *Generator) Token(n int) string {
	return g.Hex(n)
}

func (g *Generator) intn(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err == nil {
		return int(n.Int64())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.secure = false
	if !g.warned {
		g.warned = true
		g.logger.Warn("secure RNG unavailable, falling back to non-cryptographic source")
	}
	if g.fallback == nil {
		g.fallback = mathrand.New(mathrand.NewSource(g.now().UnixNano()))
	}
	return g.fallback.Intn(max)
}
