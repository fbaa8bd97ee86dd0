// Package audit emits best-effort records of sensitive storage and session
// operations. Events are enqueued non-blockingly into a bounded channel and
// sent by a background goroutine; a failed or slow transmission never
// interrupts the operation that triggered it.
package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueSize is the bounded channel capacity for outbound events.
const queueSize = 1024

// Action identifies the storage operation being audited.
type Action string

const (
	ActionSet    Action = "SET"
	ActionGet    Action = "GET"
	ActionRemove Action = "REMOVE"
	ActionClear  Action = "CLEAR"
)

// Event identifies a security-relevant condition.
type Event string

const (
	EventSessionCreated          Event = "SESSION_CREATED"
	EventSessionEnded            Event = "SESSION_ENDED"
	EventSessionExpired          Event = "SESSION_EXPIRED"
	EventSessionInvalidStructure Event = "SESSION_INVALID_STRUCTURE"
	EventRetrievalError          Event = "RETRIEVAL_ERROR"
)

// auditPayload is the JSON body POSTed to the audit endpoint.
type auditPayload struct {
	Action    string `json:"action"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// securityPayload is the JSON body POSTed to the security endpoint.
type securityPayload struct {
	Event     string         `json:"event"`
	Key       string         `json:"key"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
}

type outbound struct {
	url  string
	body []byte
}

// Emitter dispatches audit and security events to external HTTP endpoints.
// Transmission only happens in production; in development events are logged
// locally and dropped. All methods are safe for concurrent use and never
// block the caller.
type Emitter struct {
	auditURL    string
	securityURL string
	userAgent   string
	production  bool
	client      *http.Client
	logger      *slog.Logger
	now         func() time.Time

	sessionID atomic.Value // string

	events    chan outbound
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithProduction enables actual network transmission. Off by default so
// development and test runs never leave the process.
func WithProduction(enabled bool) Option {
	return func(e *Emitter) {
		e.production = enabled
	}
}

// WithUserAgent sets the userAgent field attached to audit payloads.
func WithUserAgent(ua string) Option {
	return func(e *Emitter) {
		e.userAgent = ua
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger.With("component", "audit")
	}
}

// WithHTTPClient overrides the HTTP client used for transmission.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Emitter) {
		e.client = client
	}
}

// WithNowFunc overrides the clock used for event timestamps.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Emitter) {
		e.now = now
	}
}

// NewEmitter creates an Emitter and starts its background dispatch loop.
// Callers must Close it to stop the loop and drain pending events.
func NewEmitter(auditURL, securityURL string, opts ...Option) *Emitter {
	e := &Emitter{
		auditURL:    auditURL,
		securityURL: securityURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
		events:      make(chan outbound, queueSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "audit")
	}
	e.sessionID.Store("")
	e.wg.Add(1)
	go e.loop()
	return e
}

// SetSessionID records the session identifier attached to subsequent events.
// The session manager calls this on create and end.
func (e *Emitter) SetSessionID(id string) {
	e.sessionID.Store(id)
}

// Audit records a storage operation. Best-effort: the event may be dropped
// if the queue is full, and transmission failures are logged, not returned.
func (e *Emitter) Audit(action Action, key string) {
	sid, _ := e.sessionID.Load().(string)
	p := auditPayload{
		Action:    string(action),
		Key:       key,
		Timestamp: e.now().UnixMilli(),
		SessionID: sid,
		UserAgent: e.userAgent,
	}
	e.logger.Debug("audit", "action", p.Action, "key", p.Key, "session_id", sid)
	e.enqueue(e.auditURL, p)
}

// Security records a security-relevant condition such as a decryption
// failure or an expired session.
func (e *Emitter) Security(event Event, key string, details map[string]any) {
	sid, _ := e.sessionID.Load().(string)
	p := securityPayload{
		Event:     string(event),
		Key:       key,
		Details:   details,
		Timestamp: e.now().UnixMilli(),
		SessionID: sid,
	}
	e.logger.Info("security event", "event", p.Event, "key", p.Key, "session_id", sid)
	e.enqueue(e.securityURL, p)
}

// Close shuts down the dispatcher, draining any remaining queued events.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.events)
		e.wg.Wait()
	})
}

func (e *Emitter) enqueue(url string, payload any) {
	if !e.production || url == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("marshal failed", "error", err)
		return
	}
	select {
	case e.events <- outbound{url: url, body: body}:
	default:
		e.logger.Warn("queue full, dropping event")
	}
}

func (e *Emitter) loop() {
	defer e.wg.Done()
	for evt := range e.events {
		e.send(evt)
	}
}

func (e *Emitter) send(evt outbound) {
	req, err := http.NewRequest(http.MethodPost, evt.url, bytes.NewReader(evt.body))
	if err != nil {
		e.logger.Warn("request creation failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	// Event ID lets the endpoint deduplicate; delivery is at-most-once
	// but a retrying proxy in front of it may not be.
	req.Header.Set("X-Event-ID", uuid.NewString())
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("transmission failed", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Warn("endpoint rejected event", "status", resp.StatusCode)
	}
}
