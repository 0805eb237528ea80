// Package notify bridges the push transport's asynchronous callbacks into
// a typed, bounded notification history and subscriber callbacks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/doctorondial/patientcore/pkg/logger"
)

// DefaultMaxHistory is the history cap when none is configured.
const DefaultMaxHistory = 50

var (
	// ErrPermissionDenied is returned by Init when the user refuses
	// delivery permission. The ingestor still counts as initialized.
	ErrPermissionDenied = errors.New("notify: delivery permission denied")

	// ErrDisabled is returned by Init while notifications are toggled
	// off.
	ErrDisabled = errors.New("notify: notifications are disabled")
)

// TokenUpdateFunc registers a device token with the backend. Failures are
// logged, not fatal: delivery still works locally and registration is
// retried on the next token refresh.
type TokenUpdateFunc func(ctx context.Context, token string) error

// Config configures an Ingestor. Transport is required.
type Config struct {
	Transport Transport

	// MaxHistory bounds the notification history. Zero takes
	// DefaultMaxHistory.
	MaxHistory int

	// OnTokenUpdate is invoked with the device token at init and on
	// every refresh.
	OnTokenUpdate TokenUpdateFunc

	// OnReceived is invoked for every recorded message (foreground and
	// background).
	OnReceived func(Record)

	// OnOpened is invoked when the user opens the app via a
	// notification. Opened notifications are not recorded in history.
	OnOpened func(Record)

	Logger *logger.Logger
}

// Ingestor owns the notification history and the transport subscriptions.
type Ingestor struct {
	cfg Config
	log *logger.Logger

	mu           sync.Mutex
	enabled      bool
	initialized  bool
	initializing bool
	permission   bool
	token        string
	prevID       string
	hasPrev      bool
	history      []Record
	unsubs       []func()
}

// New creates an Ingestor. Notifications start enabled; call Init to attach
// to the transport.
func New(cfg Config) (*Ingestor, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("notify: Transport is required")
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &Ingestor{cfg: cfg, log: log, enabled: true}, nil
}

// Init runs the initialization sequence: request permission, fetch the
// device token, register it with the backend, subscribe to token refresh,
// and attach the message listeners. It executes at most once per lifetime
// unless notifications are disabled and re-enabled. Concurrent and repeated
// calls are safe.
func (in *Ingestor) Init(ctx context.Context) error {
	in.mu.Lock()
	if !in.enabled {
		in.mu.Unlock()
		return ErrDisabled
	}
	if in.initialized || in.initializing {
		in.mu.Unlock()
		return nil
	}
	in.initializing = true
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		in.initializing = false
		in.mu.Unlock()
	}()

	granted, err := in.cfg.Transport.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		// Initialization completes without listeners; tokens stay
		// invalid until permission is granted and Init re-runs after
		// a toggle.
		in.mu.Lock()
		in.permission = false
		in.initialized = true
		in.mu.Unlock()
		in.log.Warn("notification permission denied")
		return ErrPermissionDenied
	}

	token, err := in.cfg.Transport.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch device token: %w", err)
	}
	in.log.WithField("token", token).Debug("device token obtained")

	in.registerToken(ctx, token)

	var unsubs []func()
	abort := func() {
		for _, u := range unsubs {
			u()
		}
	}

	refreshUnsub, err := in.cfg.Transport.OnTokenRefresh(func(newToken string) {
		in.mu.Lock()
		in.token = newToken
		in.mu.Unlock()
		in.log.Debug("device token refreshed")
		in.registerToken(context.Background(), newToken)
	})
	if err != nil {
		return fmt.Errorf("subscribe token refresh: %w", err)
	}
	unsubs = append(unsubs, refreshUnsub)

	msgUnsub, err := in.cfg.Transport.OnMessage(in.handleForeground)
	if err != nil {
		abort()
		return fmt.Errorf("attach message listener: %w", err)
	}
	unsubs = append(unsubs, msgUnsub)

	bgUnsub, err := in.cfg.Transport.SetBackgroundHandler(in.handleBackground)
	if err != nil {
		abort()
		return fmt.Errorf("attach background handler: %w", err)
	}
	unsubs = append(unsubs, bgUnsub)

	openedUnsub, err := in.cfg.Transport.OnNotificationOpened(in.handleOpened)
	if err != nil {
		abort()
		return fmt.Errorf("attach opened listener: %w", err)
	}
	unsubs = append(unsubs, openedUnsub)

	initial, err := in.cfg.Transport.InitialNotification(ctx)
	if err != nil {
		in.log.WithError(err).Warn("failed to read initial notification")
	}

	in.mu.Lock()
	in.permission = true
	in.token = token
	in.unsubs = unsubs
	in.initialized = true
	in.mu.Unlock()

	if initial != nil {
		in.handleOpened(*initial)
	}

	in.log.Info("notification ingestion initialized")
	return nil
}

func (in *Ingestor) registerToken(ctx context.Context, token string) {
	if in.cfg.OnTokenUpdate == nil {
		return
	}
	if err := in.cfg.OnTokenUpdate(ctx, token); err != nil {
		in.log.WithError(err).Warn("failed to register device token with backend")
	}
}

// handleForeground processes a foreground delivery. A message whose
// correlation id matches the immediately preceding one is discarded: the
// provider redelivers, and a single-slot window is sufficient because
// duplicates arrive back-to-back.
func (in *Ingestor) handleForeground(msg Message) {
	in.mu.Lock()
	if in.hasPrev && msg.ID == in.prevID {
		in.mu.Unlock()
		in.log.WithField("correlation_id", msg.ID).Debug("duplicate message discarded")
		return
	}
	in.prevID = msg.ID
	in.hasPrev = true

	rec := newReceivedRecord(msg)
	in.prependLocked(rec)
	in.mu.Unlock()

	if in.cfg.OnReceived != nil {
		in.cfg.OnReceived(rec)
	}
}

// handleBackground processes a background/killed-state delivery through the
// same bounded-prepend rule, without the foreground duplicate window.
func (in *Ingestor) handleBackground(msg Message) {
	rec := newReceivedRecord(msg)

	in.mu.Lock()
	in.prependLocked(rec)
	in.mu.Unlock()

	if in.cfg.OnReceived != nil {
		in.cfg.OnReceived(rec)
	}
}

// handleOpened forwards a tapped notification to the opened callback.
// Opened notifications never append to history; only the received path
// does.
func (in *Ingestor) handleOpened(msg Message) {
	if in.cfg.OnOpened == nil {
		return
	}
	in.cfg.OnOpened(newReceivedRecord(msg))
}

func (in *Ingestor) prependLocked(rec Record) {
	in.history = append([]Record{rec}, in.history...)
	if len(in.history) > in.cfg.MaxHistory {
		in.history = in.history[:in.cfg.MaxHistory]
	}
}

// RecordSent appends an app-initiated send to history and returns the
// record.
func (in *Ingestor) RecordSent(title, body string, data map[string]interface{}) Record {
	rec := newSentRecord(title, body, data)

	in.mu.Lock()
	in.prependLocked(rec)
	in.mu.Unlock()
	return rec
}

// History returns a copy of the history, newest first.
func (in *Ingestor) History() []Record {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]Record, len(in.history))
	copy(out, in.history)
	return out
}

// ClearHistory discards all recorded notifications.
func (in *Ingestor) ClearHistory() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.history = nil
}

// SubscribeTopic subscribes to a broadcast topic. Best-effort: failures are
// logged and never propagate.
func (in *Ingestor) SubscribeTopic(ctx context.Context, topic string) {
	if err := in.cfg.Transport.SubscribeTopic(ctx, topic); err != nil {
		in.log.WithError(err).WithField("topic", topic).Warn("topic subscribe failed")
		return
	}
	in.log.WithField("topic", topic).Info("subscribed to topic")
}

// UnsubscribeTopic leaves a broadcast topic. Best-effort.
func (in *Ingestor) UnsubscribeTopic(ctx context.Context, topic string) {
	if err := in.cfg.Transport.UnsubscribeTopic(ctx, topic); err != nil {
		in.log.WithError(err).WithField("topic", topic).Warn("topic unsubscribe failed")
		return
	}
	in.log.WithField("topic", topic).Info("unsubscribed from topic")
}

// Disable detaches all listeners, deletes the local device token, and marks
// the feature off.
func (in *Ingestor) Disable(ctx context.Context) error {
	in.mu.Lock()
	unsubs := in.unsubs
	in.unsubs = nil
	in.enabled = false
	in.initialized = false
	in.permission = false
	in.token = ""
	in.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	if err := in.cfg.Transport.DeleteToken(ctx); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	in.log.Info("notifications disabled")
	return nil
}

// Enable marks the feature on and re-runs the full initialization sequence.
func (in *Ingestor) Enable(ctx context.Context) error {
	in.mu.Lock()
	in.enabled = true
	in.mu.Unlock()
	return in.Init(ctx)
}

// Token returns the current device token, if initialization produced one.
func (in *Ingestor) Token() (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.token, in.token != ""
}

// Enabled reports whether notifications are toggled on.
func (in *Ingestor) Enabled() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.enabled
}

// Initialized reports whether the init sequence has completed.
func (in *Ingestor) Initialized() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.initialized
}

// HasPermission reports whether delivery permission was granted.
func (in *Ingestor) HasPermission() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.permission
}
