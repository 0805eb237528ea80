// Package session derives authentication state from the credential store
// and drives navigation on state transitions. State is recomputed, never
// stored: the credential store is the single source of truth.
package session

import (
	"sync"

	"github.com/doctorondial/patientcore/internal/credentials"
	"github.com/doctorondial/patientcore/pkg/logger"
)

// State is the derived authentication state.
type State int

const (
	// StateUnknown is the state before the first check completes.
	StateUnknown State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Navigator receives navigation side effects. Implementations are supplied
// by the presentation layer.
type Navigator interface {
	NavigateToLogin()
	NavigateToMain()
}

// NopNavigator ignores all navigation. Useful in tests and headless tools.
type NopNavigator struct{}

func (NopNavigator) NavigateToLogin() {}
func (NopNavigator) NavigateToMain()  {}

// Controller owns the session state machine. It does not subscribe to the
// event bus itself; the UI layer reacts to session-invalidated events by
// calling CheckAuth, which is safe to call repeatedly.
type Controller struct {
	mu    sync.Mutex
	state State
	creds *credentials.Store
	nav   Navigator
	log   *logger.Logger
}

// New creates a Controller in the Unknown state.
func New(creds *credentials.Store, nav Navigator, log *logger.Logger) *Controller {
	if nav == nil {
		nav = NopNavigator{}
	}
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Controller{state: StateUnknown, creds: creds, nav: nav, log: log}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CheckAuth re-derives the state from the credential store and navigates on
// transitions. Idempotent: repeated calls with an unchanged store neither
// corrupt state nor re-navigate.
func (c *Controller) CheckAuth() State {
	next := StateUnauthenticated
	if c.creds.Authenticated() {
		next = StateAuthenticated
	}

	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev == next {
		return next
	}

	c.log.WithField("from", prev.String()).WithField("to", next.String()).Info("session state changed")
	switch next {
	case StateAuthenticated:
		c.nav.NavigateToMain()
	case StateUnauthenticated:
		c.nav.NavigateToLogin()
	}
	return next
}

// Logout clears the device messaging token, forces Unauthenticated, and
// navigates to login regardless of what the credential store currently
// holds. The access token itself is cleared by the HTTP layer on auth
// failures; explicit logout only discards the messaging token.
func (c *Controller) Logout() {
	if err := c.creds.ClearDeviceToken(); err != nil {
		c.log.WithError(err).Warn("failed to clear device token on logout")
	}

	c.mu.Lock()
	c.state = StateUnauthenticated
	c.mu.Unlock()

	c.log.Info("logged out")
	c.nav.NavigateToLogin()
}
