package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/doctorondial/patientcore/internal/credentials"
	"github.com/doctorondial/patientcore/pkg/logger"
)

type recordingNavigator struct {
	calls []string
}

func (r *recordingNavigator) NavigateToLogin() { r.calls = append(r.calls, "login") }
func (r *recordingNavigator) NavigateToMain()  { r.calls = append(r.calls, "main") }

func newTestController() (*Controller, *credentials.Store, *recordingNavigator) {
	creds := credentials.NewStore(credentials.NewMemoryKV(), logger.NewNop())
	nav := &recordingNavigator{}
	return New(creds, nav, logger.NewNop()), creds, nav
}

func TestInitialCheckWithoutToken(t *testing.T) {
	c, _, nav := newTestController()

	if c.State() != StateUnknown {
		t.Fatalf("initial State = %v, want Unknown", c.State())
	}

	if got := c.CheckAuth(); got != StateUnauthenticated {
		t.Errorf("CheckAuth = %v, want Unauthenticated", got)
	}
	if len(nav.calls) != 1 || nav.calls[0] != "login" {
		t.Errorf("navigation = %v, want [login]", nav.calls)
	}
}

func TestCheckWithTokenNavigatesToMain(t *testing.T) {
	c, creds, nav := newTestController()
	creds.SetAccessToken("abc")

	if got := c.CheckAuth(); got != StateAuthenticated {
		t.Errorf("CheckAuth = %v, want Authenticated", got)
	}
	if len(nav.calls) != 1 || nav.calls[0] != "main" {
		t.Errorf("navigation = %v, want [main]", nav.calls)
	}
}

func TestCheckAuthIsIdempotent(t *testing.T) {
	c, creds, nav := newTestController()
	creds.SetAccessToken("abc")

	for i := 0; i < 5; i++ {
		c.CheckAuth()
	}

	if c.State() != StateAuthenticated {
		t.Errorf("State = %v, want Authenticated", c.State())
	}
	if len(nav.calls) != 1 {
		t.Errorf("navigated %d times, want 1 (transitions only)", len(nav.calls))
	}
}

func TestCheckAuthFollowsStoreChanges(t *testing.T) {
	c, creds, nav := newTestController()

	creds.SetAccessToken("abc")
	c.CheckAuth()
	creds.ClearAll()
	c.CheckAuth()

	if c.State() != StateUnauthenticated {
		t.Errorf("State = %v, want Unauthenticated", c.State())
	}
	want := []string{"main", "login"}
	if len(nav.calls) != 2 || nav.calls[0] != want[0] || nav.calls[1] != want[1] {
		t.Errorf("navigation = %v, want %v", nav.calls, want)
	}
}

func TestLogoutIsDefensive(t *testing.T) {
	c, creds, nav := newTestController()
	creds.SetDeviceToken("fcm-1")

	// Logout must work regardless of store state, even when never
	// authenticated.
	c.Logout()

	if c.State() != StateUnauthenticated {
		t.Errorf("State = %v, want Unauthenticated", c.State())
	}
	if _, ok := creds.DeviceToken(); ok {
		t.Error("device token should be cleared on logout")
	}
	if len(nav.calls) != 1 || nav.calls[0] != "login" {
		t.Errorf("navigation = %v, want [login]", nav.calls)
	}

	// Repeated logout is a tolerated no-op apart from navigation.
	c.Logout()
	if c.State() != StateUnauthenticated {
		t.Errorf("State after second logout = %v", c.State())
	}
}

func TestLogoutThenRecheckYieldsUnauthenticated(t *testing.T) {
	c, creds, _ := newTestController()
	creds.SetAccessToken("abc")
	creds.SetPatientID("p1")
	creds.SetDeviceToken("fcm-1")
	c.CheckAuth()

	// The HTTP layer clears the full store on auth failure; the
	// controller clears the device token. Together all three are gone.
	creds.ClearAll()
	c.Logout()

	if got := c.CheckAuth(); got != StateUnauthenticated {
		t.Errorf("CheckAuth after logout = %v, want Unauthenticated", got)
	}
}

func TestParseTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "p1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	claims, err := ParseTokenClaims(signed)
	if err != nil {
		t.Fatalf("ParseTokenClaims: %v", err)
	}
	if claims.Subject != "p1" {
		t.Errorf("Subject = %q, want p1", claims.Subject)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, exp)
	}
	if claims.Expired(time.Now()) {
		t.Error("future expiry should not report expired")
	}
	if !claims.Expired(exp.Add(time.Minute)) {
		t.Error("past expiry should report expired")
	}
}

func TestParseTokenClaimsRejectsGarbage(t *testing.T) {
	if _, err := ParseTokenClaims("not-a-jwt"); err == nil {
		t.Error("ParseTokenClaims should fail on a malformed token")
	}
}

func TestTokenWithoutExpiryNeverExpires(t *testing.T) {
	claims := &TokenClaims{Subject: "p1"}
	if claims.Expired(time.Now()) {
		t.Error("token without exp should never report expired")
	}
}
