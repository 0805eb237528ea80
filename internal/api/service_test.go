package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/doctorondial/patientcore/internal/apiclient"
	"github.com/doctorondial/patientcore/internal/credentials"
	"github.com/doctorondial/patientcore/internal/eventbus"
	"github.com/doctorondial/patientcore/pkg/logger"
)

type fixture struct {
	svc    *Service
	creds  *credentials.Store
	events *[]eventbus.Event
}

func newFixture(t *testing.T, handler http.Handler) (*fixture, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	creds := credentials.NewStore(credentials.NewMemoryKV(), logger.NewNop())
	bus := eventbus.New(20)

	var events []eventbus.Event
	bus.SubscribeAll(func(e eventbus.Event) { events = append(events, e) })

	client, err := apiclient.New(apiclient.Config{
		BaseURL:        server.URL,
		Credentials:    creds,
		Bus:            bus,
		Logger:         logger.NewNop(),
		RetryBaseDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}

	svc := NewService(client, creds, logger.NewNop())
	return &fixture{svc: svc, creds: creds, events: &events}, server
}

func TestLoginPersistsCredentials(t *testing.T) {
	f, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/patients/auth/login" {
			t.Errorf("path = %q, want /patients/auth/login", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "pat@example.com" || body["password"] != "secret" {
			t.Errorf("unexpected login body: %v", body)
		}
		w.Write([]byte(`{"success":true,"message":"ok","data":{"token":"abc","patient_id":"p1"}}`))
	}))

	data, err := f.svc.Login(context.Background(), "pat@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if data.Token != "abc" || data.PatientID != "p1" {
		t.Errorf("LoginData = %+v, want token abc / patient p1", data)
	}

	token, ok := f.creds.AccessToken()
	if !ok || token != "abc" {
		t.Errorf("stored token = %q, %v; want abc", token, ok)
	}
	id, ok := f.creds.PatientID()
	if !ok || id != "p1" {
		t.Errorf("stored patient id = %q, %v; want p1", id, ok)
	}
}

func TestLoginRejectsMissingToken(t *testing.T) {
	f, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"pending verification"}`))
	}))

	if _, err := f.svc.Login(context.Background(), "a@b.c", "pw"); err == nil {
		t.Fatal("Login should fail when the response has no token")
	}
	if _, ok := f.creds.AccessToken(); ok {
		t.Error("no token should be persisted on a failed login")
	}
}

// Full scenario from the session lifecycle: login stores credentials, the
// dashboard call carries the bearer token, a 401 empties the store and
// publishes a logout event.
func TestSessionExpiryScenario(t *testing.T) {
	var sawAuth string
	f, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/patients/auth/login":
			w.Write([]byte(`{"success":true,"message":"ok","data":{"token":"abc","patient_id":"p1"}}`))
		case "/patients/dashboard":
			sawAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"message":"expired"}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	if _, err := f.svc.Login(context.Background(), "pat@example.com", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err := f.svc.Dashboard(context.Background())
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsAuthError {
		t.Fatalf("Dashboard error = %v, want auth APIError", err)
	}

	if sawAuth != "Bearer abc" {
		t.Errorf("dashboard Authorization = %q, want %q", sawAuth, "Bearer abc")
	}
	if _, ok := f.creds.AccessToken(); ok {
		t.Error("credential store should be empty after the 401")
	}
	if _, ok := f.creds.PatientID(); ok {
		t.Error("patient id should be cleared after the 401")
	}

	var invalidated []eventbus.Event
	for _, e := range *f.events {
		if e.Topic == eventbus.TopicSessionInvalidated {
			invalidated = append(invalidated, e)
		}
	}
	if len(invalidated) != 1 || !invalidated[0].ShouldLogout {
		t.Fatalf("want exactly one session.invalidated with logout, got %v", invalidated)
	}
}

func TestDashboardDecodesPayload(t *testing.T) {
	f, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"message":"ok","data":{
			"patientDetails":{"patient_id":"p1","patient_email":"pat@example.com"},
			"prescription":{"prescription_id":"rx1","prescription_status":"active"}
		}`+"}"))
	}))

	data, err := f.svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if data.PatientDetails.PatientID != "p1" {
		t.Errorf("PatientID = %q, want p1", data.PatientDetails.PatientID)
	}
	if data.Prescription == nil || data.Prescription.PrescriptionID != "rx1" {
		t.Errorf("Prescription = %+v, want rx1", data.Prescription)
	}
}

func TestCheckEmailPostsBody(t *testing.T) {
	f, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "pat@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		// The backend reports an unknown email as a 404 business success.
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":true,"message":"email not registered"}`))
	}))

	env, err := f.svc.CheckEmail(context.Background(), "pat@example.com", nil)
	if err != nil {
		t.Fatalf("CheckEmail: %v", err)
	}
	if !env.Success {
		t.Error("Success should be true for the synthesized 404 response")
	}
	if env.Message != "email not registered" {
		t.Errorf("Message = %q", env.Message)
	}
}

func TestRegisterDeviceTokenPersistsToken(t *testing.T) {
	f, _ := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["fcm_token"] != "fcm-1" {
			t.Errorf("fcm_token = %q, want fcm-1", body["fcm_token"])
		}
		if body["device_id"] == "" {
			t.Error("device_id should be set")
		}
		w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))

	if err := f.svc.RegisterDeviceToken(context.Background(), "fcm-1"); err != nil {
		t.Fatalf("RegisterDeviceToken: %v", err)
	}

	token, ok := f.creds.DeviceToken()
	if !ok || token != "fcm-1" {
		t.Errorf("stored device token = %q, %v; want fcm-1", token, ok)
	}
}
