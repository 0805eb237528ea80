// mockapi is a development stand-in for the patient backend. It serves the
// endpoints the app consumes, issues signed JWTs, and exposes a fault
// toggle so the retry and error-classification paths can be exercised
// end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/doctorondial/patientcore/pkg/logger"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type server struct {
	log        *logger.Logger
	signingKey []byte

	mu       sync.Mutex
	accounts map[string]string // email -> password
	tokens   map[string]string // device token -> device id

	// failStatus, when non-zero, is returned by every endpoint for
	// failCount requests. Set via POST /debug/fail.
	failStatus int
	failCount  int
}

func main() {
	var (
		addr = flag.String("addr", ":8080", "listen address")
		key  = flag.String("signing-key", "mock-signing-key", "JWT signing key")
	)
	flag.Parse()

	log := logger.NewDefault("mockapi")

	s := &server{
		log:        log,
		signingKey: []byte(*key),
		accounts: map[string]string{
			"patient@example.com": "password123",
		},
		tokens: map[string]string{},
	}

	r := mux.NewRouter()
	r.Use(s.faultMiddleware)
	r.HandleFunc("/patients/email/check", s.handleCheckEmail).Methods(http.MethodPost)
	r.HandleFunc("/patients/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/patients/dashboard", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/patients/fcm-token", s.handleDeviceToken).Methods(http.MethodPost)
	r.HandleFunc("/debug/fail", s.handleFailToggle).Methods(http.MethodPost)

	log.WithField("addr", *addr).Info("mock patient API listening")
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

// faultMiddleware injects configured failures ahead of every handler so
// clients can observe retries, 5xx handling, and outage classification.
func (s *server) faultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/debug/") {
			next.ServeHTTP(w, r)
			return
		}

		s.mu.Lock()
		status := 0
		if s.failStatus != 0 && s.failCount != 0 {
			status = s.failStatus
			if s.failCount > 0 {
				s.failCount--
			}
		}
		s.mu.Unlock()

		if status != 0 {
			s.log.WithField("status", status).WithField("path", r.URL.Path).Info("injected failure")
			writeJSON(w, status, envelope{Success: false, Message: "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleFailToggle configures fault injection:
// {"status": 503, "count": 2} fails the next two requests with 503;
// count -1 fails until reset; status 0 resets.
func (s *server) handleFailToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status int `json:"status"`
		Count  int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid body"})
		return
	}

	s.mu.Lock()
	s.failStatus = req.Status
	s.failCount = req.Count
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "fault configured"})
}

func (s *server) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid body"})
		return
	}

	s.mu.Lock()
	_, exists := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()

	if !exists {
		// Unknown accounts answer 404 with a success envelope; clients
		// treat this as a successful "no account" outcome.
		writeJSON(w, http.StatusNotFound, envelope{Success: true, Message: "No account found for this email."})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Account exists."})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid body"})
		return
	}

	s.mu.Lock()
	password, exists := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()

	if !exists || password != req.Password {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "Invalid email or password."})
		return
	}

	patientID := uuid.NewString()
	token, err := s.issueToken(patientID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: "token issuance failed"})
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Login successful.",
		Data: map[string]string{
			"token":      token,
			"patient_id": patientID,
		},
	})
}

func (s *server) issueToken(patientID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": patientID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.authorize(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "Unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]interface{}{
			"patientDetails": map[string]string{
				"patient_id":          patientID,
				"patient_email":       "patient@example.com",
				"relation_title":      "Mr",
				"relation_first_name": "Pat",
				"relation_sur_name":   "Example",
			},
			"prescription": map[string]string{
				"prescription_id":         uuid.NewString(),
				"prescription_code":       "RX-1001",
				"prescription_created_at": time.Now().Format("2006-01-02"),
				"prescription_status":     "dispensed",
			},
		},
	})
}

func (s *server) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(r); !ok {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "Unauthorized"})
		return
	}

	var req struct {
		FCMToken string `json:"fcm_token"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FCMToken == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "fcm_token is required"})
		return
	}

	s.mu.Lock()
	s.tokens[req.FCMToken] = req.DeviceID
	s.mu.Unlock()

	s.log.WithField("device_id", req.DeviceID).Info("device token registered")
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Token registered."})
}

// authorize validates the bearer token's signature and expiry and returns
// the patient id.
func (s *server) authorize(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", false
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", false
	}
	return sub, true
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintln(os.Stderr, "encode response:", err)
	}
}
