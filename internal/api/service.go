// Package api wraps the known backend endpoints in typed operations. All
// calls go through the apiclient interception point, so error classification
// and its side effects apply uniformly.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/doctorondial/patientcore/internal/apiclient"
	"github.com/doctorondial/patientcore/internal/credentials"
	"github.com/doctorondial/patientcore/pkg/logger"
)

// Endpoint paths consumed by the app.
const (
	pathCheckEmail  = "/patients/email/check"
	pathLogin       = "/patients/auth/login"
	pathDashboard   = "/patients/dashboard"
	pathDeviceToken = "/patients/fcm-token"
)

// Service exposes the backend operations.
type Service struct {
	client *apiclient.Client
	creds  *credentials.Store
	log    *logger.Logger
}

// NewService creates a Service on the given client and credential store.
func NewService(client *apiclient.Client, creds *credentials.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("api")
	}
	return &Service{client: client, creds: creds, log: log}
}

// CheckEmail asks the backend whether an account exists for the email.
func (s *Service) CheckEmail(ctx context.Context, email string, opts *apiclient.CallOptions) (*Envelope, error) {
	resp, err := s.client.Post(ctx, pathCheckEmail, checkEmailRequest{Email: email}, opts)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Login authenticates the patient. On success the returned token and patient
// id are persisted to the credential store before returning.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginData, error) {
	resp, err := s.client.Post(ctx, pathLogin, loginRequest{Email: email, Password: password}, nil)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}

	var data LoginData
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode login data: %w", err)
		}
	}
	if data.Token == "" {
		return nil, fmt.Errorf("login response missing token: %s", env.Message)
	}

	if err := s.creds.SetAccessToken(data.Token); err != nil {
		return nil, fmt.Errorf("persist access token: %w", err)
	}
	if err := s.creds.SetPatientID(data.PatientID); err != nil {
		return nil, fmt.Errorf("persist patient id: %w", err)
	}

	s.log.WithField("patient_id", data.PatientID).Info("login succeeded")
	return &data, nil
}

// Dashboard fetches the patient dashboard with global error handling.
func (s *Service) Dashboard(ctx context.Context) (*DashboardData, error) {
	return s.dashboard(ctx, nil)
}

// DashboardSilent fetches the dashboard with toasts suppressed, leaving
// error presentation to the caller.
func (s *Service) DashboardSilent(ctx context.Context) (*DashboardData, error) {
	return s.dashboard(ctx, &apiclient.CallOptions{SkipGlobalErrorHandling: true})
}

func (s *Service) dashboard(ctx context.Context, opts *apiclient.CallOptions) (*DashboardData, error) {
	resp, err := s.client.Get(ctx, pathDashboard, opts)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}

	var data DashboardData
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode dashboard data: %w", err)
		}
	}
	return &data, nil
}

// RegisterDeviceToken registers the device messaging token with the backend
// so pushes reach this device. It is used as the ingestion layer's
// token-update callback.
func (s *Service) RegisterDeviceToken(ctx context.Context, token string) error {
	body := deviceTokenRequest{FCMToken: token, DeviceID: DeviceIdentifier()}
	if _, err := s.client.Post(ctx, pathDeviceToken, body, nil); err != nil {
		return err
	}

	if err := s.creds.SetDeviceToken(token); err != nil {
		return fmt.Errorf("persist device token: %w", err)
	}
	return nil
}

// DeviceIdentifier returns a coarse platform identifier sent alongside the
// device token.
func DeviceIdentifier() string {
	return runtime.GOOS
}
