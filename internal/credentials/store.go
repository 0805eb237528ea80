// Package credentials owns the persisted credential triple: the API access
// token, the patient id, and the device messaging token. No other component
// mutates these values directly.
package credentials

import (
	"errors"

	"github.com/doctorondial/patientcore/pkg/logger"
)

// Fixed storage keys. These match the keys the mobile builds used, so a
// migrated store remains readable.
const (
	KeyAccessToken = "access_token"
	KeyPatientID   = "patient_id"
	KeyDeviceToken = "fcm_token"
)

// Store reads and writes the credential triple through a KV backend.
type Store struct {
	kv  KV
	log *logger.Logger
}

// NewStore creates a credential store on the given backend.
func NewStore(kv KV, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("credentials")
	}
	return &Store{kv: kv, log: log}
}

// AccessToken returns the stored API token, if any. Backend read errors are
// logged and reported as absence: a request issued without a token fails
// with an auth error downstream, which is the recoverable path.
func (s *Store) AccessToken() (string, bool) {
	return s.get(KeyAccessToken)
}

// SetAccessToken persists the API token.
func (s *Store) SetAccessToken(token string) error {
	return s.kv.Set(KeyAccessToken, token)
}

// ClearAccessToken removes the API token. Clearing an absent token is a
// no-op: a superseded request may attempt to clear headers that are already
// cleared.
func (s *Store) ClearAccessToken() error {
	return s.kv.Delete(KeyAccessToken)
}

// PatientID returns the stored patient id, if any.
func (s *Store) PatientID() (string, bool) {
	return s.get(KeyPatientID)
}

// SetPatientID persists the patient id.
func (s *Store) SetPatientID(id string) error {
	return s.kv.Set(KeyPatientID, id)
}

// ClearPatientID removes the patient id.
func (s *Store) ClearPatientID() error {
	return s.kv.Delete(KeyPatientID)
}

// DeviceToken returns the stored device messaging token, if any.
func (s *Store) DeviceToken() (string, bool) {
	return s.get(KeyDeviceToken)
}

// SetDeviceToken persists the device messaging token.
func (s *Store) SetDeviceToken(token string) error {
	return s.kv.Set(KeyDeviceToken, token)
}

// ClearDeviceToken removes the device messaging token.
func (s *Store) ClearDeviceToken() error {
	return s.kv.Delete(KeyDeviceToken)
}

// ClearAll removes all three credential fields. Deletion is best-effort per
// key: a failure on one key does not stop the others, and the first error
// is returned. ClearAll is idempotent.
func (s *Store) ClearAll() error {
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyPatientID, KeyDeviceToken} {
		if err := s.kv.Delete(key); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("failed to clear credential")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot reports which credential fields are present. Values are never
// included; the snapshot is for diagnostics and status displays.
func (s *Store) Snapshot() map[string]bool {
	snapshot := make(map[string]bool, 3)
	for _, key := range []string{KeyAccessToken, KeyPatientID, KeyDeviceToken} {
		_, ok := s.get(key)
		snapshot[key] = ok
	}
	return snapshot
}

// Authenticated reports whether an access token is present.
func (s *Store) Authenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

func (s *Store) get(key string) (string, bool) {
	value, err := s.kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("credential read failed")
		return "", false
	}
	return value, value != ""
}
