package credentials

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/doctorondial/patientcore/pkg/logger"
)

func newTestStore() *Store {
	return NewStore(NewMemoryKV(), logger.NewNop())
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore()

	if _, ok := store.AccessToken(); ok {
		t.Fatal("AccessToken should be absent in a fresh store")
	}

	if err := store.SetAccessToken("abc"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}
	if err := store.SetPatientID("p1"); err != nil {
		t.Fatalf("SetPatientID: %v", err)
	}
	if err := store.SetDeviceToken("fcm-1"); err != nil {
		t.Fatalf("SetDeviceToken: %v", err)
	}

	token, ok := store.AccessToken()
	if !ok || token != "abc" {
		t.Errorf("AccessToken = %q, %v; want %q, true", token, ok, "abc")
	}
	id, ok := store.PatientID()
	if !ok || id != "p1" {
		t.Errorf("PatientID = %q, %v; want %q, true", id, ok, "p1")
	}
	device, ok := store.DeviceToken()
	if !ok || device != "fcm-1" {
		t.Errorf("DeviceToken = %q, %v; want %q, true", device, ok, "fcm-1")
	}
	if !store.Authenticated() {
		t.Error("Authenticated() should be true with a token present")
	}
}

func TestClearAllRemovesEveryField(t *testing.T) {
	store := newTestStore()
	store.SetAccessToken("abc")
	store.SetPatientID("p1")
	store.SetDeviceToken("fcm-1")

	if err := store.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if _, ok := store.AccessToken(); ok {
		t.Error("access token survived ClearAll")
	}
	if _, ok := store.PatientID(); ok {
		t.Error("patient id survived ClearAll")
	}
	if _, ok := store.DeviceToken(); ok {
		t.Error("device token survived ClearAll")
	}
	if store.Authenticated() {
		t.Error("Authenticated() should be false after ClearAll")
	}

	// Idempotent: clearing an empty store is a no-op.
	if err := store.ClearAll(); err != nil {
		t.Errorf("second ClearAll: %v", err)
	}
}

func TestClearAllContinuesPastFailures(t *testing.T) {
	kv := &flakyKV{KV: NewMemoryKV(), failDelete: map[string]bool{KeyAccessToken: true}}
	store := NewStore(kv, logger.NewNop())
	store.SetPatientID("p1")

	err := store.ClearAll()
	if err == nil {
		t.Fatal("ClearAll should report the delete failure")
	}
	if _, ok := store.PatientID(); ok {
		t.Error("patient id should still be cleared when another key fails")
	}
}

type flakyKV struct {
	KV
	failDelete map[string]bool
}

func (f *flakyKV) Delete(key string) error {
	if f.failDelete[key] {
		return errors.New("backend unavailable")
	}
	return f.KV.Delete(key)
}

func TestFileKVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	kv := NewFileKV(path)

	if _, err := kv.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := kv.Set(KeyAccessToken, "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A new KV over the same file sees the persisted value.
	reopened := NewFileKV(path)
	value, err := reopened.Get(KeyAccessToken)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if value != "abc" {
		t.Errorf("Get = %q, want %q", value, "abc")
	}

	if err := reopened.Delete(KeyAccessToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reopened.Get(KeyAccessToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}

	// Deleting an absent key is a no-op.
	if err := reopened.Delete(KeyAccessToken); err != nil {
		t.Errorf("Delete of absent key: %v", err)
	}
}

func TestSnapshotReportsPresenceOnly(t *testing.T) {
	store := newTestStore()
	store.SetAccessToken("abc")
	store.SetDeviceToken("fcm-1")

	snapshot := store.Snapshot()
	if !snapshot[KeyAccessToken] || snapshot[KeyPatientID] || !snapshot[KeyDeviceToken] {
		t.Errorf("Snapshot = %v", snapshot)
	}
}

func TestEmptyValueTreatedAsAbsent(t *testing.T) {
	store := newTestStore()
	store.SetAccessToken("")

	if _, ok := store.AccessToken(); ok {
		t.Error("empty token should be reported as absent")
	}
}
