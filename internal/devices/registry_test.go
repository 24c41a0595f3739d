package devices

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketplace/internal/apperr"
	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/notify"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (s *recordingSink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

type registryFixture struct {
	registry *Registry
	store    *db.DeviceRepository
	account  *models.Account
	sink     *recordingSink
}

func newRegistryFixture(t *testing.T, maxActive int) *registryFixture {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	account := &models.Account{Username: "alice", Email: "alice@example.com", PasswordHash: "x", CreatedAt: epoch, UpdatedAt: epoch}
	if err := db.NewAccountRepository(database).Create(context.Background(), account); err != nil {
		t.Fatalf("Create(account) error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := &recordingSink{}
	store := db.NewDeviceRepository(database)
	return &registryFixture{
		registry: NewRegistry(store, maxActive, 30*24*time.Hour, notify.NewDispatcher(sink, logger), logger),
		store:    store,
		account:  account,
		sink:     sink,
	}
}

// storedDevice reads the row for id back from the store.
func (f *registryFixture) storedDevice(t *testing.T, id string) *models.TrustedDevice {
	t.Helper()
	all, err := f.store.FindAllByAccount(context.Background(), f.account.ID)
	if err != nil {
		t.Fatalf("FindAllByAccount() error = %v", err)
	}
	for _, d := range all {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("device %s not stored", id)
	return nil
}

func metaFor(ip string) RequestMeta {
	return RequestMeta{UserAgent: uaMac, AcceptLanguage: "en", AcceptEncoding: "gzip", ClientIP: ip}
}

func TestTrustThenIsTrusted(t *testing.T) {
	f := newRegistryFixture(t, 5)
	ctx := context.Background()
	meta := metaFor("10.0.0.1")
	fp := Fingerprint(meta)

	d, err := f.registry.Trust(ctx, f.account, fp, meta, epoch)
	if err != nil {
		t.Fatalf("Trust() error = %v", err)
	}
	if d.Token == "" || d.Name != "Mac" || !d.ExpiresAt.Equal(epoch.Add(30*24*time.Hour)) {
		t.Fatalf("Trust() = %+v", d)
	}
	if len(f.sink.sent) != 1 || f.sink.sent[0].Kind != notify.KindNewDevice {
		t.Fatalf("notifications = %+v, want one new-device alert", f.sink.sent)
	}

	trusted, err := f.registry.IsTrusted(ctx, f.account.ID, fp, epoch.Add(time.Minute))
	if err != nil || !trusted {
		t.Fatalf("IsTrusted() = %v, %v, want true, nil", trusted, err)
	}

	stored := f.storedDevice(t, d.ID)
	if !stored.LastUsedAt.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("LastUsedAt = %v, want touched", stored.LastUsedAt)
	}

	again, err := f.registry.Trust(ctx, f.account, fp, meta, epoch.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Trust() again error = %v", err)
	}
	if again.ID != d.ID {
		t.Fatalf("Trust() again created %s, want reuse of %s", again.ID, d.ID)
	}
}

func TestIsTrustedExpiredDeactivates(t *testing.T) {
	f := newRegistryFixture(t, 5)
	ctx := context.Background()
	fp := Fingerprint(metaFor("10.0.0.1"))

	d, err := f.registry.Trust(ctx, f.account, fp, metaFor("10.0.0.1"), epoch)
	if err != nil {
		t.Fatalf("Trust() error = %v", err)
	}

	trusted, err := f.registry.IsTrusted(ctx, f.account.ID, fp, d.ExpiresAt)
	if err != nil || trusted {
		t.Fatalf("IsTrusted() at expiry = %v, %v, want false, nil", trusted, err)
	}
	if f.storedDevice(t, d.ID).Active {
		t.Fatal("expired device still active")
	}

	trusted, _ = f.registry.IsTrusted(ctx, f.account.ID, fp, epoch)
	if trusted {
		t.Fatal("IsTrusted() on deactivated device = true, want false")
	}
}

func TestTrustEvictsLeastRecentlyUsed(t *testing.T) {
	f := newRegistryFixture(t, 2)
	ctx := context.Background()

	first, _ := f.registry.Trust(ctx, f.account, Fingerprint(metaFor("10.0.0.1")), metaFor("10.0.0.1"), epoch)
	second, _ := f.registry.Trust(ctx, f.account, Fingerprint(metaFor("10.0.0.2")), metaFor("10.0.0.2"), epoch.Add(time.Minute))

	// Using the first device makes the second the least recently used.
	if _, err := f.registry.IsTrusted(ctx, f.account.ID, first.Fingerprint, epoch.Add(2*time.Minute)); err != nil {
		t.Fatalf("IsTrusted() error = %v", err)
	}

	third, err := f.registry.Trust(ctx, f.account, Fingerprint(metaFor("10.0.0.3")), metaFor("10.0.0.3"), epoch.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Trust() error = %v", err)
	}

	list, err := f.registry.List(ctx, f.account.ID, epoch.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	ids := map[string]bool{list[0].ID: true, list[1].ID: true}
	if !ids[first.ID] || !ids[third.ID] || ids[second.ID] {
		t.Fatalf("active devices = %v, want first and third", ids)
	}
}

func TestTrustConcurrentRespectsCap(t *testing.T) {
	f := newRegistryFixture(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta := metaFor("10.0.1." + string(rune('a'+i)))
			if _, err := f.registry.Trust(ctx, f.account, Fingerprint(meta), meta, epoch); err != nil {
				t.Errorf("Trust() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := f.registry.List(ctx, f.account.ID, epoch)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}
}

func TestRevoke(t *testing.T) {
	f := newRegistryFixture(t, 5)
	ctx := context.Background()
	d, _ := f.registry.Trust(ctx, f.account, "fp-1", metaFor("10.0.0.1"), epoch)
	f.registry.Trust(ctx, f.account, "fp-2", metaFor("10.0.0.2"), epoch)

	if err := f.registry.Revoke(ctx, f.account.ID, "dev_missing"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("Revoke(missing) error = %v, want NotFound", err)
	}
	if err := f.registry.Revoke(ctx, f.account.ID, d.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if trusted, _ := f.registry.IsTrusted(ctx, f.account.ID, "fp-1", epoch); trusted {
		t.Fatal("revoked device still trusted")
	}

	n, err := f.registry.RevokeAll(ctx, f.account.ID)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAll() = %d, %v, want 1, nil", n, err)
	}
	list, _ := f.registry.List(ctx, f.account.ID, epoch)
	if len(list) != 0 {
		t.Fatalf("len(List()) after RevokeAll = %d, want 0", len(list))
	}
}

// interleavingStore runs afterLookup once between the device lookup and the
// write that follows it.
type interleavingStore struct {
	*db.DeviceRepository
	afterLookup func()
}

func (s *interleavingStore) FindActiveByAccountAndFingerprint(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error) {
	d, err := s.DeviceRepository.FindActiveByAccountAndFingerprint(ctx, accountID, fingerprint)
	if s.afterLookup != nil {
		hook := s.afterLookup
		s.afterLookup = nil
		hook()
	}
	return d, err
}

func TestIsTrustedDoesNotResurrectRevokedDevice(t *testing.T) {
	f := newRegistryFixture(t, 5)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &interleavingStore{DeviceRepository: f.store}
	registry := NewRegistry(store, 5, 30*24*time.Hour, notify.NewDispatcher(f.sink, logger), logger)

	d, err := registry.Trust(ctx, f.account, "fp-1", metaFor("10.0.0.1"), epoch)
	if err != nil {
		t.Fatalf("Trust() error = %v", err)
	}

	store.afterLookup = func() {
		n, err := registry.RevokeAll(ctx, f.account.ID)
		if err != nil || n != 1 {
			t.Errorf("RevokeAll() = %d, %v, want 1, nil", n, err)
		}
	}
	trusted, err := registry.IsTrusted(ctx, f.account.ID, "fp-1", epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("IsTrusted() error = %v", err)
	}
	if trusted {
		t.Fatal("IsTrusted() = true for a device revoked after lookup, want false")
	}
	if f.storedDevice(t, d.ID).Active {
		t.Fatal("revoked device is active again")
	}
	list, _ := registry.List(ctx, f.account.ID, epoch.Add(time.Minute))
	if len(list) != 0 {
		t.Fatalf("len(List()) = %d, want 0", len(list))
	}
}
