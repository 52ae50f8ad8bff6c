package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/comunidade-maf/apiserver/internal/authz"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/notify"
	"github.com/comunidade-maf/apiserver/internal/storage"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/google/uuid"
)

var fixedNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fakeDB is an in-memory stand-in for the Postgres store. WithinTx
// snapshots state and restores it when fn fails.
type fakeDB struct {
	mu        sync.Mutex
	users     map[string]types.User
	profiles  map[string]types.Profile
	certs     map[string]types.Certificate
	customers map[string]types.HotmartCustomer
	orders    map[string]types.HotmartOrder
	seq       int

	failSetAccess  error
	failCreateCert error
	txCommits      int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:     map[string]types.User{},
		profiles:  map[string]types.Profile{},
		certs:     map[string]types.Certificate{},
		customers: map[string]types.HotmartCustomer{},
		orders:    map[string]types.HotmartOrder{},
	}
}

func (db *fakeDB) addUser(id, email string, profile *types.Profile) {
	db.users[id] = types.User{ID: id, Email: email}
	if profile != nil {
		profile.ID = id
		if profile.Role == "" {
			profile.Role = types.RoleUser
		}
		db.profiles[id] = *profile
	}
}

func (db *fakeDB) addAdmin(id string) {
	db.addUser(id, id+"@example.com", &types.Profile{FullName: "Admin", Role: types.RoleAdmin, StatusAccess: types.AccessActive})
}

func (db *fakeDB) addCertificate(userID string, status types.ReviewStatus) types.Certificate {
	db.seq++
	cert := types.Certificate{
		ID:           uuid.NewString(),
		UserID:       userID,
		FilePath:     userID + "/cert.pdf",
		ReviewStatus: status,
		CreatedAt:    fixedNow.Add(time.Duration(db.seq) * time.Minute),
	}
	db.certs[cert.ID] = cert
	return cert
}

func (db *fakeDB) WithinTx(ctx context.Context, fn func(w store.AccessWriter) error) error {
	db.mu.Lock()
	snapshot := db.clone()
	db.mu.Unlock()

	if err := fn(fakeWriter{db: db}); err != nil {
		db.mu.Lock()
		db.restore(snapshot)
		db.mu.Unlock()
		return err
	}
	db.mu.Lock()
	db.txCommits++
	db.mu.Unlock()
	return nil
}

type fakeSnapshot struct {
	profiles  map[string]types.Profile
	certs     map[string]types.Certificate
	customers map[string]types.HotmartCustomer
	orders    map[string]types.HotmartOrder
}

func (db *fakeDB) clone() fakeSnapshot {
	s := fakeSnapshot{
		profiles:  map[string]types.Profile{},
		certs:     map[string]types.Certificate{},
		customers: map[string]types.HotmartCustomer{},
		orders:    map[string]types.HotmartOrder{},
	}
	for k, v := range db.profiles {
		s.profiles[k] = v
	}
	for k, v := range db.certs {
		s.certs[k] = v
	}
	for k, v := range db.customers {
		s.customers[k] = v
	}
	for k, v := range db.orders {
		s.orders[k] = v
	}
	return s
}

func (db *fakeDB) restore(s fakeSnapshot) {
	db.profiles, db.certs, db.customers, db.orders = s.profiles, s.certs, s.customers, s.orders
}

type fakeWriter struct{ db *fakeDB }

func (w fakeWriter) CreateProfile(_ context.Context, p types.Profile) (types.Profile, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	if _, ok := w.db.profiles[p.ID]; ok {
		return types.Profile{}, store.ErrConflict
	}
	p.CreatedAt = fixedNow
	w.db.profiles[p.ID] = p
	return p, nil
}

func (w fakeWriter) CreateCertificate(_ context.Context, c types.Certificate) (types.Certificate, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	if w.db.failCreateCert != nil {
		return types.Certificate{}, w.db.failCreateCert
	}
	w.db.seq++
	c.ID = uuid.NewString()
	c.ReviewStatus = types.ReviewUploaded
	c.CreatedAt = fixedNow.Add(time.Duration(w.db.seq) * time.Minute)
	w.db.certs[c.ID] = c
	return c, nil
}

func (w fakeWriter) CreateCustomer(_ context.Context, c types.HotmartCustomer) (types.HotmartCustomer, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for _, existing := range w.db.customers {
		if strings.EqualFold(existing.HotmartEmail, c.HotmartEmail) {
			return types.HotmartCustomer{}, store.ErrConflict
		}
	}
	c.ID = uuid.NewString()
	w.db.customers[c.UserID] = c
	return c, nil
}

func (w fakeWriter) DecideCertificate(_ context.Context, id, userID string, status types.ReviewStatus, reviewerID string, at time.Time) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	c, ok := w.db.certs[id]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	if c.ReviewStatus != types.ReviewUploaded {
		return store.ErrAlreadyReviewed
	}
	c.ReviewStatus = status
	c.ReviewedBy = &reviewerID
	c.ReviewedAt = &at
	w.db.certs[id] = c
	return nil
}

func (w fakeWriter) SetAccessState(_ context.Context, userID string, status types.AccessStatus, badge bool) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	if w.db.failSetAccess != nil {
		return w.db.failSetAccess
	}
	p, ok := w.db.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.StatusAccess = status
	p.VerifiedBadge = badge
	w.db.profiles[userID] = p
	return nil
}

func (w fakeWriter) UpsertOrder(_ context.Context, o types.HotmartOrder) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	if existing, ok := w.db.orders[o.OrderID]; ok {
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
	} else {
		o.ID = uuid.NewString()
		o.CreatedAt = fixedNow
	}
	o.UpdatedAt = fixedNow
	w.db.orders[o.OrderID] = o
	return nil
}

func (w fakeWriter) TouchCustomer(_ context.Context, userID, customerID string, at time.Time) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	c, ok := w.db.customers[userID]
	if !ok {
		return store.ErrNotFound
	}
	c.HotmartCustomerID = &customerID
	c.LastVerifiedAt = &at
	w.db.customers[userID] = c
	return nil
}

type fakeUsers struct{ db *fakeDB }

func (f fakeUsers) GetByID(_ context.Context, id string) (types.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u, ok := f.db.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, u := range f.db.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f fakeUsers) LookupEmail(ctx context.Context, id string) (string, error) {
	u, err := f.GetByID(ctx, id)
	return u.Email, err
}

func (f fakeUsers) Create(_ context.Context, u types.User) (types.User, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	u.ID = uuid.NewString()
	f.db.users[u.ID] = u
	return u, nil
}

func (f fakeUsers) Delete(_ context.Context, id string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if _, ok := f.db.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.db.users, id)
	delete(f.db.profiles, id)
	delete(f.db.customers, id)
	for k, c := range f.db.certs {
		if c.UserID == id {
			delete(f.db.certs, k)
		}
	}
	for k, o := range f.db.orders {
		if o.UserID == id {
			delete(f.db.orders, k)
		}
	}
	return nil
}

type fakeProfiles struct{ db *fakeDB }

func (f fakeProfiles) GetByID(_ context.Context, id string) (types.Profile, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.profiles[id]
	if !ok {
		return types.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (f fakeProfiles) List(_ context.Context, status types.AccessStatus, offset, limit int) ([]types.Profile, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var all []types.Profile
	for _, p := range f.db.profiles {
		if status == "" || p.StatusAccess == status {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (f fakeProfiles) CountByStatus(_ context.Context, status types.AccessStatus) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, p := range f.db.profiles {
		if p.StatusAccess == status {
			n++
		}
	}
	return n, nil
}

func (f fakeProfiles) UpdateDetails(_ context.Context, p types.Profile) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	existing, ok := f.db.profiles[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.FullName, existing.Bio, existing.City, existing.AvatarURL = p.FullName, p.Bio, p.City, p.AvatarURL
	f.db.profiles[p.ID] = existing
	return nil
}

func (f fakeProfiles) SetAccessState(ctx context.Context, id string, status types.AccessStatus, badge bool) error {
	return fakeWriter(f).SetAccessState(ctx, id, status, badge)
}

func (f fakeProfiles) SetBadge(_ context.Context, id string, badge bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.profiles[id]
	if !ok {
		return store.ErrNotFound
	}
	p.VerifiedBadge = badge
	f.db.profiles[id] = p
	return nil
}

type fakeCerts struct{ db *fakeDB }

func (f fakeCerts) Get(_ context.Context, id string) (types.Certificate, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c, ok := f.db.certs[id]
	if !ok {
		return types.Certificate{}, store.ErrNotFound
	}
	return c, nil
}

func (f fakeCerts) Latest(_ context.Context, userID string) (types.Certificate, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var (
		latest types.Certificate
		found  bool
	)
	for _, c := range f.db.certs {
		if c.UserID == userID && (!found || c.CreatedAt.After(latest.CreatedAt)) {
			latest, found = c, true
		}
	}
	if !found {
		return types.Certificate{}, store.ErrNotFound
	}
	return latest, nil
}

func (f fakeCerts) ListQueue(_ context.Context, status types.ReviewStatus, offset, limit int) ([]types.CertificateQueueItem, int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var all []types.CertificateQueueItem
	for _, c := range f.db.certs {
		if status == "" || c.ReviewStatus == status {
			all = append(all, types.CertificateQueueItem{Certificate: c, OwnerName: f.db.profiles[c.UserID].FullName})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (f fakeCerts) CountByStatus(_ context.Context, status types.ReviewStatus) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	n := 0
	for _, c := range f.db.certs {
		if c.ReviewStatus == status {
			n++
		}
	}
	return n, nil
}

func (f fakeCerts) FilePaths(_ context.Context, userID string) ([]string, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var paths []string
	for _, c := range f.db.certs {
		if c.UserID == userID {
			paths = append(paths, c.FilePath)
		}
	}
	return paths, nil
}

type fakeHotmart struct{ db *fakeDB }

func (f fakeHotmart) CustomerByEmail(_ context.Context, email string) (types.HotmartCustomer, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, c := range f.db.customers {
		if strings.EqualFold(c.HotmartEmail, strings.TrimSpace(email)) {
			return c, nil
		}
	}
	return types.HotmartCustomer{}, store.ErrNotFound
}

func (f fakeHotmart) CountCustomers(_ context.Context) (int, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return len(f.db.customers), nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (n *recordingNotifier) NotifyAccessDecision(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type recordingCache struct {
	cache.Noop
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fixture struct {
	db       *fakeDB
	guard    *authz.Guard
	notifier *recordingNotifier
	cache    *recordingCache
	objects  *storage.MemoryClient
	storage  *storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newFakeDB()
	objects := storage.NewMemoryClient("certificates")
	return &fixture{
		db:       db,
		guard:    authz.NewGuard(fakeProfiles{db: db}),
		notifier: &recordingNotifier{},
		cache:    &recordingCache{},
		objects:  objects,
		storage:  storage.NewStorage(objects),
	}
}
