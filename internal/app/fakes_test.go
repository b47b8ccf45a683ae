package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"hoostn/internal/domain"
)

func d(s string) time.Time {
	t, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func pstr(s string) *string { return &s }
func pint(i int) *int       { return &i }
func pint64(i int64) *int64 { return &i }

// fakeStore is an in-memory domain.Store with the same contract the MySQL
// repo honors: same-kind rule overlap rejection, transactional booking
// checks, claim-time next_sync_at advancement.
type fakeStore struct {
	mu           sync.Mutex
	units        map[int64]domain.Unit
	rules        map[int64]domain.Rule
	reservations map[int64]domain.Reservation
	events       map[int64][]domain.ExternalEvent
	connections  map[int64]domain.Connection
	conflicts    map[int64]domain.Conflict
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		units:        map[int64]domain.Unit{},
		rules:        map[int64]domain.Rule{},
		reservations: map[int64]domain.Reservation{},
		events:       map[int64][]domain.ExternalEvent{},
		connections:  map[int64]domain.Connection{},
		conflicts:    map[int64]domain.Conflict{},
	}
}

func (f *fakeStore) id() int64 { f.nextID++; return f.nextID }

func (f *fakeStore) addUnit(u domain.Unit) domain.Unit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == 0 {
		u.ID = f.id()
	}
	f.units[u.ID] = u
	return u
}

func (f *fakeStore) addConnection(c domain.Connection) domain.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == 0 {
		c.ID = f.id()
	}
	f.connections[c.ID] = c
	return c
}

// ---- units ----

func (f *fakeStore) GetUnit(_ context.Context, id int64) (domain.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.units[id]
	if !ok {
		return domain.Unit{}, domain.ErrNotFound
	}
	return u, nil
}

// ---- rules ----

func (f *fakeStore) CreateRule(_ context.Context, r domain.Rule) (domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.rules {
		if x.UnitID == r.UnitID && x.Kind == r.Kind &&
			!r.StartDate.After(x.EndDate) && !x.StartDate.After(r.EndDate) {
			return domain.Rule{}, domain.ErrRuleOverlap
		}
	}
	r.ID = f.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	f.rules[r.ID] = r
	return r, nil
}

func (f *fakeStore) DeleteRule(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeStore) ListRules(_ context.Context, unitID int64) ([]domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Rule
	for _, r := range f.rules {
		if r.UnitID == unitID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) RulesIntersecting(_ context.Context, unitID int64, kind domain.RuleKind, checkIn, checkOut time.Time) ([]domain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Rule
	for _, r := range f.rules {
		if r.UnitID == unitID && r.Kind == kind && r.IntersectsStay(checkIn, checkOut) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- reservations ----

func (f *fakeStore) GetReservation(_ context.Context, id int64) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) overlappingLocked(unitID int64, checkIn, checkOut time.Time, excludeID int64) []domain.Reservation {
	var out []domain.Reservation
	for _, r := range f.reservations {
		if r.UnitID != unitID || r.ID == excludeID || !r.Occupies() {
			continue
		}
		if domain.Overlaps(r.CheckIn, r.CheckOut, checkIn, checkOut) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ReservationsOverlapping(_ context.Context, unitID int64, checkIn, checkOut time.Time, excludeID int64) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlappingLocked(unitID, checkIn, checkOut, excludeID), nil
}

func (f *fakeStore) CreateReservationChecked(_ context.Context, req domain.BookingRequest) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.units[req.UnitID]; !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	for _, r := range f.rules {
		if r.UnitID == req.UnitID && r.Kind == domain.RuleBlocked && r.IntersectsStay(req.CheckIn, req.CheckOut) {
			return domain.Reservation{}, domain.ErrUnavailable
		}
	}
	if len(f.overlappingLocked(req.UnitID, req.CheckIn, req.CheckOut, 0)) > 0 {
		return domain.Reservation{}, domain.ErrUnavailable
	}
	for _, r := range f.rules {
		if r.UnitID == req.UnitID && r.Kind == domain.RuleMinStay &&
			r.IntersectsStay(req.CheckIn, req.CheckOut) &&
			r.MinNights != nil && domain.Nights(req.CheckIn, req.CheckOut) < *r.MinNights {
			return domain.Reservation{}, domain.ErrUnavailable
		}
	}
	now := time.Now().UTC()
	rv := domain.Reservation{
		ID:         f.id(),
		UnitID:     req.UnitID,
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     req.Guests,
		Status:     domain.ReservationConfirmed,
		Source:     domain.SourceDirect,
		GuestName:  req.GuestName,
		TotalCents: req.TotalCents,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	f.reservations[rv.ID] = rv
	return rv, nil
}

func (f *fakeStore) CreateShadow(_ context.Context, rv domain.Reservation) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Mirrors uq_reservations_shadow (connection_id, external_uid).
	if rv.ConnectionID != nil && rv.ExternalUID != nil {
		for _, r := range f.reservations {
			if r.ConnectionID != nil && *r.ConnectionID == *rv.ConnectionID &&
				r.ExternalUID != nil && *r.ExternalUID == *rv.ExternalUID {
				return domain.Reservation{}, fmt.Errorf("insert shadow: duplicate connection %d uid %s", *rv.ConnectionID, *rv.ExternalUID)
			}
		}
	}
	rv.ID = f.id()
	now := time.Now().UTC()
	rv.CreatedAt, rv.UpdatedAt = now, now
	f.reservations[rv.ID] = rv
	return rv, nil
}

func (f *fakeStore) ReinstateShadow(_ context.Context, id int64, checkIn, checkOut time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok || r.ConnectionID == nil {
		return domain.ErrNotFound
	}
	r.Status = domain.ReservationConfirmed
	r.CheckIn, r.CheckOut = checkIn, checkOut
	r.UpdatedAt = time.Now().UTC()
	f.reservations[id] = r
	return nil
}

func (f *fakeStore) UpdateReservationDates(_ context.Context, id int64, checkIn, checkOut time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.CheckIn, r.CheckOut = checkIn, checkOut
	r.UpdatedAt = time.Now().UTC()
	f.reservations[id] = r
	return nil
}

func (f *fakeStore) CancelReservation(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status = domain.ReservationCancelled
	f.reservations[id] = r
	return nil
}

func (f *fakeStore) ShadowByUID(_ context.Context, connectionID int64, uid string) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.ConnectionID != nil && *r.ConnectionID == connectionID &&
			r.ExternalUID != nil && *r.ExternalUID == uid {
			return r, nil
		}
	}
	return domain.Reservation{}, domain.ErrNotFound
}

func (f *fakeStore) ListReservations(_ context.Context, unitID int64) ([]domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Reservation
	for _, r := range f.reservations {
		if r.UnitID == unitID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- external events ----

func (f *fakeStore) EventsSnapshot(_ context.Context, connectionID int64) ([]domain.ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ExternalEvent(nil), f.events[connectionID]...), nil
}

func (f *fakeStore) ReplaceEvents(_ context.Context, connectionID int64, events []domain.ExternalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connectionID] = append([]domain.ExternalEvent(nil), events...)
	return nil
}

// ---- connections ----

func (f *fakeStore) CreateConnection(_ context.Context, c domain.Connection) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id()
	f.connections[c.ID] = c
	return c, nil
}

func (f *fakeStore) DeleteConnection(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connections[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.connections, id)
	return nil
}

func (f *fakeStore) GetConnection(_ context.Context, id int64) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return domain.Connection{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListConnections(_ context.Context, unitID int64) ([]domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Connection
	for _, c := range f.connections {
		if c.UnitID == unitID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []domain.Connection
	for _, c := range f.connections {
		if c.Status == domain.ConnectionActive && !c.NextSyncAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextSyncAt.Before(due[j].NextSyncAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].NextSyncAt = now.Add(due[i].SyncFrequency)
		f.connections[due[i].ID] = due[i]
	}
	return due, nil
}

func (f *fakeStore) RecordSyncSuccess(_ context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	t := now
	c.LastSyncAt = &t
	c.NextSyncAt = now.Add(c.SyncFrequency)
	c.ErrorCount = 0
	c.LastError = nil
	f.connections[id] = c
	return nil
}

func (f *fakeStore) RecordSyncFailure(_ context.Context, id int64, now time.Time, msg string, threshold int) (domain.ConnectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	c.ErrorCount++
	c.LastError = &msg
	t := now
	c.LastSyncAt = &t
	c.NextSyncAt = now.Add(c.SyncFrequency)
	if c.Status == domain.ConnectionActive && c.ErrorCount >= threshold {
		c.Status = domain.ConnectionError
	}
	f.connections[id] = c
	return c.Status, nil
}

func (f *fakeStore) SetConnectionStatus(_ context.Context, id int64, status domain.ConnectionStatus, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	if status == domain.ConnectionActive {
		c.ErrorCount = 0
		c.LastError = nil
		c.NextSyncAt = now
	}
	f.connections[id] = c
	return nil
}

// ---- conflicts ----

func (f *fakeStore) CreateConflict(_ context.Context, c domain.Conflict) (domain.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id()
	f.conflicts[c.ID] = c
	return c, nil
}

func (f *fakeStore) HasOpenConflict(_ context.Context, connectionID int64, uid string, t domain.ConflictType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conflicts {
		if c.ConnectionID == connectionID && c.Type == t && c.Open() &&
			c.ExternalUID != nil && *c.ExternalUID == uid {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) HasIgnoredDuplicate(_ context.Context, connectionID int64, uid string, t domain.ConflictType, remoteJSON []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conflicts {
		if c.ConnectionID == connectionID && c.Type == t && c.Status == domain.ConflictIgnored &&
			c.ExternalUID != nil && *c.ExternalUID == uid && bytes.Equal(c.RemoteJSON, remoteJSON) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetConflict(_ context.Context, id int64) (domain.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return domain.Conflict{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListOpenConflicts(_ context.Context, fl domain.ConflictFilter) ([]domain.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Conflict
	for _, c := range f.conflicts {
		if !c.Open() {
			continue
		}
		if fl.UnitID != nil && c.UnitID != *fl.UnitID {
			continue
		}
		if fl.OrgID != nil {
			if u, ok := f.units[c.UnitID]; !ok || u.OrgID != *fl.OrgID {
				continue
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if fl.Limit > 0 && len(out) > fl.Limit {
		out = out[:fl.Limit]
	}
	return out, nil
}

func (f *fakeStore) CloseConflict(_ context.Context, id int64, status domain.ConflictStatus, action *domain.ResolutionAction, notes *string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !c.Open() {
		return domain.ErrConflictClosed
	}
	c.Status = status
	c.Resolution = action
	c.Notes = notes
	t := now
	c.ResolvedAt = &t
	f.conflicts[id] = c
	return nil
}

func (f *fakeStore) WasPromotedByResolution(_ context.Context, connectionID int64, uid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conflicts {
		if c.ConnectionID == connectionID && c.Status == domain.ConflictResolved &&
			c.Resolution != nil && *c.Resolution == domain.ResolveKeepRemote &&
			c.ExternalUID != nil && *c.ExternalUID == uid {
			return true, nil
		}
	}
	return false, nil
}

var _ domain.Store = (*fakeStore)(nil)

// ---- collaborators ----

type fakeIngestor struct {
	mu    sync.Mutex
	feeds map[int64][]domain.ExternalEvent
	errs  map[int64]error
	calls int
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{feeds: map[int64][]domain.ExternalEvent{}, errs: map[int64]error{}}
}

func (f *fakeIngestor) Fetch(_ context.Context, conn domain.Connection) ([]domain.ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[conn.ID]; err != nil {
		return nil, err
	}
	return append([]domain.ExternalEvent(nil), f.feeds[conn.ID]...), nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (f *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Unlock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	dels int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (f *fakeCache) Set(_ context.Context, key string, v any, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.data[key] = b
	f.sets++
	return nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	f.dels++
	return nil
}
