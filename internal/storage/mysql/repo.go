package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hoostn/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func ptrStr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}
func ptrInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
func ptrTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// -----------------------------------------------------------------------------
// UNITS
// -----------------------------------------------------------------------------

func (r *Repo) GetUnit(ctx context.Context, id int64) (domain.Unit, error) {
	var u domain.Unit
	err := r.db.QueryRowContext(ctx, getUnitSQL, id).Scan(
		&u.ID, &u.OrgID, &u.Name,
		&u.BasePriceCents, &u.CleaningFeeCents, &u.TaxPerNightCents,
		&u.MinGuests, &u.MaxGuests, &u.Currency,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Unit{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Unit{}, fmt.Errorf("get unit %d: %w", id, err)
	}
	return u, nil
}

// -----------------------------------------------------------------------------
// RULES
// -----------------------------------------------------------------------------

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(s ruleScanner) (domain.Rule, error) {
	var (
		rl        domain.Rule
		reason    sql.NullString
		minNights sql.NullInt64
		nightly   sql.NullInt64
	)
	err := s.Scan(
		&rl.ID, &rl.UnitID, &rl.Kind, &rl.StartDate, &rl.EndDate,
		&reason, &minNights, &nightly, &rl.CreatedAt,
	)
	if err != nil {
		return domain.Rule{}, err
	}
	rl.Reason = ptrStr(reason)
	rl.MinNights = ptrInt(minNights)
	rl.NightlyPriceCents = ptrInt64(nightly)
	return rl, nil
}

// CreateRule holds the overlap check and the insert in one transaction; the
// locking read keeps two same-kind rules from racing past each other.
func (r *Repo) CreateRule(ctx context.Context, rl domain.Rule) (domain.Rule, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, ruleOverlapExistsSQL,
		rl.UnitID, rl.Kind, rl.EndDate, rl.StartDate).Scan(&one)
	switch {
	case err == nil:
		return domain.Rule{}, domain.ErrRuleOverlap
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Rule{}, fmt.Errorf("rule overlap check: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, insertRuleSQL,
		rl.UnitID, rl.Kind, rl.StartDate, rl.EndDate,
		valStr(rl.Reason), valInt(rl.MinNights), valInt64(rl.NightlyPriceCents),
		now,
	)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Rule{}, fmt.Errorf("insert rule id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, fmt.Errorf("commit: %w", err)
	}
	rl.ID = id
	rl.CreatedAt = now
	return rl, nil
}

func (r *Repo) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, deleteRuleSQL, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) ListRules(ctx context.Context, unitID int64) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, listRulesSQL, unitID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rl)
	}
	return out, rows.Err()
}

func (r *Repo) RulesIntersecting(ctx context.Context, unitID int64, kind domain.RuleKind, checkIn, checkOut time.Time) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, rulesIntersectingSQL, unitID, kind, checkOut, checkIn)
	if err != nil {
		return nil, fmt.Errorf("rules intersecting: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rl)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// RESERVATIONS
// -----------------------------------------------------------------------------

func scanReservation(s ruleScanner) (domain.Reservation, error) {
	var (
		rv     domain.Reservation
		connID sql.NullInt64
		uid    sql.NullString
		guest  sql.NullString
		total  sql.NullInt64
	)
	err := s.Scan(
		&rv.ID, &rv.UnitID, &rv.CheckIn, &rv.CheckOut, &rv.Guests,
		&rv.Status, &rv.Source,
		&connID, &uid, &guest, &total,
		&rv.CreatedAt, &rv.UpdatedAt,
	)
	if err != nil {
		return domain.Reservation{}, err
	}
	rv.ConnectionID = ptrInt64(connID)
	rv.ExternalUID = ptrStr(uid)
	rv.GuestName = ptrStr(guest)
	rv.TotalCents = ptrInt64(total)
	return rv, nil
}

func (r *Repo) GetReservation(ctx context.Context, id int64) (domain.Reservation, error) {
	rv, err := scanReservation(r.db.QueryRowContext(ctx, getReservationSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("get reservation %d: %w", id, err)
	}
	return rv, nil
}

func (r *Repo) ReservationsOverlapping(ctx context.Context, unitID int64, checkIn, checkOut time.Time, excludeID int64) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, reservationsOverlappingSQL, unitID, checkOut, checkIn, excludeID)
	if err != nil {
		return nil, fmt.Errorf("reservations overlapping: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		rv, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// CreateReservationChecked re-runs the availability check inside the insert
// transaction. The unit row lock serializes concurrent bookings for the same
// unit so the check and the insert are one atomic step.
func (r *Repo) CreateReservationChecked(ctx context.Context, req domain.BookingRequest) (domain.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var unitID int64
	if err := tx.QueryRowContext(ctx, lockUnitSQL, req.UnitID).Scan(&unitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock unit %d: %w", req.UnitID, err)
	}

	var one int
	err = tx.QueryRowContext(ctx, blockedRuleExistsSQL, req.UnitID, req.CheckOut, req.CheckIn).Scan(&one)
	switch {
	case err == nil:
		return domain.Reservation{}, fmt.Errorf("%s: %w", domain.ReasonBlocked, domain.ErrUnavailable)
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Reservation{}, fmt.Errorf("blocked check: %w", err)
	}

	err = tx.QueryRowContext(ctx, overlapExistsSQL, req.UnitID, req.CheckOut, req.CheckIn).Scan(&one)
	switch {
	case err == nil:
		return domain.Reservation{}, fmt.Errorf("%s: %w", domain.ReasonReserved, domain.ErrUnavailable)
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Reservation{}, fmt.Errorf("overlap check: %w", err)
	}

	var minNights int
	if err := tx.QueryRowContext(ctx, maxMinStaySQL, req.UnitID, req.CheckOut, req.CheckIn).Scan(&minNights); err != nil {
		return domain.Reservation{}, fmt.Errorf("min stay check: %w", err)
	}
	if n := domain.Nights(req.CheckIn, req.CheckOut); minNights > 0 && n < minNights {
		return domain.Reservation{}, fmt.Errorf("%s: %w", domain.ReasonMinStay, domain.ErrUnavailable)
	}

	res, err := tx.ExecContext(ctx, insertReservationSQL,
		req.UnitID, req.CheckIn, req.CheckOut, req.Guests,
		domain.ReservationConfirmed, domain.SourceDirect,
		nil, nil, valStr(req.GuestName), valInt64(req.TotalCents),
	)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("insert reservation id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, fmt.Errorf("commit: %w", err)
	}

	return r.GetReservation(ctx, id)
}

func (r *Repo) CreateShadow(ctx context.Context, rv domain.Reservation) (domain.Reservation, error) {
	res, err := r.db.ExecContext(ctx, insertReservationSQL,
		rv.UnitID, rv.CheckIn, rv.CheckOut, rv.Guests,
		rv.Status, domain.SourceChannel,
		valInt64(rv.ConnectionID), valStr(rv.ExternalUID),
		valStr(rv.GuestName), valInt64(rv.TotalCents),
	)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("insert shadow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("insert shadow id: %w", err)
	}
	return r.GetReservation(ctx, id)
}

func (r *Repo) UpdateReservationDates(ctx context.Context, id int64, checkIn, checkOut time.Time) error {
	res, err := r.db.ExecContext(ctx, updateReservationDatesSQL, checkIn, checkOut, id)
	if err != nil {
		return fmt.Errorf("update reservation %d dates: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) ReinstateShadow(ctx context.Context, id int64, checkIn, checkOut time.Time) error {
	res, err := r.db.ExecContext(ctx, reinstateShadowSQL, checkIn, checkOut, id)
	if err != nil {
		return fmt.Errorf("reinstate shadow %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) CancelReservation(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, cancelReservationSQL, id)
	if err != nil {
		return fmt.Errorf("cancel reservation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) ShadowByUID(ctx context.Context, connectionID int64, uid string) (domain.Reservation, error) {
	rv, err := scanReservation(r.db.QueryRowContext(ctx, shadowByUIDSQL, connectionID, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("shadow %d/%s: %w", connectionID, uid, err)
	}
	return rv, nil
}

func (r *Repo) ListReservations(ctx context.Context, unitID int64) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, listReservationsSQL, unitID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		rv, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// EXTERNAL EVENT SNAPSHOTS
// -----------------------------------------------------------------------------

func (r *Repo) EventsSnapshot(ctx context.Context, connectionID int64) ([]domain.ExternalEvent, error) {
	rows, err := r.db.QueryContext(ctx, eventsSnapshotSQL, connectionID)
	if err != nil {
		return nil, fmt.Errorf("events snapshot: %w", err)
	}
	defer rows.Close()

	var out []domain.ExternalEvent
	for rows.Next() {
		var (
			ev    domain.ExternalEvent
			price sql.NullInt64
		)
		err := rows.Scan(
			&ev.ConnectionID, &ev.UID, &ev.Start, &ev.End,
			&ev.Status, &ev.Summary, &price, &ev.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.PriceCents = ptrInt64(price)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repo) ReplaceEvents(ctx context.Context, connectionID int64, events []domain.ExternalEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteEventsSQL, connectionID); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if len(events) > 0 {
		values := make([]string, 0, len(events))
		args := make([]any, 0, len(events)*8)
		for _, ev := range events {
			values = append(values, "(?,?,?,?,?,?,?,?)")
			args = append(args,
				connectionID, ev.UID, ev.Start, ev.End,
				ev.Status, ev.Summary, valInt64(ev.PriceCents), ev.FetchedAt,
			)
		}
		if _, err := tx.ExecContext(ctx, insertEventsPrefix+strings.Join(values, ","), args...); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
	}
	return tx.Commit()
}

// -----------------------------------------------------------------------------
// CONNECTIONS
// -----------------------------------------------------------------------------

func scanConnection(s ruleScanner) (domain.Connection, error) {
	var (
		c       domain.Connection
		freqMin int64
		lastAt  sql.NullTime
		lastErr sql.NullString
	)
	err := s.Scan(
		&c.ID, &c.UnitID, &c.Platform, &c.FeedURL, &freqMin, &c.Status,
		&lastAt, &c.NextSyncAt, &c.ErrorCount, &lastErr, &c.CreatedAt,
	)
	if err != nil {
		return domain.Connection{}, err
	}
	c.SyncFrequency = time.Duration(freqMin) * time.Minute
	c.LastSyncAt = ptrTime(lastAt)
	c.LastError = ptrStr(lastErr)
	return c, nil
}

func (r *Repo) CreateConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	res, err := r.db.ExecContext(ctx, insertConnectionSQL,
		c.UnitID, c.Platform, c.FeedURL,
		int64(c.SyncFrequency/time.Minute),
		c.Status, c.NextSyncAt, c.CreatedAt,
	)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("insert connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Connection{}, fmt.Errorf("insert connection id: %w", err)
	}
	return r.GetConnection(ctx, id)
}

func (r *Repo) DeleteConnection(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, deleteConnectionSQL, id)
	if err != nil {
		return fmt.Errorf("delete connection %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) GetConnection(ctx context.Context, id int64) (domain.Connection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx, getConnectionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Connection{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Connection{}, fmt.Errorf("get connection %d: %w", id, err)
	}
	return c, nil
}

func (r *Repo) ListConnections(ctx context.Context, unitID int64) ([]domain.Connection, error) {
	rows, err := r.db.QueryContext(ctx, listConnectionsSQL, unitID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Connection, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, claimDueSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	var claimed []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range claimed {
		if _, err := tx.ExecContext(ctx, advanceNextSyncSQL, now, claimed[i].ID); err != nil {
			return nil, fmt.Errorf("advance next sync %d: %w", claimed[i].ID, err)
		}
		claimed[i].NextSyncAt = now.Add(claimed[i].SyncFrequency)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return claimed, nil
}

func (r *Repo) RecordSyncSuccess(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, recordSyncSuccessSQL, now, now, id)
	if err != nil {
		return fmt.Errorf("record sync success %d: %w", id, err)
	}
	return nil
}

func (r *Repo) RecordSyncFailure(ctx context.Context, id int64, now time.Time, msg string, threshold int) (domain.ConnectionStatus, error) {
	if _, err := r.db.ExecContext(ctx, recordSyncFailureSQL, threshold, msg, now, now, id); err != nil {
		return "", fmt.Errorf("record sync failure %d: %w", id, err)
	}
	var status domain.ConnectionStatus
	if err := r.db.QueryRowContext(ctx, connectionStatusSQL, id).Scan(&status); err != nil {
		return "", fmt.Errorf("connection %d status: %w", id, err)
	}
	return status, nil
}

func (r *Repo) SetConnectionStatus(ctx context.Context, id int64, status domain.ConnectionStatus, now time.Time) error {
	res, err := r.db.ExecContext(ctx, setConnectionStatusSQL,
		status, status, status, status, now, id)
	if err != nil {
		return fmt.Errorf("set connection %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// RowsAffected is 0 for a no-op update too; verify the row exists.
		var s domain.ConnectionStatus
		if err := r.db.QueryRowContext(ctx, connectionStatusSQL, id).Scan(&s); errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		} else if err != nil {
			return fmt.Errorf("connection %d status: %w", id, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// CONFLICTS
// -----------------------------------------------------------------------------

func scanConflict(s ruleScanner) (domain.Conflict, error) {
	var (
		c          domain.Conflict
		resID      sql.NullInt64
		uid        sql.NullString
		local      sql.NullString
		remote     sql.NullString
		resolution sql.NullString
		notes      sql.NullString
		resolvedAt sql.NullTime
	)
	err := s.Scan(
		&c.ID, &c.UnitID, &c.ConnectionID, &c.Type, &c.Severity, &c.Status,
		&resID, &uid, &local, &remote, &resolution, &notes,
		&c.DetectedAt, &resolvedAt,
	)
	if err != nil {
		return domain.Conflict{}, err
	}
	c.ReservationID = ptrInt64(resID)
	c.ExternalUID = ptrStr(uid)
	if local.Valid {
		c.LocalJSON = []byte(local.String)
	}
	if remote.Valid {
		c.RemoteJSON = []byte(remote.String)
	}
	if resolution.Valid {
		a := domain.ResolutionAction(resolution.String)
		c.Resolution = &a
	}
	c.Notes = ptrStr(notes)
	c.ResolvedAt = ptrTime(resolvedAt)
	return c, nil
}

func (r *Repo) CreateConflict(ctx context.Context, c domain.Conflict) (domain.Conflict, error) {
	res, err := r.db.ExecContext(ctx, insertConflictSQL,
		c.UnitID, c.ConnectionID, c.Type, c.Severity, c.Status,
		valInt64(c.ReservationID), valStr(c.ExternalUID),
		valJSON(c.LocalJSON), valJSON(c.RemoteJSON),
		c.DetectedAt,
	)
	if err != nil {
		return domain.Conflict{}, fmt.Errorf("insert conflict: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Conflict{}, fmt.Errorf("insert conflict id: %w", err)
	}
	c.ID = id
	return c, nil
}

func (r *Repo) HasOpenConflict(ctx context.Context, connectionID int64, uid string, t domain.ConflictType) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, hasOpenConflictSQL, connectionID, uid, t).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open conflict check: %w", err)
	}
	return true, nil
}

func (r *Repo) HasIgnoredDuplicate(ctx context.Context, connectionID int64, uid string, t domain.ConflictType, remoteJSON []byte) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, hasIgnoredDuplicateSQL, connectionID, uid, t, string(remoteJSON)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ignored duplicate check: %w", err)
	}
	return true, nil
}

func (r *Repo) GetConflict(ctx context.Context, id int64) (domain.Conflict, error) {
	c, err := scanConflict(r.db.QueryRowContext(ctx, getConflictSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conflict{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Conflict{}, fmt.Errorf("get conflict %d: %w", id, err)
	}
	return c, nil
}

func (r *Repo) ListOpenConflicts(ctx context.Context, f domain.ConflictFilter) ([]domain.Conflict, error) {
	q := `
SELECT c.id, c.unit_id, c.connection_id, c.type, c.severity, c.status,
       c.reservation_id, c.external_uid, c.local_snapshot, c.remote_snapshot,
       c.resolution, c.notes, c.detected_at, c.resolved_at
FROM conflicts c`
	var (
		where = []string{"c.status = 'unresolved'"}
		args  []any
	)
	if f.OrgID != nil {
		q += ` JOIN units u ON u.id = c.unit_id`
		where = append(where, "u.org_id = ?")
		args = append(args, *f.OrgID)
	}
	if f.UnitID != nil {
		where = append(where, "c.unit_id = ?")
		args = append(args, *f.UnitID)
	}
	q += "\nWHERE " + strings.Join(where, " AND ")
	q += "\nORDER BY c.detected_at DESC, c.id DESC\nLIMIT ?"
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}
	defer rows.Close()

	var out []domain.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) CloseConflict(ctx context.Context, id int64, status domain.ConflictStatus, action *domain.ResolutionAction, notes *string, now time.Time) error {
	var act any
	if action != nil {
		act = string(*action)
	}
	res, err := r.db.ExecContext(ctx, closeConflictSQL, status, act, valStr(notes), now, id)
	if err != nil {
		return fmt.Errorf("close conflict %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either gone or already terminal.
		if _, err := r.GetConflict(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflictClosed
	}
	return nil
}

func (r *Repo) WasPromotedByResolution(ctx context.Context, connectionID int64, uid string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, wasPromotedSQL, connectionID, uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("promotion check: %w", err)
	}
	return true, nil
}

var _ domain.Store = (*Repo)(nil)
