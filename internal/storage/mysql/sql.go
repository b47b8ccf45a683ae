package mysql

// Interval predicates. Stays and external events are half-open
// [check_in, check_out): two stays intersect iff a.in < b.out AND b.in < a.out.
// Rule intervals are closed [start_date, end_date]: a rule touches a stay iff
// start_date < check_out AND check_in <= end_date.

const getUnitSQL = `
SELECT id, org_id, name, base_price_cents, cleaning_fee_cents,
       tax_per_night_cents, min_guests, max_guests, currency
FROM units
WHERE id = ?
`

// -----------------------------------------------------------------------------
// RULES
// -----------------------------------------------------------------------------

const rulesIntersectingSQL = `
SELECT id, unit_id, kind, start_date, end_date, reason, min_nights, nightly_price_cents, created_at
FROM availability_rules
WHERE unit_id = ? AND kind = ?
  AND start_date < ?  -- check_out
  AND end_date >= ?   -- check_in
ORDER BY start_date, id
`

const ruleOverlapExistsSQL = `
SELECT 1
FROM availability_rules
WHERE unit_id = ? AND kind = ?
  AND start_date <= ? AND end_date >= ?
LIMIT 1
FOR UPDATE
`

const insertRuleSQL = `
INSERT INTO availability_rules
  (unit_id, kind, start_date, end_date, reason, min_nights, nightly_price_cents, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const listRulesSQL = `
SELECT id, unit_id, kind, start_date, end_date, reason, min_nights, nightly_price_cents, created_at
FROM availability_rules
WHERE unit_id = ?
ORDER BY start_date, id
`

const deleteRuleSQL = `DELETE FROM availability_rules WHERE id = ?`

// -----------------------------------------------------------------------------
// RESERVATIONS
// -----------------------------------------------------------------------------

const reservationColumns = `
id, unit_id, check_in, check_out, guests, status, source,
connection_id, external_uid, guest_name, total_cents, created_at, updated_at`

const getReservationSQL = `
SELECT ` + reservationColumns + `
FROM reservations
WHERE id = ?
`

const reservationsOverlappingSQL = `
SELECT ` + reservationColumns + `
FROM reservations
WHERE unit_id = ? AND status <> 'cancelled'
  AND check_in < ?   -- candidate check_out
  AND check_out > ?  -- candidate check_in
  AND id <> ?
ORDER BY check_in, id
`

const insertReservationSQL = `
INSERT INTO reservations
  (unit_id, check_in, check_out, guests, status, source, connection_id, external_uid, guest_name, total_cents)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateReservationDatesSQL = `
UPDATE reservations SET check_in = ?, check_out = ? WHERE id = ?
`

const cancelReservationSQL = `
UPDATE reservations SET status = 'cancelled' WHERE id = ?
`

const reinstateShadowSQL = `
UPDATE reservations
SET status = 'confirmed', check_in = ?, check_out = ?
WHERE id = ? AND connection_id IS NOT NULL
`

const shadowByUIDSQL = `
SELECT ` + reservationColumns + `
FROM reservations
WHERE connection_id = ? AND external_uid = ?
`

const listReservationsSQL = `
SELECT ` + reservationColumns + `
FROM reservations
WHERE unit_id = ?
ORDER BY check_in, id
`

// Booking commit: the unit row lock serializes concurrent check-then-insert
// for the same unit.
const lockUnitSQL = `SELECT id FROM units WHERE id = ? FOR UPDATE`

const blockedRuleExistsSQL = `
SELECT 1 FROM availability_rules
WHERE unit_id = ? AND kind = 'blocked'
  AND start_date < ? AND end_date >= ?
LIMIT 1
`

const overlapExistsSQL = `
SELECT 1 FROM reservations
WHERE unit_id = ? AND status <> 'cancelled'
  AND check_in < ? AND check_out > ?
LIMIT 1
`

const maxMinStaySQL = `
SELECT COALESCE(MAX(min_nights), 0) FROM availability_rules
WHERE unit_id = ? AND kind = 'min_stay'
  AND start_date < ? AND end_date >= ?
`

// -----------------------------------------------------------------------------
// EXTERNAL EVENT SNAPSHOTS
// -----------------------------------------------------------------------------

const eventsSnapshotSQL = `
SELECT connection_id, uid, start_date, end_date, status, summary, price_cents, fetched_at
FROM external_events
WHERE connection_id = ?
ORDER BY start_date, uid
`

const deleteEventsSQL = `DELETE FROM external_events WHERE connection_id = ?`

// Snapshot replacement is delete + batch insert inside one transaction; the
// batch insert appends (?,?,?,?,?,?,?,?) groups to this prefix.
const insertEventsPrefix = `
INSERT INTO external_events
  (connection_id, uid, start_date, end_date, status, summary, price_cents, fetched_at)
VALUES `

// -----------------------------------------------------------------------------
// CONNECTIONS
// -----------------------------------------------------------------------------

const connectionColumns = `
id, unit_id, platform, feed_url, sync_frequency_min, status,
last_sync_at, next_sync_at, error_count, last_error, created_at`

const insertConnectionSQL = `
INSERT INTO connections
  (unit_id, platform, feed_url, sync_frequency_min, status, next_sync_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const getConnectionSQL = `
SELECT ` + connectionColumns + `
FROM connections
WHERE id = ?
`

const listConnectionsSQL = `
SELECT ` + connectionColumns + `
FROM connections
WHERE unit_id = ?
ORDER BY id
`

const deleteConnectionSQL = `DELETE FROM connections WHERE id = ?`

// Claiming advances next_sync_at inside the same transaction so overlapping
// ticks and other replicas skip in-flight connections. SKIP LOCKED keeps
// concurrent claimers from blocking on each other.
const claimDueSQL = `
SELECT ` + connectionColumns + `
FROM connections
WHERE status = 'active' AND next_sync_at <= ?
ORDER BY next_sync_at
LIMIT ?
FOR UPDATE SKIP LOCKED
`

const advanceNextSyncSQL = `
UPDATE connections
SET next_sync_at = DATE_ADD(?, INTERVAL sync_frequency_min MINUTE)
WHERE id = ?
`

const recordSyncSuccessSQL = `
UPDATE connections
SET last_sync_at = ?,
    next_sync_at = DATE_ADD(?, INTERVAL sync_frequency_min MINUTE),
    error_count = 0,
    last_error = NULL
WHERE id = ?
`

// MySQL applies SET clauses left to right using already-updated values, so
// the status decision must precede the counter increment.
const recordSyncFailureSQL = `
UPDATE connections
SET status = IF(status = 'active' AND error_count + 1 >= ?, 'error', status),
    error_count = error_count + 1,
    last_error = ?,
    last_sync_at = ?,
    next_sync_at = DATE_ADD(?, INTERVAL sync_frequency_min MINUTE)
WHERE id = ?
`

const connectionStatusSQL = `SELECT status FROM connections WHERE id = ?`

const setConnectionStatusSQL = `
UPDATE connections
SET status = ?,
    error_count = IF(? = 'active', 0, error_count),
    last_error = IF(? = 'active', NULL, last_error),
    next_sync_at = IF(? = 'active', ?, next_sync_at)
WHERE id = ?
`

// -----------------------------------------------------------------------------
// CONFLICTS
// -----------------------------------------------------------------------------

const conflictColumns = `
id, unit_id, connection_id, type, severity, status, reservation_id,
external_uid, local_snapshot, remote_snapshot, resolution, notes,
detected_at, resolved_at`

const insertConflictSQL = `
INSERT INTO conflicts
  (unit_id, connection_id, type, severity, status, reservation_id, external_uid,
   local_snapshot, remote_snapshot, detected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const getConflictSQL = `
SELECT ` + conflictColumns + `
FROM conflicts
WHERE id = ?
`

const hasOpenConflictSQL = `
SELECT 1 FROM conflicts
WHERE connection_id = ? AND external_uid = ? AND type = ? AND status = 'unresolved'
LIMIT 1
`

const hasIgnoredDuplicateSQL = `
SELECT 1 FROM conflicts
WHERE connection_id = ? AND external_uid = ? AND type = ? AND status = 'ignored'
  AND remote_snapshot = CAST(? AS JSON)
LIMIT 1
`

const closeConflictSQL = `
UPDATE conflicts
SET status = ?, resolution = ?, notes = ?, resolved_at = ?
WHERE id = ? AND status = 'unresolved'
`

const wasPromotedSQL = `
SELECT 1 FROM conflicts
WHERE connection_id = ? AND external_uid = ?
  AND status = 'resolved' AND resolution = 'keep_remote'
LIMIT 1
`
