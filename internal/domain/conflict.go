package domain

import "time"

type ConflictType string

const (
	ConflictDoubleBooking    ConflictType = "double_booking"
	ConflictDateOverlap      ConflictType = "date_overlap"
	ConflictCancellationSync ConflictType = "cancellation_sync"
	ConflictPriceMismatch    ConflictType = "price_mismatch"
)

type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
	ConflictIgnored    ConflictStatus = "ignored"
)

type ResolutionAction string

const (
	ResolveKeepLocal     ResolutionAction = "keep_local"
	ResolveKeepRemote    ResolutionAction = "keep_remote"
	ResolveManualMerge   ResolutionAction = "manual_merge"
	ResolveCancelledBoth ResolutionAction = "cancelled_both"
)

func (a ResolutionAction) Valid() bool {
	switch a {
	case ResolveKeepLocal, ResolveKeepRemote, ResolveManualMerge, ResolveCancelledBoth:
		return true
	}
	return false
}

// Conflict is a detected disagreement between local and external booking
// state. LocalJSON/RemoteJSON are snapshots of both sides at detection time,
// kept as diagnostics only — resolution re-validates against live state.
// Resolved and ignored are terminal; a conflict is never reopened.
type Conflict struct {
	ID           int64
	UnitID       int64
	ConnectionID int64
	Type         ConflictType
	Severity     ConflictSeverity
	Status       ConflictStatus

	ReservationID *int64  // local side, when one exists
	ExternalUID   *string // remote side

	LocalJSON  []byte
	RemoteJSON []byte

	Resolution *ResolutionAction
	Notes      *string

	DetectedAt time.Time
	ResolvedAt *time.Time
}

func (c Conflict) Open() bool { return c.Status == ConflictUnresolved }
