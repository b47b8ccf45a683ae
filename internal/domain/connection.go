package domain

import (
	"net/url"
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionActive ConnectionStatus = "active"
	ConnectionPaused ConnectionStatus = "paused"
	ConnectionError  ConnectionStatus = "error"
)

// Connection binds a unit to one external calendar feed. Scheduling state
// (NextSyncAt, ErrorCount) lives on the row so any replica can claim due work.
type Connection struct {
	ID            int64
	UnitID        int64
	Platform      string
	FeedURL       string
	SyncFrequency time.Duration
	Status        ConnectionStatus
	LastSyncAt    *time.Time
	NextSyncAt    time.Time
	ErrorCount    int
	LastError     *string
	CreatedAt     time.Time
}

// ValidateFeedURL rejects non-HTTPS import URLs. Enforced when a connection
// is created, not at fetch time.
func ValidateFeedURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrInsecureFeedURL
	}
	if u.Scheme != "https" || u.Host == "" {
		return ErrInsecureFeedURL
	}
	return nil
}
