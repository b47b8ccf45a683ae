package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"hoostn/internal/app"
	"hoostn/internal/domain"
)

type Handlers struct {
	Availability *app.AvailabilityService
	Pricing      *app.PricingService
	Bookings     *app.BookingService
	Rules        *app.RuleService
	Connections  *app.ConnectionService
	Conflicts    *app.ConflictService
	Sync         *app.SyncService
	Publisher    *app.CalendarPublisher

	// Shared secret guarding the sync trigger endpoints. Empty disables the
	// check (dev only; Load warns about it).
	SyncSecret string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1/units/{id}", func(m chi.Router) {
		m.Get("/availability", h.checkAvailability)
		m.Get("/quote", h.quote)
		m.Get("/calendar.ics", h.exportCalendar)

		m.Get("/rules", h.listRules)
		m.Post("/rules", h.createRule)
		m.Delete("/rules/{ruleID}", h.deleteRule)

		m.Post("/bookings", h.createBooking)

		m.Get("/connections", h.listConnections)
		m.Post("/connections", h.createConnection)
	})

	s.mux.Delete("/v1/bookings/{id}", h.cancelBooking)

	s.mux.Route("/v1/connections/{id}", func(m chi.Router) {
		m.Delete("/", h.deleteConnection)
		m.Post("/pause", h.pauseConnection)
		m.Post("/resume", h.resumeConnection)
		m.Post("/sync", h.requireSecret(h.syncConnection))
	})

	s.mux.Get("/v1/conflicts", h.listConflicts)
	s.mux.Post("/v1/conflicts/{id}/resolve", h.resolveConflict)
	s.mux.Post("/v1/conflicts/{id}/ignore", h.ignoreConflict)

	s.mux.Post("/v1/sync/run", h.requireSecret(h.runTick))
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// writeError maps domain sentinels onto HTTP statuses. Unknown errors are a
// plain 500 with no detail leaked.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInsecureFeedURL):
		writeProblem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, domain.ErrRuleOverlap),
		errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, domain.ErrConflictClosed),
		errors.Is(err, domain.ErrResolutionBlocked),
		errors.Is(err, domain.ErrConnectionInactive),
		errors.Is(err, app.ErrSyncInProgress):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, domain.ErrNoNightlyPrice):
		writeProblem(w, http.StatusUnprocessableEntity, "Unpriceable Stay", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func (h *Handlers) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.SyncSecret != "" {
			got := r.Header.Get("X-Sync-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.SyncSecret)) != 1 {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
		}
		next(w, r)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// stayRange reads check_in/check_out query params as calendar dates.
func stayRange(r *http.Request) (time.Time, time.Time, error) {
	in, err := domain.ParseDate(r.URL.Query().Get("check_in"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	out, err := domain.ParseDate(r.URL.Query().Get("check_out"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return in, out, nil
}

// ---- availability & pricing ----

func (h *Handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	in, out, err := stayRange(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Dates", "check_in and check_out must be YYYY-MM-DD")
		return
	}
	v, err := h.Availability.Check(r.Context(), unitID, in, out)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) quote(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	in, out, err := stayRange(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Dates", "check_in and check_out must be YYYY-MM-DD")
		return
	}
	q, err := h.Pricing.Quote(r.Context(), unitID, in, out)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handlers) exportCalendar(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	body, err := h.Publisher.Export(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write calendar body")
	}
}

// ---- rules ----

type ruleView struct {
	ID                int64   `json:"id"`
	UnitID            int64   `json:"unit_id"`
	Kind              string  `json:"kind"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	Reason            *string `json:"reason,omitempty"`
	MinNights         *int    `json:"min_nights,omitempty"`
	NightlyPriceCents *int64  `json:"nightly_price_cents,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func toRuleView(r domain.Rule) ruleView {
	return ruleView{
		ID:                r.ID,
		UnitID:            r.UnitID,
		Kind:              string(r.Kind),
		StartDate:         r.StartDate.Format(domain.DateFormat),
		EndDate:           r.EndDate.Format(domain.DateFormat),
		Reason:            r.Reason,
		MinNights:         r.MinNights,
		NightlyPriceCents: r.NightlyPriceCents,
		CreatedAt:         r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type ruleBody struct {
	Kind              string  `json:"kind"`
	StartDate         string  `json:"start_date"`
	EndDate           string  `json:"end_date"`
	Reason            *string `json:"reason"`
	MinNights         *int    `json:"min_nights"`
	NightlyPriceCents *int64  `json:"nightly_price_cents"`
}

func (h *Handlers) createRule(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON")
		return
	}
	start, err1 := domain.ParseDate(body.StartDate)
	end, err2 := domain.ParseDate(body.EndDate)
	if err1 != nil || err2 != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Dates", "start_date and end_date must be YYYY-MM-DD")
		return
	}
	created, err := h.Rules.Create(r.Context(), domain.Rule{
		UnitID:            unitID,
		Kind:              domain.RuleKind(body.Kind),
		StartDate:         start,
		EndDate:           end,
		Reason:            body.Reason,
		MinNights:         body.MinNights,
		NightlyPriceCents: body.NightlyPriceCents,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleView(created))
}

func (h *Handlers) listRules(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	rules, err := h.Rules.List(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]ruleView, 0, len(rules))
	for _, rl := range rules {
		views = append(views, toRuleView(rl))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) deleteRule(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	ruleID, ok2 := pathID(r, "ruleID")
	if !ok || !ok2 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "ids must be positive numbers")
		return
	}
	if err := h.Rules.Delete(r.Context(), unitID, ruleID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- bookings ----

type bookingBody struct {
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	Guests     int     `json:"guests"`
	GuestName  *string `json:"guest_name"`
	TotalCents *int64  `json:"total_cents"`
}

type bookingView struct {
	ID         int64   `json:"id"`
	UnitID     int64   `json:"unit_id"`
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	Guests     int     `json:"guests"`
	Status     string  `json:"status"`
	Source     string  `json:"source"`
	GuestName  *string `json:"guest_name,omitempty"`
	TotalCents *int64  `json:"total_cents,omitempty"`
}

func toBookingView(rv domain.Reservation) bookingView {
	return bookingView{
		ID:         rv.ID,
		UnitID:     rv.UnitID,
		CheckIn:    rv.CheckIn.Format(domain.DateFormat),
		CheckOut:   rv.CheckOut.Format(domain.DateFormat),
		Guests:     rv.Guests,
		Status:     string(rv.Status),
		Source:     string(rv.Source),
		GuestName:  rv.GuestName,
		TotalCents: rv.TotalCents,
	}
}

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var body bookingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON")
		return
	}
	in, err1 := domain.ParseDate(body.CheckIn)
	out, err2 := domain.ParseDate(body.CheckOut)
	if err1 != nil || err2 != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Dates", "check_in and check_out must be YYYY-MM-DD")
		return
	}
	rv, err := h.Bookings.Book(r.Context(), domain.BookingRequest{
		UnitID:     unitID,
		CheckIn:    in,
		CheckOut:   out,
		Guests:     body.Guests,
		GuestName:  body.GuestName,
		TotalCents: body.TotalCents,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingView(rv))
}

func (h *Handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	if err := h.Bookings.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- connections ----

type connectionBody struct {
	Platform         string `json:"platform"`
	FeedURL          string `json:"feed_url"`
	SyncFrequencyMin int    `json:"sync_frequency_min"`
}

type connectionView struct {
	ID               int64   `json:"id"`
	UnitID           int64   `json:"unit_id"`
	Platform         string  `json:"platform"`
	FeedURL          string  `json:"feed_url"`
	SyncFrequencyMin int     `json:"sync_frequency_min"`
	Status           string  `json:"status"`
	LastSyncAt       *string `json:"last_sync_at,omitempty"`
	NextSyncAt       string  `json:"next_sync_at"`
	ErrorCount       int     `json:"error_count"`
	LastError        *string `json:"last_error,omitempty"`
}

func toConnectionView(c domain.Connection) connectionView {
	v := connectionView{
		ID:               c.ID,
		UnitID:           c.UnitID,
		Platform:         c.Platform,
		FeedURL:          c.FeedURL,
		SyncFrequencyMin: int(c.SyncFrequency / time.Minute),
		Status:           string(c.Status),
		NextSyncAt:       c.NextSyncAt.UTC().Format(time.RFC3339),
		ErrorCount:       c.ErrorCount,
		LastError:        c.LastError,
	}
	if c.LastSyncAt != nil {
		s := c.LastSyncAt.UTC().Format(time.RFC3339)
		v.LastSyncAt = &s
	}
	return v
}

func (h *Handlers) createConnection(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON")
		return
	}
	c, err := h.Connections.Create(r.Context(), unitID, body.Platform, body.FeedURL,
		time.Duration(body.SyncFrequencyMin)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionView(c))
}

func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	conns, err := h.Connections.List(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, toConnectionView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	if err := h.Connections.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) pauseConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	if err := h.Connections.Pause(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) resumeConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	if err := h.Connections.Resume(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) syncConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	res, err := h.Sync.SyncNow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"shadows_created":   res.Created,
		"shadows_updated":   res.Updated,
		"shadows_cancelled": res.Cancelled,
		"conflicts_raised":  len(res.Conflicts),
	})
}

func (h *Handlers) runTick(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Sync.RunTick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---- conflicts ----

type conflictView struct {
	ID            int64           `json:"id"`
	UnitID        int64           `json:"unit_id"`
	ConnectionID  int64           `json:"connection_id"`
	Type          string          `json:"type"`
	Severity      string          `json:"severity"`
	Status        string          `json:"status"`
	ReservationID *int64          `json:"reservation_id,omitempty"`
	ExternalUID   *string         `json:"external_uid,omitempty"`
	Local         json.RawMessage `json:"local,omitempty"`
	Remote        json.RawMessage `json:"remote,omitempty"`
	DetectedAt    string          `json:"detected_at"`
}

func toConflictView(c domain.Conflict) conflictView {
	return conflictView{
		ID:            c.ID,
		UnitID:        c.UnitID,
		ConnectionID:  c.ConnectionID,
		Type:          string(c.Type),
		Severity:      string(c.Severity),
		Status:        string(c.Status),
		ReservationID: c.ReservationID,
		ExternalUID:   c.ExternalUID,
		Local:         json.RawMessage(c.LocalJSON),
		Remote:        json.RawMessage(c.RemoteJSON),
		DetectedAt:    c.DetectedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handlers) listConflicts(w http.ResponseWriter, r *http.Request) {
	var f domain.ConflictFilter
	if s := r.URL.Query().Get("unit_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid unit_id", "unit_id must be a positive number")
			return
		}
		f.UnitID = &id
	}
	if s := r.URL.Query().Get("org_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid org_id", "org_id must be a positive number")
			return
		}
		f.OrgID = &id
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	conflicts, err := h.Conflicts.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]conflictView, 0, len(conflicts))
	for _, c := range conflicts {
		views = append(views, toConflictView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

type resolveBody struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

func (h *Handlers) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var body resolveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON")
		return
	}
	action := domain.ResolutionAction(body.Action)
	if !action.Valid() {
		writeProblem(w, http.StatusBadRequest, "Invalid Action", "action must be one of keep_local, keep_remote, manual_merge, cancelled_both")
		return
	}
	if err := h.Conflicts.Resolve(r.Context(), id, action, body.Notes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ignoreConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	if err := h.Conflicts.Ignore(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
