package domain

// Unit is a rentable entity. Ownership and CRUD live outside this core; we
// only need the pricing/occupancy configuration the engine reads.
type Unit struct {
	ID               int64
	OrgID            int64
	Name             string
	BasePriceCents   int64 // nightly base price; 0 means "no resolvable base price"
	CleaningFeeCents int64 // flat per-stay
	TaxPerNightCents int64
	MinGuests        int
	MaxGuests        int
	Currency         string
}
