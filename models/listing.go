package models

import "time"

// Sentinel item names. Every store holds exactly one row for each.
const (
	ItemNoGroup    = "no group"
	ItemMultiGroup = "multi group"
)

// IsSentinelItem reports whether name is one of the reserved item names.
func IsSentinelItem(name string) bool {
	return name == ItemNoGroup || name == ItemMultiGroup
}

// RawListing holds one ad row as extracted from a listing page, before it
// is reconciled with the store.
type RawListing struct {
	CID      int64
	URL      string
	Title    string
	Price    int
	Location string
	Area     string
	Category string
	// PostedAt is the site's own post timestamp; zero when absent.
	PostedAt time.Time
}

// Listing is one stored ad with its observation history bounds.
type Listing struct {
	CID      int64
	URL      string
	PostDate time.Time
	PostedAt *time.Time
	LastSeen time.Time
	Title    string
	Price    int
	Area     string
	Location string
	CatID    int64
	ItemID   int64
}

// Category is a top-level marketplace section.
type Category struct {
	ID   int64
	Name string
}

// Item is a taxonomy leaf naming a concrete product type.
type Item struct {
	ID   int64
	Name string
}

// TitleRef is the slice of a listing the classifier and linker work on.
type TitleRef struct {
	CID    int64
	Title  string
	ItemID int64
}

// PricePoint is one row of the analytics read query.
type PricePoint struct {
	Price    int
	PostDate time.Time
	LastSeen time.Time
}

// Lifespan is how long the ad has been observed on the market.
func (p PricePoint) Lifespan() time.Duration {
	return p.LastSeen.Sub(p.PostDate)
}

// PriceObservation is one entry of a listing's append-only price log.
type PriceObservation struct {
	CID        int64
	ObservedAt time.Time
	Price      int
}

// UpsertResult counts what a single Upsert call did.
type UpsertResult struct {
	Inserted int
	Updated  int
	Rejected int
}

// Add accumulates o into r.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Rejected += o.Rejected
}
