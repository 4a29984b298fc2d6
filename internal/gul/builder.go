// Package gul builds the ground-up-loss input items of a preparation run
// and writes them out as the items, coverages and complex items tables.
package gul

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/gulprep/internal/exposure"
	"github.com/JonMunkholm/gulprep/internal/profile"
)

// contextCheckInterval is how many joined rows are processed between
// cancellation checks.
const contextCheckInterval = 10000

// Item is one GUL input item: a location joined to one key, carrying the
// financial terms of the key's coverage type.
type Item struct {
	LocIndex    int // source exposure row
	LocationID  string
	AccountID   string
	PortfolioID string
	ConditionID uint32

	PerilID         string
	CoverageType    profile.CoverageType
	AreaPerilID     int64
	VulnerabilityID int64
	ModelData       string
	IsBI            bool

	TIV           float64
	Deductible    float64
	DeductibleMin float64
	DeductibleMax float64
	Limit         float64
	DedCode       uint8
	DedType       uint8
	LimCode       uint8
	LimType       uint8

	GroupID      uint32
	ItemID       uint32
	CoverageID   uint32
	AggID        uint32
	LayerID      uint32
	SummaryID    uint32
	SummarysetID uint32
}

// Stats counts rows through the build steps.
type Stats struct {
	Joined         int // rows after the join
	Unmatched      int // exposure rows without any key, dropped
	DroppedNoValue int // matched rows with zero TIV in every coverage type
	DroppedZeroTIV int // matched rows with zero TIV in their own coverage type
}

// Table is the result of a build. Items are immutable once returned.
type Table struct {
	Items   []Item
	Complex bool
	Stats   Stats
}

// EmptyJoinError reports that no exposure location matched any key
// location, which usually means the two inputs use different location
// identifier schemes.
type EmptyJoinError struct {
	ExposureRows int
	KeyRows      int
}

func (e *EmptyJoinError) Error() string {
	return fmt.Sprintf("no exposure location matches a keys location (%d exposure rows, %d key rows)",
		e.ExposureRows, e.KeyRows)
}

// BuildError wraps any failure of Build.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return "build GUL inputs: " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsEmptyJoin reports whether err is or wraps an EmptyJoinError.
func IsEmptyJoin(err error) bool {
	var ej *EmptyJoinError
	return errors.As(err, &ej)
}

// NormalizeTerm converts a deductible or limit to an absolute amount. A
// value of 0 or at least 1 is already absolute; any other value is a
// fraction of tiv.
//
// An absolute amount below 1 (say 0.50 of a currency unit) is therefore read
// as a percentage. The cutoff is kept as-is because downstream models depend
// on it.
func NormalizeTerm(value, tiv float64) float64 {
	if value == 0 || value >= 1 {
		return value
	}
	return value * tiv
}

// joined is one row of the exposure/keys left join. key is nil for
// exposure rows without keys.
type joined struct {
	rec *exposure.Record
	key *exposure.Key
}

// Build joins exposure records to keys and derives the GUL input items.
//
// Rows are produced in exposure order, then key order within a location.
// Rows with no value in any coverage type, and rows whose own coverage type
// has zero TIV, are dropped before identifiers are assigned. Group ids
// follow the first appearance of each location id; item, coverage and
// aggregate ids are the 1-based row position.
//
// Every error is returned as a *BuildError.
func Build(ctx context.Context, records []exposure.Record, keys *exposure.Keys, rp *profile.Resolved) (*Table, error) {
	tbl, err := build(ctx, records, keys, rp)
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	return tbl, nil
}

func build(ctx context.Context, records []exposure.Record, keys *exposure.Keys, rp *profile.Resolved) (*Table, error) {
	if keys == nil || rp == nil {
		return nil, errors.New("keys and profile are required")
	}

	rows, stats, err := join(records, keys.Rows)
	if err != nil {
		return nil, err
	}

	tbl := &Table{
		Items:   make([]Item, 0, len(rows)),
		Complex: keys.Complex,
	}

	for i, row := range rows {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// Unmatched rows have no coverage type, hence zero TIV.
		if row.key == nil {
			continue
		}
		if !row.rec.HasValue() {
			stats.DroppedNoValue++
			continue
		}

		item, err := materialize(row, rp)
		if err != nil {
			return nil, fmt.Errorf("exposure row %d: %w", row.rec.Index, err)
		}

		if item.TIV == 0 {
			stats.DroppedZeroTIV++
			continue
		}
		tbl.Items = append(tbl.Items, item)
	}

	assignIDs(tbl.Items)
	tbl.Stats = stats
	return tbl, nil
}

// join left-joins records to keys on location id.
func join(records []exposure.Record, keys []exposure.Key) ([]joined, Stats, error) {
	byLocation := make(map[string][]int, len(keys))
	for i := range keys {
		byLocation[keys[i].LocationID] = append(byLocation[keys[i].LocationID], i)
	}

	var stats Stats
	rows := make([]joined, 0, len(keys))
	for i := range records {
		rec := &records[i]
		matches := byLocation[rec.LocationID]
		if len(matches) == 0 {
			stats.Unmatched++
			rows = append(rows, joined{rec: rec})
			continue
		}
		for _, k := range matches {
			rows = append(rows, joined{rec: rec, key: &keys[k]})
		}
	}

	if stats.Unmatched == len(records) {
		return nil, stats, &EmptyJoinError{ExposureRows: len(records), KeyRows: len(keys)}
	}

	stats.Joined = len(rows)
	return rows, stats, nil
}

// materialize selects the TIV and terms of the row's own coverage type.
func materialize(row joined, rp *profile.Resolved) (Item, error) {
	rec := row.rec
	item := Item{
		LocIndex:    rec.Index,
		LocationID:  rec.LocationID,
		AccountID:   rec.AccountID,
		PortfolioID: rec.PortfolioID,
		ConditionID: rec.ConditionID,
	}

	k := row.key
	ct := k.CoverageType
	if _, ok := rp.TIVColumn(ct); !ok {
		return Item{}, fmt.Errorf("location %q: coverage type %s has no TIV column in the exposure profile",
			rec.LocationID, ct)
	}

	item.PerilID = k.PerilID
	item.CoverageType = ct
	item.AreaPerilID = k.AreaPerilID
	item.VulnerabilityID = k.VulnerabilityID
	item.ModelData = k.ModelData
	item.IsBI = ct == profile.BI

	terms := rec.TermsOf(ct)
	item.TIV = rec.TIVOf(ct)
	item.Deductible = NormalizeTerm(terms.Deductible, item.TIV)
	item.DeductibleMin = terms.DeductibleMin
	item.DeductibleMax = terms.DeductibleMax
	item.Limit = NormalizeTerm(terms.Limit, item.TIV)
	item.DedCode = terms.DedCode
	item.DedType = terms.DedType
	item.LimCode = terms.LimCode
	item.LimType = terms.LimType

	return item, nil
}

// assignIDs sets group ids by first appearance of each location id and
// row-position ids over the final item order.
func assignIDs(items []Item) {
	groups := make(map[string]uint32)
	for i := range items {
		it := &items[i]

		gid, ok := groups[it.LocationID]
		if !ok {
			gid = uint32(len(groups) + 1)
			groups[it.LocationID] = gid
		}
		it.GroupID = gid

		id := uint32(i + 1)
		it.ItemID = id
		it.CoverageID = id
		it.AggID = id
		it.LayerID = 1
		it.SummaryID = 1
		it.SummarysetID = 1
	}
}
