// Package exposure loads the exposure and keys tables a GUL preparation run
// is built from.
//
// Both loaders declare their columns up front as ColumnSpecs, resolve them
// against the header once and then stream rows into typed records. Optional
// columns that are absent read as their declared default, so downstream code
// never checks for column presence.
package exposure

import (
	"context"
	"io"

	"github.com/JonMunkholm/gulprep/internal/logging"
	"github.com/JonMunkholm/gulprep/internal/profile"
)

// Source names used in errors and logs.
const (
	SourceExposure = "exposure"
	SourceKeys     = "keys"
)

// slots sizes per-coverage-type arrays so they can be indexed by
// profile.CoverageType directly. Index 0 is unused.
const slots = int(profile.BI) + 1

// Terms holds the coverage-level financial terms of one coverage type.
type Terms struct {
	Deductible    float64
	DeductibleMin float64
	DeductibleMax float64
	Limit         float64
	DedCode       uint8
	DedType       uint8
	LimCode       uint8
	LimType       uint8
}

// Record is one exposure row.
type Record struct {
	Index       int // 0-based data row position in the source
	LocationID  string
	AccountID   string
	PortfolioID string
	ConditionID uint32

	TIV   [slots]float64
	Terms [slots]Terms
}

// TIVOf returns the TIV of coverage type ct, or 0 for an unknown type.
func (r *Record) TIVOf(ct profile.CoverageType) float64 {
	if !ct.Valid() {
		return 0
	}
	return r.TIV[ct]
}

// TermsOf returns the terms of coverage type ct.
func (r *Record) TermsOf(ct profile.CoverageType) Terms {
	if !ct.Valid() {
		return Terms{}
	}
	return r.Terms[ct]
}

// HasValue reports whether any coverage type has a nonzero TIV.
func (r *Record) HasValue() bool {
	for _, ct := range profile.CoverageTypes {
		if r.TIV[ct] != 0 {
			return true
		}
	}
	return false
}

// field is a ColumnSpec bound to the Record field it fills.
type field struct {
	ColumnSpec
	assign func(rec *Record, v string) error
}

func identifierField(name string, target func(*Record) *string) field {
	return field{
		ColumnSpec: ColumnSpec{Name: name, Type: ColumnText, Required: true},
		assign: func(rec *Record, v string) error {
			*target(rec) = v
			return nil
		},
	}
}

func floatField(name string, target func(*Record) *float64) field {
	return field{
		ColumnSpec: ColumnSpec{Name: name, Type: ColumnFloat, Default: "0"},
		assign: func(rec *Record, v string) error {
			f, err := ParseFloat(v)
			if err != nil {
				return err
			}
			*target(rec) = f
			return nil
		},
	}
}

func flagField(name string, target func(*Record) *uint8) field {
	return field{
		ColumnSpec: ColumnSpec{Name: name, Type: ColumnUint, Default: "0"},
		assign: func(rec *Record, v string) error {
			u, err := ParseUint(v, 8)
			if err != nil {
				return err
			}
			*target(rec) = uint8(u)
			return nil
		},
	}
}

// exposureFields declares every exposure column the profile refers to.
func exposureFields(rp *profile.Resolved) []field {
	h := rp.Hierarchy
	fields := []field{
		identifierField(h.Location, func(r *Record) *string { return &r.LocationID }),
		identifierField(h.Account, func(r *Record) *string { return &r.AccountID }),
		identifierField(h.Portfolio, func(r *Record) *string { return &r.PortfolioID }),
		{
			ColumnSpec: ColumnSpec{Name: h.Condition, Type: ColumnUint, Default: "0"},
			assign: func(rec *Record, v string) error {
				u, err := ParseUint(v, 32)
				if err != nil {
					return err
				}
				rec.ConditionID = uint32(u)
				return nil
			},
		},
	}

	for _, ct := range rp.CoverageTypes() {
		tivCol, _ := rp.TIVColumn(ct)
		fields = append(fields, floatField(tivCol, func(r *Record) *float64 { return &r.TIV[ct] }))

		tc := rp.Terms(ct)
		floats := []struct {
			col    string
			target func(*Record) *float64
		}{
			{tc.Deductible, func(r *Record) *float64 { return &r.Terms[ct].Deductible }},
			{tc.DeductibleMin, func(r *Record) *float64 { return &r.Terms[ct].DeductibleMin }},
			{tc.DeductibleMax, func(r *Record) *float64 { return &r.Terms[ct].DeductibleMax }},
			{tc.Limit, func(r *Record) *float64 { return &r.Terms[ct].Limit }},
		}
		for _, f := range floats {
			if f.col != "" {
				fields = append(fields, floatField(f.col, f.target))
			}
		}

		flags := []struct {
			col    string
			target func(*Record) *uint8
		}{
			{tc.DedCode, func(r *Record) *uint8 { return &r.Terms[ct].DedCode }},
			{tc.DedType, func(r *Record) *uint8 { return &r.Terms[ct].DedType }},
			{tc.LimCode, func(r *Record) *uint8 { return &r.Terms[ct].LimCode }},
			{tc.LimType, func(r *Record) *uint8 { return &r.Terms[ct].LimType }},
		}
		for _, f := range flags {
			if f.col != "" {
				fields = append(fields, flagField(f.col, f.target))
			}
		}
	}

	return fields
}

// ExposureColumns returns the column declarations LoadExposure reads with.
func ExposureColumns(rp *profile.Resolved) []ColumnSpec {
	return specsOf(exposureFields(rp))
}

func specsOf(fields []field) []ColumnSpec {
	specs := make([]ColumnSpec, len(fields))
	for i, f := range fields {
		specs[i] = f.ColumnSpec
	}
	return specs
}

// LoadExposure reads an exposure table laid out as described by rp.
//
// Missing identifier columns or empty identifier cells fail with a
// SchemaError, as do unparsable numeric cells. A table without data rows
// fails with a MissingDataError. Repeated location ids are logged.
func LoadExposure(ctx context.Context, r io.Reader, rp *profile.Resolved) ([]Record, error) {
	t, err := openTable(ctx, r, SourceExposure)
	if err != nil {
		return nil, err
	}

	fields := exposureFields(rp)
	pos, err := t.resolve(specsOf(fields))
	if err != nil {
		return nil, err
	}

	var records []Record
	seen := make(map[string]struct{})
	duplicates := 0
	firstDuplicate := ""

	for {
		row, err := t.next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := Record{Index: len(records)}
		for i, f := range fields {
			v, present := cell(row, pos[i], f.ColumnSpec)
			if f.Required && !present {
				return nil, &SchemaError{Source: t.source, Line: t.line, Column: f.Name, Reason: "empty identifier"}
			}
			if err := f.assign(&rec, v); err != nil {
				return nil, &SchemaError{Source: t.source, Line: t.line, Column: f.Name, Reason: err.Error()}
			}
		}

		if _, dup := seen[rec.LocationID]; dup {
			if duplicates == 0 {
				firstDuplicate = rec.LocationID
			}
			duplicates++
		} else {
			seen[rec.LocationID] = struct{}{}
		}

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, &MissingDataError{Source: t.source, Reason: "no data rows"}
	}

	log := logging.FromContext(ctx)
	if duplicates > 0 {
		log.Warn("exposure location ids are not unique",
			"column", rp.Hierarchy.Location,
			"duplicates", duplicates,
			"first", firstDuplicate,
		)
	}
	log.Debug("exposure loaded", "rows", len(records), "bytes", t.counter.n)

	return records, nil
}

// LoadExposureFile opens path and calls LoadExposure.
func LoadExposureFile(ctx context.Context, path string, rp *profile.Resolved) ([]Record, error) {
	return openFile(path, func(r io.Reader) ([]Record, error) {
		return LoadExposure(ctx, r, rp)
	})
}
