package exposure

import (
	"context"
	"fmt"
	"io"

	"github.com/JonMunkholm/gulprep/internal/logging"
	"github.com/JonMunkholm/gulprep/internal/profile"
)

// Keys table columns, matched case-insensitively.
const (
	KeyLocationID      = "locid"
	KeyPerilID         = "perilid"
	KeyCoverageTypeID  = "coveragetypeid"
	KeyAreaPerilID     = "areaperilid"
	KeyVulnerabilityID = "vulnerabilityid"
	KeyModelData       = "modeldata"
)

// NoID marks areaperil and vulnerability ids of complex-model keys.
const NoID = -1

// Key is one keys-table row: the lookup result for a location, peril and
// coverage type.
type Key struct {
	LocationID      string
	PerilID         string
	CoverageType    profile.CoverageType
	AreaPerilID     int64
	VulnerabilityID int64
	ModelData       string
}

// Keys is a loaded keys table.
type Keys struct {
	Rows []Key

	// Complex is set when the table carries model data instead of
	// areaperil and vulnerability ids.
	Complex bool
}

// KeysColumns returns the column declarations of a keys table with the
// given header.
func KeysColumns(complex bool) []ColumnSpec {
	specs := []ColumnSpec{
		{Name: KeyLocationID, Type: ColumnText, Required: true},
		{Name: KeyPerilID, Type: ColumnText, Required: true},
		{Name: KeyCoverageTypeID, Type: ColumnUint, Required: true},
	}
	if complex {
		return append(specs, ColumnSpec{Name: KeyModelData, Type: ColumnText})
	}
	return append(specs,
		ColumnSpec{Name: KeyAreaPerilID, Type: ColumnInt, Required: true},
		ColumnSpec{Name: KeyVulnerabilityID, Type: ColumnInt, Required: true},
	)
}

// LoadKeys reads a keys table. A modeldata column switches the table to
// complex mode, in which areaperil and vulnerability ids are NoID.
func LoadKeys(ctx context.Context, r io.Reader) (*Keys, error) {
	t, err := openTable(ctx, r, SourceKeys)
	if err != nil {
		return nil, err
	}

	complex := t.header.Has(KeyModelData)
	specs := KeysColumns(complex)
	pos, err := t.resolve(specs)
	if err != nil {
		return nil, err
	}

	keys := &Keys{Complex: complex}
	for {
		row, err := t.next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		k, serr := parseKey(row, pos, specs, complex)
		if serr != nil {
			serr.Source = t.source
			serr.Line = t.line
			return nil, serr
		}
		keys.Rows = append(keys.Rows, k)
	}

	if len(keys.Rows) == 0 {
		return nil, &MissingDataError{Source: t.source, Reason: "no data rows"}
	}

	logging.FromContext(ctx).Debug("keys loaded",
		"rows", len(keys.Rows),
		"complex", complex,
		"bytes", t.counter.n,
	)
	return keys, nil
}

// parseKey converts one row. Columns follow the order of KeysColumns.
func parseKey(row []string, pos []int, specs []ColumnSpec, complex bool) (Key, *SchemaError) {
	var vals [5]string
	for i, s := range specs {
		v, present := cell(row, pos[i], s)
		if !present && s.Required {
			return Key{}, &SchemaError{Column: s.Name, Reason: "empty value"}
		}
		vals[i] = v
	}

	k := Key{LocationID: vals[0], PerilID: vals[1]}

	ct, err := ParseUint(vals[2], 8)
	if err != nil {
		return Key{}, &SchemaError{Column: KeyCoverageTypeID, Reason: err.Error()}
	}
	k.CoverageType = profile.CoverageType(ct)
	if !k.CoverageType.Valid() {
		return Key{}, &SchemaError{
			Column: KeyCoverageTypeID,
			Reason: fmt.Sprintf("unknown coverage type %d", ct),
		}
	}

	if complex {
		k.AreaPerilID = NoID
		k.VulnerabilityID = NoID
		k.ModelData = vals[3]
		return k, nil
	}

	if k.AreaPerilID, err = ParseInt(vals[3]); err != nil {
		return Key{}, &SchemaError{Column: KeyAreaPerilID, Reason: err.Error()}
	}
	if k.VulnerabilityID, err = ParseInt(vals[4]); err != nil {
		return Key{}, &SchemaError{Column: KeyVulnerabilityID, Reason: err.Error()}
	}
	return k, nil
}

// LoadKeysFile opens path and calls LoadKeys.
func LoadKeysFile(ctx context.Context, path string) (*Keys, error) {
	return openFile(path, func(r io.Reader) (*Keys, error) {
		return LoadKeys(ctx, r)
	})
}
