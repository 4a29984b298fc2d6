package gul

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/gulprep/internal/exposure"
	"github.com/JonMunkholm/gulprep/internal/profile"
)

func resolved(t *testing.T) *profile.Resolved {
	t.Helper()
	rp, err := profile.Resolve(profile.Default())
	require.NoError(t, err)
	return rp
}

func record(idx int, loc string, tiv map[profile.CoverageType]float64) exposure.Record {
	r := exposure.Record{Index: idx, LocationID: loc, AccountID: "A1", PortfolioID: "P1"}
	for ct, v := range tiv {
		r.TIV[ct] = v
	}
	return r
}

func key(loc string, ct profile.CoverageType) exposure.Key {
	return exposure.Key{LocationID: loc, PerilID: "WTC", CoverageType: ct, AreaPerilID: 10 + int64(ct), VulnerabilityID: 20 + int64(ct)}
}

func TestNormalizeTerm(t *testing.T) {
	tests := []struct {
		name       string
		value, tiv float64
		want       float64
	}{
		{"zero stays absolute", 0, 1000, 0},
		{"fraction scales by tiv", 0.05, 1000, 50},
		{"amount below tiv stays absolute", 500, 1000, 500},
		{"exactly one is absolute", 1, 1000, 1},
		{"sub-unit amount reads as fraction", 0.5, 1000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTerm(tt.value, tt.tiv))
		})
	}
}

func TestBuild_TwoLocations(t *testing.T) {
	records := []exposure.Record{
		record(0, "L1", map[profile.CoverageType]float64{profile.Buildings: 1000}),
		record(1, "L2", map[profile.CoverageType]float64{profile.Contents: 250}),
	}
	keys := &exposure.Keys{Rows: []exposure.Key{
		key("L1", profile.Buildings),
		key("L2", profile.Contents),
	}}

	tbl, err := Build(context.Background(), records, keys, resolved(t))
	require.NoError(t, err)
	require.Len(t, tbl.Items, 2)

	assert.Equal(t, uint32(1), tbl.Items[0].GroupID)
	assert.Equal(t, uint32(2), tbl.Items[1].GroupID)
	assert.Equal(t, uint32(1), tbl.Items[0].ItemID)
	assert.Equal(t, uint32(2), tbl.Items[1].CoverageID)
	assert.Equal(t, 1000.0, tbl.Items[0].TIV)
	assert.Equal(t, 250.0, tbl.Items[1].TIV)
	assert.Equal(t, int64(13), tbl.Items[1].AreaPerilID)
}

func TestBuild_TermsFromOwnCoverageType(t *testing.T) {
	rec := record(0, "L1", map[profile.CoverageType]float64{
		profile.Buildings: 1000,
		profile.BI:        200,
	})
	rec.Terms[profile.Buildings] = exposure.Terms{Deductible: 0.05, Limit: 800, DedType: 2}
	rec.Terms[profile.BI] = exposure.Terms{Deductible: 10, Limit: 0.5, DeductibleMin: 3, LimCode: 1}

	keys := &exposure.Keys{Rows: []exposure.Key{
		key("L1", profile.Buildings),
		key("L1", profile.BI),
	}}

	tbl, err := Build(context.Background(), []exposure.Record{rec}, keys, resolved(t))
	require.NoError(t, err)
	require.Len(t, tbl.Items, 2)

	bld, bi := tbl.Items[0], tbl.Items[1]

	assert.False(t, bld.IsBI)
	assert.Equal(t, 1000.0, bld.TIV)
	assert.Equal(t, 50.0, bld.Deductible)
	assert.Equal(t, 800.0, bld.Limit)
	assert.Zero(t, bld.DeductibleMin, "BI terms must not leak into the buildings row")
	assert.Equal(t, uint8(2), bld.DedType)
	assert.Zero(t, bld.LimCode)

	assert.True(t, bi.IsBI)
	assert.Equal(t, 200.0, bi.TIV)
	assert.Equal(t, 10.0, bi.Deductible)
	assert.Equal(t, 100.0, bi.Limit)
	assert.Equal(t, 3.0, bi.DeductibleMin)
	assert.Equal(t, uint8(1), bi.LimCode)

	assert.Equal(t, bld.GroupID, bi.GroupID, "same location shares a group")
}

func TestBuild_DropsDegenerateRows(t *testing.T) {
	records := []exposure.Record{
		record(0, "L0", nil), // no value anywhere
		record(1, "L1", map[profile.CoverageType]float64{profile.Buildings: 100}),
		record(2, "L2", map[profile.CoverageType]float64{profile.Contents: 100}),
		record(3, "L3", map[profile.CoverageType]float64{profile.Other: 50}),
	}
	keys := &exposure.Keys{Rows: []exposure.Key{
		key("L0", profile.Buildings),
		key("L1", profile.Buildings),
		key("L2", profile.Buildings), // own coverage type has zero TIV
		key("L2", profile.Contents),
		key("L3", profile.Other),
	}}

	tbl, err := Build(context.Background(), records, keys, resolved(t))
	require.NoError(t, err)

	locs := make([]string, len(tbl.Items))
	for i, it := range tbl.Items {
		locs[i] = it.LocationID
		assert.NotZero(t, it.TIV)
		assert.Equal(t, uint32(i+1), it.ItemID)
	}
	assert.Equal(t, []string{"L1", "L2", "L3"}, locs)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{tbl.Items[0].GroupID, tbl.Items[1].GroupID, tbl.Items[2].GroupID})

	assert.Equal(t, 1, tbl.Stats.DroppedNoValue)
	assert.Equal(t, 1, tbl.Stats.DroppedZeroTIV)
	assert.Equal(t, 5, tbl.Stats.Joined)
}

func TestBuild_UnmatchedLocationsAreDropped(t *testing.T) {
	records := []exposure.Record{
		record(0, "L1", map[profile.CoverageType]float64{profile.Buildings: 100}),
		record(1, "L2", map[profile.CoverageType]float64{profile.Buildings: 100}),
	}
	keys := &exposure.Keys{Rows: []exposure.Key{key("L2", profile.Buildings)}}

	tbl, err := Build(context.Background(), records, keys, resolved(t))
	require.NoError(t, err)
	require.Len(t, tbl.Items, 1)
	assert.Equal(t, "L2", tbl.Items[0].LocationID)
	assert.Equal(t, uint32(1), tbl.Items[0].GroupID)
	assert.Equal(t, 1, tbl.Stats.Unmatched)
}

func TestBuild_GroupIDFollowsLocation(t *testing.T) {
	var records []exposure.Record
	var keys exposure.Keys
	locs := []string{"Z", "A", "M", "B"}
	for i, loc := range locs {
		records = append(records, record(i, loc, map[profile.CoverageType]float64{
			profile.Buildings: 10, profile.Contents: 5,
		}))
		keys.Rows = append(keys.Rows, key(loc, profile.Buildings), key(loc, profile.Contents))
	}

	tbl, err := Build(context.Background(), records, &keys, resolved(t))
	require.NoError(t, err)
	require.Len(t, tbl.Items, 8)

	groupOf := make(map[string]uint32)
	locOf := make(map[uint32]string)
	for i, it := range tbl.Items {
		if g, ok := groupOf[it.LocationID]; ok {
			assert.Equal(t, g, it.GroupID)
		}
		if l, ok := locOf[it.GroupID]; ok {
			assert.Equal(t, l, it.LocationID)
		}
		groupOf[it.LocationID] = it.GroupID
		locOf[it.GroupID] = it.LocationID

		assert.Equal(t, uint32(i+1), it.ItemID)
		assert.Equal(t, it.ItemID, it.CoverageID)
		assert.Equal(t, it.ItemID, it.AggID)
		assert.Equal(t, uint32(1), it.LayerID)
		assert.Equal(t, uint32(1), it.SummaryID)
		assert.Equal(t, uint32(1), it.SummarysetID)
	}

	// First appearance order, not sorted order.
	assert.Equal(t, map[string]uint32{"Z": 1, "A": 2, "M": 3, "B": 4}, groupOf)
}

func TestBuild_ComplexKeys(t *testing.T) {
	records := []exposure.Record{record(0, "L1", map[profile.CoverageType]float64{profile.BI: 75})}
	keys := &exposure.Keys{
		Complex: true,
		Rows: []exposure.Key{{
			LocationID: "L1", PerilID: "WTC", CoverageType: profile.BI,
			AreaPerilID: exposure.NoID, VulnerabilityID: exposure.NoID, ModelData: `{"x":1}`,
		}},
	}

	tbl, err := Build(context.Background(), records, keys, resolved(t))
	require.NoError(t, err)
	require.True(t, tbl.Complex)
	require.Len(t, tbl.Items, 1)
	assert.Equal(t, `{"x":1}`, tbl.Items[0].ModelData)
	assert.Equal(t, int64(-1), tbl.Items[0].AreaPerilID)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("empty join", func(t *testing.T) {
		records := []exposure.Record{record(0, "L1", map[profile.CoverageType]float64{profile.Buildings: 1})}
		keys := &exposure.Keys{Rows: []exposure.Key{key("other", profile.Buildings)}}

		_, err := Build(context.Background(), records, keys, resolved(t))
		require.Error(t, err)

		var be *BuildError
		require.True(t, errors.As(err, &be))
		assert.True(t, IsEmptyJoin(err))
	})

	t.Run("coverage type without TIV column", func(t *testing.T) {
		rp, err := profile.Resolve(profile.Profile{
			"BuildingTIV": {FMLevel: 1, FMTermType: "TIV", CoverageTypeID: 1},
			"BldDed":      {FMLevel: 1, FMTermGroupID: 1, FMTermType: "Deductible"},
		})
		require.NoError(t, err)

		records := []exposure.Record{record(0, "L1", map[profile.CoverageType]float64{profile.Buildings: 1})}
		keys := &exposure.Keys{Rows: []exposure.Key{key("L1", profile.Contents)}}

		_, err = Build(context.Background(), records, keys, rp)
		require.Error(t, err)
		var be *BuildError
		require.True(t, errors.As(err, &be))
		assert.True(t, strings.Contains(err.Error(), "no TIV column"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		records := []exposure.Record{record(0, "L1", map[profile.CoverageType]float64{profile.Buildings: 1})}
		keys := &exposure.Keys{Rows: []exposure.Key{key("L1", profile.Buildings)}}

		_, err := Build(ctx, records, keys, resolved(t))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBuild_FromLoadedTables(t *testing.T) {
	exp := "PortNumber,AccNumber,LocNumber,BuildingTIV,OtherTIV,ContentsTIV,BITIV,LocDed1Building\n" +
		"P1,A1,L1,1000,0,0,0,0.1\n" +
		"P1,A1,L2,0,0,0,0,0\n" +
		"P1,A1,L3,0,0,300,0,0\n"
	keysCSV := "LocID,PerilID,CoverageTypeID,AreaPerilID,VulnerabilityID\n" +
		"L1,WTC,1,5,6\n" +
		"L2,WTC,1,5,6\n" +
		"L3,WTC,3,7,8\n"

	ctx := context.Background()
	rp := resolved(t)
	records, err := exposure.LoadExposure(ctx, strings.NewReader(exp), rp)
	require.NoError(t, err)
	keys, err := exposure.LoadKeys(ctx, strings.NewReader(keysCSV))
	require.NoError(t, err)

	tbl, err := Build(ctx, records, keys, rp)
	require.NoError(t, err)
	require.Len(t, tbl.Items, 2)

	assert.Equal(t, "L1", tbl.Items[0].LocationID)
	assert.Equal(t, 100.0, tbl.Items[0].Deductible)
	assert.Equal(t, "L3", tbl.Items[1].LocationID)
	assert.Equal(t, 2, tbl.Items[1].LocIndex)
	assert.Equal(t, uint32(2), tbl.Items[1].GroupID, "dropped location does not consume a group id")
}
