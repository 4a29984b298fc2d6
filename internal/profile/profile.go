// Package profile resolves an exposure profile into the column layout used
// by the loader and the GUL item builder.
//
// An exposure profile maps source column names to entries describing which
// financial term the column holds, at which FM level and for which coverage
// type (term group). Resolve validates the profile once and produces a
// Resolved value that answers "which column holds the deductible for
// contents" without any further map-of-maps lookups at run time.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CoverageType classifies insured value at a location.
type CoverageType uint8

const (
	Buildings CoverageType = 1
	Other     CoverageType = 2
	Contents  CoverageType = 3
	BI        CoverageType = 4
)

// CoverageTypes lists the supported coverage types in id order.
var CoverageTypes = []CoverageType{Buildings, Other, Contents, BI}

// Valid reports whether c is one of the supported coverage types.
func (c CoverageType) Valid() bool {
	return c >= Buildings && c <= BI
}

func (c CoverageType) String() string {
	switch c {
	case Buildings:
		return "buildings"
	case Other:
		return "other"
	case Contents:
		return "contents"
	case BI:
		return "bi"
	default:
		return fmt.Sprintf("coverage_type(%d)", uint8(c))
	}
}

// SiteCoverageLevel is the FM level id of the site coverage level, the only
// level whose terms feed GUL inputs.
const SiteCoverageLevel = 1

// Term is a canonical financial term name.
type Term string

const (
	TermTIV           Term = "tiv"
	TermDeductible    Term = "deductible"
	TermDeductibleMin Term = "deductible_min"
	TermDeductibleMax Term = "deductible_max"
	TermLimit         Term = "limit"
	TermDedCode       Term = "ded_code"
	TermDedType       Term = "ded_type"
	TermLimCode       Term = "lim_code"
	TermLimType       Term = "lim_type"
	TermShare         Term = "share"
	TermAttachment    Term = "attachment"
)

// termTypes maps normalized FMTermType values to canonical terms.
var termTypes = map[string]Term{
	"tiv":            TermTIV,
	"deductible":     TermDeductible,
	"deductiblemin":  TermDeductibleMin,
	"mindeductible":  TermDeductibleMin,
	"deductiblemax":  TermDeductibleMax,
	"maxdeductible":  TermDeductibleMax,
	"limit":          TermLimit,
	"deductiblecode": TermDedCode,
	"dedcode":        TermDedCode,
	"deductibletype": TermDedType,
	"dedtype":        TermDedType,
	"limitcode":      TermLimCode,
	"limcode":        TermLimCode,
	"limittype":      TermLimType,
	"limtype":        TermLimType,
	"share":          TermShare,
	"attachment":     TermAttachment,
}

// ParseTerm converts a profile FMTermType ("DeductibleMin", "deductible_min")
// to its canonical Term.
func ParseTerm(s string) (Term, bool) {
	key := strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(s))
	t, ok := termTypes[key]
	return t, ok
}

// Hierarchy terms recognised in an entry's HierarchyTerm field.
const (
	HierarchyLocation  = "locnum"
	HierarchyAccount   = "accnum"
	HierarchyPortfolio = "portnum"
	HierarchyCondition = "condnum"
)

// Entry describes one source column of an exposure profile.
type Entry struct {
	ProfileElementName string `json:"ProfileElementName" yaml:"ProfileElementName"`
	ProfileType        string `json:"ProfileType,omitempty" yaml:"ProfileType,omitempty"`
	FMLevel            int    `json:"FMLevel,omitempty" yaml:"FMLevel,omitempty"`
	FMLevelName        string `json:"FMLevelName,omitempty" yaml:"FMLevelName,omitempty"`
	FMTermGroupID      int    `json:"FMTermGroupID,omitempty" yaml:"FMTermGroupID,omitempty"`
	FMTermType         string `json:"FMTermType,omitempty" yaml:"FMTermType,omitempty"`
	CoverageTypeID     int    `json:"CoverageTypeID,omitempty" yaml:"CoverageTypeID,omitempty"`
	HierarchyTerm      string `json:"HierarchyTerm,omitempty" yaml:"HierarchyTerm,omitempty"`
}

// Profile is an exposure profile keyed by source column name.
type Profile map[string]Entry

// ConfigurationError reports an exposure profile that cannot drive a run.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "exposure profile: " + e.Reason
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TermColumns names the source column holding each coverage-level term of
// one coverage type. An empty name means the profile has no such column and
// the term reads as zero.
type TermColumns struct {
	Deductible    string
	DeductibleMin string
	DeductibleMax string
	Limit         string
	DedCode       string
	DedType       string
	LimCode       string
	LimType       string
	Share         string
	Attachment    string
}

func (tc *TermColumns) slot(t Term) *string {
	switch t {
	case TermDeductible:
		return &tc.Deductible
	case TermDeductibleMin:
		return &tc.DeductibleMin
	case TermDeductibleMax:
		return &tc.DeductibleMax
	case TermLimit:
		return &tc.Limit
	case TermDedCode:
		return &tc.DedCode
	case TermDedType:
		return &tc.DedType
	case TermLimCode:
		return &tc.LimCode
	case TermLimType:
		return &tc.LimType
	case TermShare:
		return &tc.Share
	case TermAttachment:
		return &tc.Attachment
	}
	return nil
}

// Hierarchy holds the column names of the key hierarchy identifiers.
type Hierarchy struct {
	Location  string
	Account   string
	Portfolio string
	Condition string
}

// DefaultHierarchy is used for any hierarchy term the profile leaves out.
var DefaultHierarchy = Hierarchy{
	Location:  "locnumber",
	Account:   "accnumber",
	Portfolio: "portnumber",
	Condition: "condnumber",
}

// Resolved is a validated, query-ready view of an exposure profile.
// All column names are lowercased to match the loader's header index.
type Resolved struct {
	Hierarchy Hierarchy

	tiv   map[CoverageType]string
	terms map[CoverageType]TermColumns
}

// TIVColumn returns the TIV column of coverage type ct.
func (r *Resolved) TIVColumn(ct CoverageType) (string, bool) {
	col, ok := r.tiv[ct]
	return col, ok
}

// Terms returns the coverage-level term columns of coverage type ct.
func (r *Resolved) Terms(ct CoverageType) TermColumns {
	return r.terms[ct]
}

// CoverageTypes returns the coverage types that have a TIV column, in id order.
func (r *Resolved) CoverageTypes() []CoverageType {
	out := make([]CoverageType, 0, len(r.tiv))
	for _, ct := range CoverageTypes {
		if _, ok := r.tiv[ct]; ok {
			out = append(out, ct)
		}
	}
	return out
}

// Resolve validates p and builds its Resolved form.
//
// It fails with a ConfigurationError when the site coverage level has no TIV
// definition or no financial term definition, when an entry names an unknown
// term type or coverage type, or when two columns claim the same term.
func Resolve(p Profile) (*Resolved, error) {
	if len(p) == 0 {
		return nil, configErrorf("profile is empty")
	}

	r := &Resolved{
		Hierarchy: DefaultHierarchy,
		tiv:       make(map[CoverageType]string),
		terms:     make(map[CoverageType]TermColumns),
	}

	// Sorted keys keep error messages deterministic.
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	termCount := 0
	for _, key := range keys {
		entry := p[key]
		col := strings.ToLower(strings.TrimSpace(entry.ProfileElementName))
		if col == "" {
			col = strings.ToLower(strings.TrimSpace(key))
		}

		if entry.HierarchyTerm != "" {
			if err := r.setHierarchy(entry.HierarchyTerm, col); err != nil {
				return nil, err
			}
		}

		// Terms of other FM levels feed the financial module, not GUL inputs.
		if entry.FMTermType == "" || entry.FMLevel != SiteCoverageLevel {
			continue
		}
		term, ok := ParseTerm(entry.FMTermType)
		if !ok {
			return nil, configErrorf("column %q has unknown FMTermType %q", col, entry.FMTermType)
		}

		ct := CoverageType(entry.CoverageTypeID)
		if entry.CoverageTypeID == 0 {
			ct = CoverageType(entry.FMTermGroupID)
		}
		if !ct.Valid() {
			return nil, configErrorf("column %q has no valid coverage type (CoverageTypeID=%d, FMTermGroupID=%d)",
				col, entry.CoverageTypeID, entry.FMTermGroupID)
		}

		if term == TermTIV {
			if prev, dup := r.tiv[ct]; dup {
				return nil, configErrorf("columns %q and %q both define the %s TIV", prev, col, ct)
			}
			r.tiv[ct] = col
			continue
		}

		tc := r.terms[ct]
		slot := tc.slot(term)
		if slot == nil {
			return nil, configErrorf("column %q: %s is not a coverage-level term", col, term)
		}
		if *slot != "" {
			return nil, configErrorf("columns %q and %q both define %s for %s", *slot, col, term, ct)
		}
		*slot = col
		r.terms[ct] = tc
		termCount++
	}

	if len(r.tiv) == 0 {
		return nil, configErrorf("no TIV definitions at the site coverage level")
	}
	if termCount == 0 {
		return nil, configErrorf("no FM term definitions (deductible, limit, share) at the site coverage level")
	}

	return r, nil
}

func (r *Resolved) setHierarchy(term, col string) error {
	switch strings.ToLower(term) {
	case HierarchyLocation:
		r.Hierarchy.Location = col
	case HierarchyAccount:
		r.Hierarchy.Account = col
	case HierarchyPortfolio:
		r.Hierarchy.Portfolio = col
	case HierarchyCondition:
		r.Hierarchy.Condition = col
	default:
		return configErrorf("column %q has unknown HierarchyTerm %q", col, term)
	}
	return nil
}
