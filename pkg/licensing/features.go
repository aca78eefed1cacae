// Package licensing defines the ONA tier catalog, license key handling and
// feature/limit evaluation.
//
// Nothing in this package performs I/O. License records are supplied by the
// caller through a LookupFunc so the same validator serves the SQLite and
// Postgres stores as well as tests.
package licensing

import "sort"

// Feature is a boolean capability granted by a tier.
type Feature string

// Feature constants represent gated features in ONA.
const (
	FeatureDataInput       Feature = "data_input"       // Uploading and connecting data sources
	FeatureExport          Feature = "export"           // PDF/XLSX/CSV report export
	FeatureStreaming       Feature = "streaming"        // Live graph update stream
	FeatureVisualization3D Feature = "3d_visualization" // 3D force graph in the UI
)

// LimitKey names a numeric quota carried by a tier.
type LimitKey string

const (
	LimitMaxNodes         LimitKey = "max_nodes"
	LimitMaxEdges         LimitKey = "max_edges"
	LimitAPICallsPerMonth LimitKey = "api_calls_per_month"
	LimitMaxUsers         LimitKey = "max_users"
)

// AllFeatures lists every known feature in display order.
var AllFeatures = []Feature{
	FeatureDataInput,
	FeatureExport,
	FeatureStreaming,
	FeatureVisualization3D,
}

// AllLimits lists every known limit in display order.
var AllLimits = []LimitKey{
	LimitMaxNodes,
	LimitMaxEdges,
	LimitAPICallsPerMonth,
	LimitMaxUsers,
}

// ParseFeature maps a feature name to its typed key.
func ParseFeature(name string) (Feature, bool) {
	for _, f := range AllFeatures {
		if string(f) == name {
			return f, true
		}
	}
	return "", false
}

// ParseLimitKey maps a limit name to its typed key.
func ParseLimitKey(name string) (LimitKey, bool) {
	for _, k := range AllLimits {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// Tier represents a license tier.
type Tier string

const (
	TierDemo         Tier = "demo"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// DefaultTier is used when a stored tier name is not recognised.
const DefaultTier = TierBasic

// AllTiers lists the tiers from least to most capable.
var AllTiers = []Tier{TierDemo, TierBasic, TierProfessional, TierEnterprise}

// ParseTier resolves a stored tier name. Unknown names resolve to DefaultTier
// and report ok=false so callers can log the fallback.
func ParseTier(name string) (Tier, bool) {
	for _, t := range AllTiers {
		if string(t) == name {
			return t, true
		}
	}
	return DefaultTier, false
}

// TierDefinition is the immutable feature and limit bundle of one tier.
type TierDefinition struct {
	Tier             Tier   `json:"tier"`
	DisplayName      string `json:"display_name"`
	MonthlyPriceUSD  *int   `json:"monthly_price_usd"` // nil means custom pricing
	DataInput        bool   `json:"data_input"`
	Export           bool   `json:"export"`
	Streaming        bool   `json:"streaming"`
	Visualization3D  bool   `json:"3d_visualization"`
	MaxNodes         Limit  `json:"max_nodes"`
	MaxEdges         Limit  `json:"max_edges"`
	APICallsPerMonth Limit  `json:"api_calls_per_month"`
	MaxUsers         Limit  `json:"max_users"`
}

// Feature reports the value of a feature flag. Unknown features are false.
func (d TierDefinition) Feature(f Feature) bool {
	switch f {
	case FeatureDataInput:
		return d.DataInput
	case FeatureExport:
		return d.Export
	case FeatureStreaming:
		return d.Streaming
	case FeatureVisualization3D:
		return d.Visualization3D
	default:
		return false
	}
}

// Limit returns the quota for key and whether the key is known.
func (d TierDefinition) Limit(key LimitKey) (Limit, bool) {
	switch key {
	case LimitMaxNodes:
		return d.MaxNodes, true
	case LimitMaxEdges:
		return d.MaxEdges, true
	case LimitAPICallsPerMonth:
		return d.APICallsPerMonth, true
	case LimitMaxUsers:
		return d.MaxUsers, true
	default:
		return Limit{}, false
	}
}

// EnabledFeatures returns the names of the enabled feature flags, sorted.
func (d TierDefinition) EnabledFeatures() []string {
	out := make([]string, 0, len(AllFeatures))
	for _, f := range AllFeatures {
		if d.Feature(f) {
			out = append(out, string(f))
		}
	}
	sort.Strings(out)
	return out
}

// Catalog maps tier names to their definitions. A Catalog is built once at
// startup and never mutated; share it by pointer.
type Catalog struct {
	tiers map[Tier]TierDefinition
}

// NewCatalog builds a catalog from the given definitions. A definition for
// DefaultTier must be present so that unknown tiers have somewhere to land.
func NewCatalog(defs ...TierDefinition) (*Catalog, error) {
	tiers := make(map[Tier]TierDefinition, len(defs))
	for _, d := range defs {
		if _, dup := tiers[d.Tier]; dup {
			return nil, &CatalogError{Tier: d.Tier, Reason: "duplicate definition"}
		}
		tiers[d.Tier] = d
	}
	if _, ok := tiers[DefaultTier]; !ok {
		return nil, &CatalogError{Tier: DefaultTier, Reason: "default tier missing"}
	}
	return &Catalog{tiers: tiers}, nil
}

// Definition returns the definition for tier, falling back to DefaultTier.
func (c *Catalog) Definition(tier Tier) TierDefinition {
	if d, ok := c.tiers[tier]; ok {
		return d
	}
	return c.tiers[DefaultTier]
}

// Tiers returns every definition ordered as AllTiers, followed by any custom
// tiers sorted by name.
func (c *Catalog) Tiers() []TierDefinition {
	out := make([]TierDefinition, 0, len(c.tiers))
	seen := make(map[Tier]bool, len(c.tiers))
	for _, t := range AllTiers {
		if d, ok := c.tiers[t]; ok {
			out = append(out, d)
			seen[t] = true
		}
	}
	var extra []TierDefinition
	for t, d := range c.tiers {
		if !seen[t] {
			extra = append(extra, d)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Tier < extra[j].Tier })
	return append(out, extra...)
}

func price(usd int) *int { return &usd }

// DefaultCatalog returns the standard ONA tiers.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		TierDefinition{
			Tier:             TierDemo,
			DisplayName:      "Demo",
			MonthlyPriceUSD:  price(0),
			MaxNodes:         Max(100),
			MaxEdges:         Max(300),
			APICallsPerMonth: Max(100),
			MaxUsers:         Max(1),
		},
		TierDefinition{
			Tier:             TierBasic,
			DisplayName:      "Basic",
			MonthlyPriceUSD:  price(99),
			DataInput:        true,
			Export:           true,
			Visualization3D:  true,
			MaxNodes:         Max(5000),
			MaxEdges:         Max(20000),
			APICallsPerMonth: Max(10000),
			MaxUsers:         Max(5),
		},
		TierDefinition{
			Tier:             TierProfessional,
			DisplayName:      "Professional",
			MonthlyPriceUSD:  price(499),
			DataInput:        true,
			Export:           true,
			Streaming:        true,
			Visualization3D:  true,
			MaxNodes:         Max(50000),
			MaxEdges:         Max(200000),
			APICallsPerMonth: Max(100000),
			MaxUsers:         Max(25),
		},
		TierDefinition{
			Tier:             TierEnterprise,
			DisplayName:      "Enterprise",
			DataInput:        true,
			Export:           true,
			Streaming:        true,
			Visualization3D:  true,
			MaxNodes:         Unlimited(),
			MaxEdges:         Unlimited(),
			APICallsPerMonth: Unlimited(),
			MaxUsers:         Unlimited(),
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
