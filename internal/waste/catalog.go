package waste

// Category is read-only reference data used by the scoring step.
type Category struct {
	Name                    string  `json:"name"`
	ColorCode               string  `json:"color_code,omitempty"`
	Icon                    string  `json:"icon,omitempty"`
	BasePoints              int     `json:"base_points"`
	EnvironmentalMultiplier float64 `json:"environmental_multiplier"`
}

// Catalog maps waste types to their scoring parameters. It is consumed,
// never mutated, by Process.
type Catalog map[Type]Category

const (
	defaultBasePoints = 1
	defaultMultiplier = 1.0
)

// Lookup returns the category for t, filling in the documented defaults
// (base points 1, multiplier 1.0) for unconfigured types or fields.
func (c Catalog) Lookup(t Type) Category {
	cat, ok := c[t]
	if !ok {
		cat = Category{Name: string(t)}
	}
	if cat.BasePoints <= 0 {
		cat.BasePoints = defaultBasePoints
	}
	if cat.EnvironmentalMultiplier <= 0 {
		cat.EnvironmentalMultiplier = defaultMultiplier
	}
	return cat
}

// DefaultCatalog returns the built-in reference data. Multipliers follow the
// production configuration; deployments can override via storage-backed
// category data.
func DefaultCatalog() Catalog {
	return Catalog{
		TypeOrganic:    {Name: "Organic", ColorCode: "#8BC34A", Icon: "compost", BasePoints: 1, EnvironmentalMultiplier: 1.0},
		TypePlastic:    {Name: "Plastic", ColorCode: "#FF9800", Icon: "bottle", BasePoints: 3, EnvironmentalMultiplier: 1.5},
		TypePaper:      {Name: "Paper", ColorCode: "#795548", Icon: "newspaper", BasePoints: 2, EnvironmentalMultiplier: 1.2},
		TypeGlass:      {Name: "Glass", ColorCode: "#00BCD4", Icon: "glass", BasePoints: 2, EnvironmentalMultiplier: 1.3},
		TypeMetal:      {Name: "Metal", ColorCode: "#9E9E9E", Icon: "can", BasePoints: 3, EnvironmentalMultiplier: 1.4},
		TypeElectronic: {Name: "Electronic", ColorCode: "#3F51B5", Icon: "chip", BasePoints: 5, EnvironmentalMultiplier: 2.0},
		TypeHazardous:  {Name: "Hazardous", ColorCode: "#F44336", Icon: "warning", BasePoints: 5, EnvironmentalMultiplier: 2.5},
		TypeTextile:    {Name: "Textile", ColorCode: "#E91E63", Icon: "shirt", BasePoints: 2, EnvironmentalMultiplier: 1.1},
		TypeOther:      {Name: "Other", ColorCode: "#607D8B", Icon: "bin", BasePoints: 1, EnvironmentalMultiplier: 1.0},
	}
}
