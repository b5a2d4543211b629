package quotaledger

import "fmt"

// ResourceType identifies a metered unit of work.
type ResourceType string

const (
	// ResourceStockReport is one generated stock analysis report.
	ResourceStockReport ResourceType = "stock_report"
)

var resources = []ResourceType{
	ResourceStockReport,
}

// AllResources returns every known resource type.
func AllResources() []ResourceType {
	out := make([]ResourceType, len(resources))
	copy(out, resources)
	return out
}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceStockReport:
		return true
	default:
		return false
	}
}

func (r ResourceType) String() string { return string(r) }

// ParseResourceType converts s into a ResourceType, rejecting unknown values
// with ErrInvalidResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	r := ResourceType(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidResourceType, s)
	}
	return r, nil
}
