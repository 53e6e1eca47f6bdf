package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/venuedb/core"
	"github.com/poiesic/venuedb/index"
)

// Filter field names accepted in Filters.Amenities.
const (
	AmenityFreeWifi         = "free_wifi"
	AmenityPurchaseRequired = "purchase_required"
	AmenityOperational      = "operational"
	AmenityHasCinnamonRolls = "has_cinnamon_rolls"
)

// Filters are the hard constraints of a hybrid query. Every populated field
// must match for a candidate to survive; filters never influence ranking.
type Filters struct {
	// Neighborhood matches exactly, case-insensitively.
	Neighborhood string

	// Tags must all be present on the place (tags or categories).
	Tags []string

	// Amenities maps amenity name to the required enum value. Unknown names
	// or values are a validation error, never a silent non-match.
	Amenities map[string]string

	// Center and RadiusMeters constrain results to a circle. Places without
	// a location never match a radius filter.
	Center       *core.Location
	RadiusMeters float64
}

// compiledFilters is the validated form of Filters.
type compiledFilters struct {
	neighborhood string
	tags         []string

	freeWifi         *core.TriState
	purchaseRequired *core.TriState
	operational      *core.TriState
	hasCinnamonRolls *core.QuadState

	center *core.Location
	radius float64
}

// compile validates every filter value up front, before any index is
// touched.
func (f *Filters) compile() (*compiledFilters, error) {
	if f == nil {
		return &compiledFilters{}, nil
	}

	cf := &compiledFilters{
		neighborhood: strings.ToLower(strings.TrimSpace(f.Neighborhood)),
	}
	for _, tag := range f.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return nil, fmt.Errorf("%w: blank tag filter", core.ErrValidation)
		}
		cf.tags = append(cf.tags, tag)
	}

	for name, value := range f.Amenities {
		switch name {
		case AmenityFreeWifi:
			v, err := core.ParseTriState(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", core.ErrValidation, name, err)
			}
			cf.freeWifi = &v
		case AmenityPurchaseRequired:
			v, err := core.ParseTriState(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", core.ErrValidation, name, err)
			}
			cf.purchaseRequired = &v
		case AmenityOperational:
			v, err := core.ParseTriState(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", core.ErrValidation, name, err)
			}
			cf.operational = &v
		case AmenityHasCinnamonRolls:
			v, err := core.ParseQuadState(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", core.ErrValidation, name, err)
			}
			cf.hasCinnamonRolls = &v
		default:
			return nil, fmt.Errorf("%w: %w: %q", core.ErrValidation, core.ErrUnknownAmenity, name)
		}
	}

	if f.Center != nil {
		if f.RadiusMeters <= 0 {
			return nil, fmt.Errorf("%w: radius must be positive", core.ErrValidation)
		}
		if f.Center.Lat < -90 || f.Center.Lat > 90 || f.Center.Lon < -180 || f.Center.Lon > 180 {
			return nil, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrInvalidLocation)
		}
		center := *f.Center
		cf.center = &center
		cf.radius = f.RadiusMeters
	} else if f.RadiusMeters != 0 {
		return nil, fmt.Errorf("%w: radius given without center", core.ErrValidation)
	}

	return cf, nil
}

// matches applies the hard filters to a place and reports which filter
// names matched, for result evidence.
func (cf *compiledFilters) matches(place *core.Place) (bool, []string) {
	var matched []string

	if cf.neighborhood != "" {
		if !strings.EqualFold(place.Neighborhood, cf.neighborhood) {
			return false, nil
		}
		matched = append(matched, "neighborhood")
	}

	if len(cf.tags) > 0 {
		have := make(map[string]bool, len(place.Tags)+len(place.Categories))
		for _, t := range place.Tags {
			have[strings.ToLower(t)] = true
		}
		for _, c := range place.Categories {
			have[strings.ToLower(c)] = true
		}
		for _, t := range cf.tags {
			if !have[t] {
				return false, nil
			}
		}
		matched = append(matched, "tags")
	}

	if cf.freeWifi != nil {
		if place.Amenities.FreeWifi != *cf.freeWifi {
			return false, nil
		}
		matched = append(matched, AmenityFreeWifi)
	}
	if cf.purchaseRequired != nil {
		if place.Amenities.PurchaseRequired != *cf.purchaseRequired {
			return false, nil
		}
		matched = append(matched, AmenityPurchaseRequired)
	}
	if cf.operational != nil {
		if place.Amenities.Operational != *cf.operational {
			return false, nil
		}
		matched = append(matched, AmenityOperational)
	}
	if cf.hasCinnamonRolls != nil {
		if place.Amenities.HasCinnamonRolls != *cf.hasCinnamonRolls {
			return false, nil
		}
		matched = append(matched, AmenityHasCinnamonRolls)
	}

	if cf.center != nil {
		if place.Location == nil {
			return false, nil
		}
		if index.Haversine(*cf.center, *place.Location) > cf.radius {
			return false, nil
		}
		matched = append(matched, "radius")
	}

	slices.Sort(matched)
	return true, matched
}
