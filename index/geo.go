package index

import (
	"math"
	"sort"
	"sync"

	"github.com/poiesic/venuedb/core"
)

const earthRadiusMeters = 6371000.0

// GeoMatch is a single radius query result.
type GeoMatch struct {
	ID     string
	Meters float64
}

// Geo is an in-memory point index answering radius queries with haversine
// distance. Entries without a location simply never enter the index.
//
// All methods are safe for concurrent use.
type Geo struct {
	mu     sync.RWMutex
	points map[string]core.Location
}

// NewGeo creates an empty geospatial index.
func NewGeo() *Geo {
	return &Geo{points: make(map[string]core.Location)}
}

// Len returns the number of indexed points.
func (g *Geo) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.points)
}

// Insert adds or replaces the point under the given ID.
func (g *Geo) Insert(id string, loc core.Location) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[id] = loc
}

// Remove deletes a point. Absent IDs are a no-op.
func (g *Geo) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, id)
}

// Contains reports whether the given ID is indexed.
func (g *Geo) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.points[id]
	return ok
}

// WithinRadius returns every point within meters of center, boundary
// inclusive, ordered by ascending distance with ties by ascending ID.
func (g *Geo) WithinRadius(center core.Location, meters float64) []GeoMatch {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var matches []GeoMatch
	for id, loc := range g.points {
		d := Haversine(center, loc)
		if d <= meters {
			matches = append(matches, GeoMatch{ID: id, Meters: d})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Meters != matches[j].Meters {
			return matches[i].Meters < matches[j].Meters
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b core.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
