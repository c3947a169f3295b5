// Package geo holds the location maths behind shop pins, delivery addresses
// and the delivery countdown.
package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// EarthRadiusKm is the mean earth radius used by Distance.
const EarthRadiusKm = 6371.0

// DeliveryWindow is the promised time between order placement and arrival.
const DeliveryWindow = 24 * time.Hour

// ArrivingSoon is shown once the delivery window has elapsed.
const ArrivingSoon = "Arriving soon"

// DefaultCenter is used to centre a map when the shop has no usable location.
var DefaultCenter = Point{Lat: 17.3850, Lng: 78.4867}

// ErrInvalidPoint is returned for coordinates outside the valid ranges.
var ErrInvalidPoint = errors.New("invalid coordinates")

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects NaN, infinities and out-of-range values.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return ErrInvalidPoint
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPoint, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPoint, p.Lng)
	}
	return nil
}

// Known reports whether p is a usable location. A zero latitude is treated as
// "not set" because that is what an unset column scans into.
func (p Point) Known() bool {
	return p.Validate() == nil && p.Lat != 0
}

// FromNullable builds a Point from optional columns.
func FromNullable(lat, lng *float64) (Point, bool) {
	if lat == nil || lng == nil {
		return Point{}, false
	}
	p := Point{Lat: *lat, Lng: *lng}
	return p, p.Known()
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// RoundKm rounds a distance to two decimals for display.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// BoundingBox returns the lat/lng box that contains every point within
// radiusKm of center. It is used to pre-filter rows in SQL before the exact
// haversine check. Near the antimeridian the longitude range widens to the
// whole globe.
func BoundingBox(center Point, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	minLat = math.Max(center.Lat-dLat, -90)
	maxLat = math.Min(center.Lat+dLat, 90)

	cosLat := math.Cos(toRad(center.Lat))
	if cosLat < 1e-6 || minLat == -90 || maxLat == 90 {
		return minLat, maxLat, -180, 180
	}
	dLng := radiusKm / (EarthRadiusKm * cosLat) * 180 / math.Pi
	minLng, maxLng = center.Lng-dLng, center.Lng+dLng
	// A box crossing the antimeridian cannot be one BETWEEN range.
	if dLng >= 180 || minLng < -180 || maxLng > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

// Located is anything with an id and a position.
type Located struct {
	ID    int64
	Point Point
}

// Ranked is a Located item with its distance from the search centre.
type Ranked struct {
	ID         int64   `json:"id"`
	DistanceKm float64 `json:"distanceKm"`
}

// Nearby filters items to those within radiusKm of center and orders them by
// distance, closest first. Ties keep their input order.
func Nearby(center Point, radiusKm float64, items []Located) []Ranked {
	out := make([]Ranked, 0, len(items))
	for _, it := range items {
		if !it.Point.Known() {
			continue
		}
		d := Distance(center, it.Point)
		if d <= radiusKm {
			out = append(out, Ranked{ID: it.ID, DistanceKm: RoundKm(d)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// DeliveryETA is the promised arrival time for an order placed at createdAt.
func DeliveryETA(createdAt time.Time) time.Time {
	return createdAt.Add(DeliveryWindow)
}

// TimeLeft renders the countdown to eta as "Hh Mm Ss", or ArrivingSoon once
// eta has passed.
func TimeLeft(now, eta time.Time) string {
	d := eta.Sub(now)
	if d <= 0 {
		return ArrivingSoon
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
