// Package geo rolls completion rows up into a privacy-bounded place
// hierarchy and finds the densest place.
package geo

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"qrclinic/internal/events"
)

// CoordinatePrecision is the number of decimals reported coordinates are
// rounded to (roughly 1km).
const CoordinatePrecision = 2

type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// PlaceAggregate is one place bucket. Coordinate is the rounded centroid of
// the rows in the bucket that carried coordinates, or nil if none did.
type PlaceAggregate struct {
	Region     string      `json:"region"`
	City       string      `json:"city"`
	Town       string      `json:"town,omitempty"`
	Count      int64       `json:"count"`
	Coordinate *Coordinate `json:"coordinate"`
}

// PlaceResolver resolves a place from an IP address.
type PlaceResolver interface {
	LookupPlace(ip string) (Place, bool)
}

// Result holds places sorted by count descending.
type Result struct {
	Places []PlaceAggregate
	Total  int64
	// Hotspot is the highest-count place that has a coordinate to draw on
	// the map. A denser place without any coordinate does not qualify, so
	// Hotspot is not always Places[0]. Nil when no place has a coordinate.
	Hotspot *PlaceAggregate
}

// Aggregator rolls rows into places.
type Aggregator struct {
	resolver PlaceResolver
	excluded func(ip string) bool
	logger   *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithResolver fills in missing places from the row's IP.
func WithResolver(r PlaceResolver) Option {
	return func(a *Aggregator) { a.resolver = r }
}

// WithExclusion drops rows whose IP matches.
func WithExclusion(excluded func(ip string) bool) Option {
	return func(a *Aggregator) { a.excluded = excluded }
}

func NewAggregator(logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Included reports whether the row survives IP exclusion.
func (a *Aggregator) Included(row events.CompletionRow) bool {
	if a.excluded == nil || row.IPAddress == "" {
		return true
	}
	return !a.excluded(row.IPAddress)
}

// PlaceOf returns the normalised place of a row, consulting the resolver
// when the stored place lacks region or city.
func (a *Aggregator) PlaceOf(row events.CompletionRow) Place {
	place := NewPlace(row.Region, row.City, row.Town)
	if place.Complete() || a.resolver == nil || row.IPAddress == "" {
		return place
	}
	if resolved, ok := a.resolver.LookupPlace(row.IPAddress); ok && resolved.Placeable() {
		return resolved
	}
	return place
}

type bucket struct {
	agg    PlaceAggregate
	latSum decimal.Decimal
	lngSum decimal.Decimal
	points int64
}

// Aggregate groups rows by place. Rows that are excluded or cannot be
// placed are not counted.
func (a *Aggregator) Aggregate(rows []events.CompletionRow) Result {
	buckets := make(map[string]*bucket)
	order := make([]*bucket, 0)
	var total int64
	var skipped int

	for _, row := range rows {
		if !a.Included(row) {
			continue
		}
		place := a.PlaceOf(row)
		if !place.Placeable() {
			skipped++
			continue
		}

		b, ok := buckets[place.Key()]
		if !ok {
			b = &bucket{agg: PlaceAggregate{Region: place.Region, City: place.City, Town: place.Town}}
			buckets[place.Key()] = b
			order = append(order, b)
		}
		b.agg.Count++
		total++

		if row.HasCoordinates() {
			b.latSum = b.latSum.Add(decimal.NewFromFloat(*row.Latitude))
			b.lngSum = b.lngSum.Add(decimal.NewFromFloat(*row.Longitude))
			b.points++
		}
	}

	if skipped > 0 && a.logger != nil {
		a.logger.Debug("rows without a place skipped", slog.Int("count", skipped))
	}

	places := make([]PlaceAggregate, 0, len(order))
	var hotspot *PlaceAggregate
	for _, b := range order {
		if b.points > 0 {
			n := decimal.NewFromInt(b.points)
			b.agg.Coordinate = &Coordinate{
				Latitude:  b.latSum.Div(n).Round(CoordinatePrecision).InexactFloat64(),
				Longitude: b.lngSum.Div(n).Round(CoordinatePrecision).InexactFloat64(),
			}
			// strict comparison keeps the first-seen bucket on ties
			if hotspot == nil || b.agg.Count > hotspot.Count {
				h := b.agg
				hotspot = &h
			}
		}
		places = append(places, b.agg)
	}

	sort.SliceStable(places, func(i, j int) bool {
		return places[i].Count > places[j].Count
	})

	return Result{
		Places:  places,
		Total:   total,
		Hotspot: hotspot,
	}
}

// Filter returns the included rows that fall in the requested place.
func (a *Aggregator) Filter(rows []events.CompletionRow, region, city string, town *string) []events.CompletionRow {
	matched := make([]events.CompletionRow, 0)
	for _, row := range rows {
		if !a.Included(row) {
			continue
		}
		if a.PlaceOf(row).Matches(region, city, town) {
			matched = append(matched, row)
		}
	}
	return matched
}
