package analytics

import (
	"errors"

	"qrclinic/internal/demographics"
	"qrclinic/internal/events"
	"qrclinic/internal/geo"
)

// ErrInvalidLocation is returned when a demographics lookup names no region
// or no city.
var ErrInvalidLocation = errors.New("invalid location")

// LocationAggregates is the geographic rollup of completions.
type LocationAggregates struct {
	Places       []geo.PlaceAggregate `json:"places"`
	Total        int64                `json:"total"`
	ClinicCenter *geo.Coordinate      `json:"clinic_center"`
	Hotspot      *geo.PlaceAggregate  `json:"hotspot"`
}

// LocationDemographics breaks down the completions of one place.
type LocationDemographics struct {
	GenderByType demographics.GenderCounts  `json:"gender_by_type"`
	AgeRanges    demographics.FineAgeRanges `json:"age_ranges"`
	Total        int64                      `json:"total"`
}

func emptyLocationAggregates(center *geo.Coordinate) LocationAggregates {
	return LocationAggregates{
		Places:       []geo.PlaceAggregate{},
		ClinicCenter: center,
	}
}

// summarizeDemographics buckets the given rows by gender and fine age range.
func summarizeDemographics(rows []events.CompletionRow) LocationDemographics {
	var out LocationDemographics
	for _, row := range rows {
		out.Total++
		gender := ""
		if row.UserGender != nil {
			gender = *row.UserGender
		}
		out.GenderByType.Add(gender, 1)
		if row.UserAge != nil {
			out.AgeRanges.Add(*row.UserAge, 1)
		}
	}
	return out
}
