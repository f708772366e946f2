package analytics

import (
	"qrclinic/internal/demographics"
	"qrclinic/internal/timeframe"
)

// CategoryStat is the completion and CTA volume of one quiz result category.
type CategoryStat struct {
	Category string  `json:"category"`
	Count    int64   `json:"count"`
	CTACount int64   `json:"cta_count"`
	CTARate  float64 `json:"cta_rate"`
}

// OverallStats is the cross-channel report. Trends is nil when the
// previous period could not be aggregated.
type OverallStats struct {
	AccessCount    int64                      `json:"access_count"`
	CompletedCount int64                      `json:"completed_count"`
	CompletionRate float64                    `json:"completion_rate"`
	CTACount       int64                      `json:"cta_count"`
	CTARate        float64                    `json:"cta_rate"`
	CTAByType      CTACounts                  `json:"cta_by_type"`
	GenderByType   demographics.GenderCounts  `json:"gender_by_type"`
	AgeRanges      demographics.FineAgeRanges `json:"age_ranges"`
	AccessByDate   []timeframe.DateStat       `json:"access_by_date"`
	CategoryStats  []CategoryStat             `json:"category_stats"`
	Trends         *Trends                    `json:"trends"`
}

// Totals returns the headline counts of the report.
func (o OverallStats) Totals() Totals {
	return Totals{
		AccessCount:    o.AccessCount,
		CompletedCount: o.CompletedCount,
		CTACount:       o.CTACount,
	}
}

// NewOverallStats sums per-channel counts into one report. Trends are left
// for the caller.
func NewOverallStats(perChannel map[string]*RawCounts, categories []CategoryCounts) OverallStats {
	sum := newRawCounts()
	for _, counts := range perChannel {
		sum.Merge(counts)
	}

	stats := OverallStats{
		AccessCount:    sum.AccessCount,
		CompletedCount: sum.CompletedCount,
		CompletionRate: Rate(sum.CompletedCount, sum.AccessCount),
		CTACount:       sum.CTACount,
		CTARate:        Rate(sum.CTACount, sum.CompletedCount),
		CTAByType:      sum.CTAByType,
		GenderByType:   sum.Gender,
		AgeRanges:      sum.FineAges,
		AccessByDate:   sum.AccessByDate(),
		CategoryStats:  make([]CategoryStat, 0, len(categories)),
	}
	for _, c := range categories {
		stats.CategoryStats = append(stats.CategoryStats, CategoryStat{
			Category: c.Category,
			Count:    c.Count,
			CTACount: c.CTACount,
			CTARate:  Rate(c.CTACount, c.Count),
		})
	}
	return stats
}
