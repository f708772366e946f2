package analytics

import (
	"github.com/shopspring/decimal"
)

// Trend is the change of a metric against the previous period. Value is
// absent when the metric is new.
type Trend struct {
	Value *float64 `json:"value,omitempty"`
	IsNew bool     `json:"is_new"`
}

// Trends compares the headline counts.
type Trends struct {
	AccessCount    Trend `json:"access_count"`
	CompletedCount Trend `json:"completed_count"`
	CTACount       Trend `json:"cta_count"`
}

// CalculateTrend returns the signed percent change from previous to
// current, rounded to one decimal.
func CalculateTrend(current, previous int64) Trend {
	if previous == 0 {
		if current > 0 {
			return Trend{IsNew: true}
		}
		zero := 0.0
		return Trend{Value: &zero}
	}

	prev := decimal.NewFromInt(previous)
	v := decimal.NewFromInt(current).
		Sub(prev).
		Div(prev).
		Mul(hundred).
		Round(1).
		InexactFloat64()
	return Trend{Value: &v}
}

// CompareTotals builds trends for every headline count.
func CompareTotals(current, previous Totals) Trends {
	return Trends{
		AccessCount:    CalculateTrend(current.AccessCount, previous.AccessCount),
		CompletedCount: CalculateTrend(current.CompletedCount, previous.CompletedCount),
		CTACount:       CalculateTrend(current.CTACount, previous.CTACount),
	}
}

// AllNewTrends is used when there is no previous period.
func AllNewTrends() Trends {
	return Trends{
		AccessCount:    Trend{IsNew: true},
		CompletedCount: Trend{IsNew: true},
		CTACount:       Trend{IsNew: true},
	}
}
