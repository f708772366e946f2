package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"qrclinic/internal/channels"
	"qrclinic/internal/demographics"
	"qrclinic/internal/timeframe"
)

const (
	adDateLayout  = "2006/01/02"
	periodJoiner  = "〜"
	noEndDateText = "no end date"
)

var hundred = decimal.NewFromInt(100)

// Rate returns num/den as a percentage rounded to one decimal, or 0 when den
// is not positive.
func Rate(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return decimal.NewFromInt(num).
		Mul(hundred).
		Div(decimal.NewFromInt(den)).
		Round(1).
		InexactFloat64()
}

// roundedQuotient returns round(num/den) in whole units.
func roundedQuotient(num, den int64) int64 {
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Round(0).IntPart()
}

// costPer returns a pointer to round(budget/n), nil when n is zero.
func costPer(budget, n int64) *int64 {
	if n <= 0 {
		return nil
	}
	v := roundedQuotient(budget, n)
	return &v
}

// AdEfficiency is present on a channel only when it has a positive budget.
type AdEfficiency struct {
	AdBudget    int64  `json:"ad_budget"`
	AdDays      *int64 `json:"ad_days"`
	DailyCost   *int64 `json:"daily_cost"`
	CPA         *int64 `json:"cpa"`
	CPD         *int64 `json:"cpd"`
	CPC         *int64 `json:"cpc"`
	PeriodLabel string `json:"period_label"`
}

// ChannelStats is the per-channel report.
type ChannelStats struct {
	AccessCount    int64                     `json:"access_count"`
	CompletedCount int64                     `json:"completed_count"`
	CompletionRate float64                   `json:"completion_rate"`
	CTACount       int64                     `json:"cta_count"`
	CTARate        float64                   `json:"cta_rate"`
	CTAByType      CTACounts                 `json:"cta_by_type"`
	GenderByType   demographics.GenderCounts `json:"gender_by_type"`
	AgeRanges      demographics.AgeRanges    `json:"age_ranges"`
	AccessByDate   []timeframe.DateStat      `json:"access_by_date"`
	*AdEfficiency
}

// AdDays counts the inclusive calendar days between the ad dates, at least
// one. Returns nil unless both dates are set.
func AdDays(start, end *time.Time) *int64 {
	if start == nil || end == nil {
		return nil
	}
	hours := decimal.NewFromFloat(end.Sub(*start).Hours())
	days := hours.Div(decimal.NewFromInt(24)).Ceil().IntPart() + 1
	if days < 1 {
		days = 1
	}
	return &days
}

// PeriodLabel formats the ad run for display.
func PeriodLabel(start, end *time.Time) string {
	switch {
	case start == nil && end == nil:
		return noEndDateText
	case end == nil:
		return start.Format(adDateLayout) + periodJoiner
	case start == nil:
		return periodJoiner + end.Format(adDateLayout)
	default:
		return start.Format(adDateLayout) + periodJoiner + end.Format(adDateLayout)
	}
}

// NewAdEfficiency derives cost metrics for a channel. Returns nil when the
// channel has no ad budget.
func NewAdEfficiency(channel channels.Channel, counts *RawCounts) *AdEfficiency {
	if !channel.HasAdSpend() {
		return nil
	}

	eff := &AdEfficiency{
		AdBudget:    channel.AdBudget,
		AdDays:      AdDays(channel.AdStartDate, channel.AdEndDate),
		CPA:         costPer(channel.AdBudget, counts.AccessCount),
		CPD:         costPer(channel.AdBudget, counts.CompletedCount),
		CPC:         costPer(channel.AdBudget, counts.CTACount),
		PeriodLabel: PeriodLabel(channel.AdStartDate, channel.AdEndDate),
	}
	if eff.AdDays != nil {
		eff.DailyCost = costPer(channel.AdBudget, *eff.AdDays)
	}
	return eff
}

// NewChannelStats decorates raw counts with rates and, when the channel is
// known and has a budget, ad efficiency.
func NewChannelStats(counts *RawCounts, channel *channels.Channel) ChannelStats {
	stats := ChannelStats{
		AccessCount:    counts.AccessCount,
		CompletedCount: counts.CompletedCount,
		CompletionRate: Rate(counts.CompletedCount, counts.AccessCount),
		CTACount:       counts.CTACount,
		CTARate:        Rate(counts.CTACount, counts.CompletedCount),
		CTAByType:      counts.CTAByType,
		GenderByType:   counts.Gender,
		AgeRanges:      counts.Ages,
		AccessByDate:   counts.AccessByDate(),
	}
	if channel != nil {
		stats.AdEfficiency = NewAdEfficiency(*channel, counts)
	}
	return stats
}
