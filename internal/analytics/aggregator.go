package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"qrclinic/internal/demographics"
	"qrclinic/internal/events"
	"qrclinic/internal/pkg/async"
	"qrclinic/internal/timeframe"
)

// MaxAccessDates is the number of most recent local days kept in the
// access histogram.
const MaxAccessDates = 10

// Uncategorized labels events that carry no result category.
const Uncategorized = "uncategorized"

// CTACounts counts CTA clicks per known type. Unknown types count as Other.
type CTACounts struct {
	Reservation int64 `json:"reservation"`
	Phone       int64 `json:"phone"`
	Line        int64 `json:"line"`
	Website     int64 `json:"website"`
	Map         int64 `json:"map"`
	Other       int64 `json:"other"`
}

func (c *CTACounts) Add(ctaType string, n int64) {
	switch ctaType {
	case events.CTAReservation:
		c.Reservation += n
	case events.CTAPhone:
		c.Phone += n
	case events.CTALine:
		c.Line += n
	case events.CTAWebsite:
		c.Website += n
	case events.CTAMap:
		c.Map += n
	default:
		c.Other += n
	}
}

func (c *CTACounts) Merge(o CTACounts) {
	c.Reservation += o.Reservation
	c.Phone += o.Phone
	c.Line += o.Line
	c.Website += o.Website
	c.Map += o.Map
	c.Other += o.Other
}

// RawCounts holds the undecorated counts for one channel (or a sum of
// channels) over one window.
type RawCounts struct {
	AccessCount    int64
	CompletedCount int64
	CTACount       int64
	CTAByType      CTACounts
	Gender         demographics.GenderCounts
	Ages           demographics.AgeRanges
	FineAges       demographics.FineAgeRanges
	dailyAccess    map[string]int64
}

func newRawCounts() *RawCounts {
	return &RawCounts{dailyAccess: make(map[string]int64)}
}

// Merge adds o into c.
func (c *RawCounts) Merge(o *RawCounts) {
	c.AccessCount += o.AccessCount
	c.CompletedCount += o.CompletedCount
	c.CTACount += o.CTACount
	c.CTAByType.Merge(o.CTAByType)
	c.Gender.Merge(o.Gender)
	c.Ages.Merge(o.Ages)
	c.FineAges.Merge(o.FineAges)
	if c.dailyAccess == nil {
		c.dailyAccess = make(map[string]int64)
	}
	for date, n := range o.dailyAccess {
		c.dailyAccess[date] += n
	}
}

// AccessByDate returns up to MaxAccessDates local days with access, most
// recent first.
func (c *RawCounts) AccessByDate() []timeframe.DateStat {
	stats := make([]timeframe.DateStat, 0, len(c.dailyAccess))
	for date, n := range c.dailyAccess {
		if n > 0 {
			stats = append(stats, timeframe.DateStat{Date: date, Count: int(n)})
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date > stats[j].Date })
	if len(stats) > MaxAccessDates {
		stats = stats[:MaxAccessDates]
	}
	return stats
}

// Totals are the three headline counts used for trends.
type Totals struct {
	AccessCount    int64
	CompletedCount int64
	CTACount       int64
}

// CategoryCounts counts completions and CTA clicks for one result category.
type CategoryCounts struct {
	Category string
	Count    int64
	CTACount int64
}

type dimension struct {
	name   string
	kind   events.Kind
	fields []events.Field
}

const (
	dimAccess             = "access"
	dimCompletion         = "completion"
	dimCTA                = "cta"
	dimCTAByType          = "cta_by_type"
	dimGender             = "gender"
	dimAge                = "age"
	dimAccessTimeline     = "access_timeline"
	dimCompletionCategory = "completion_category"
	dimCTACategory        = "cta_category"
)

var (
	channelDimensions = []dimension{
		{dimAccess, events.KindAccess, []events.Field{events.FieldChannelID}},
		{dimCompletion, events.KindCompletion, []events.Field{events.FieldChannelID}},
		{dimCTA, events.KindCTAClick, []events.Field{events.FieldChannelID}},
		{dimCTAByType, events.KindCTAClick, []events.Field{events.FieldChannelID, events.FieldCTAType}},
		{dimGender, events.KindCompletion, []events.Field{events.FieldChannelID, events.FieldUserGender}},
		{dimAge, events.KindCompletion, []events.Field{events.FieldChannelID, events.FieldUserAge}},
		{dimAccessTimeline, events.KindAccess, []events.Field{events.FieldChannelID, events.FieldQuarterHour}},
	}
	totalDimensions = []dimension{
		{dimAccess, events.KindAccess, []events.Field{events.FieldChannelID}},
		{dimCompletion, events.KindCompletion, []events.Field{events.FieldChannelID}},
		{dimCTA, events.KindCTAClick, []events.Field{events.FieldChannelID}},
	}
	categoryDimensions = []dimension{
		{dimCompletionCategory, events.KindCompletion, []events.Field{events.FieldResultCategory}},
		{dimCTACategory, events.KindCTAClick, []events.Field{events.FieldResultCategory}},
	}
)

// Aggregator pulls grouped counts from the event store, one query per
// dimension, in parallel on a worker pool.
type Aggregator struct {
	store  events.Store
	pool   *async.Pool
	loc    *time.Location
	logger *slog.Logger
}

func NewAggregator(store events.Store, pool *async.Pool, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		store:  store,
		pool:   pool,
		loc:    loc,
		logger: logger,
	}
}

// Channels returns raw counts for every channel in ids. Channels with no
// events are present with zero counts; an empty ids set runs no queries.
func (a *Aggregator) Channels(ctx context.Context, ids []string, window timeframe.Window) (map[string]*RawCounts, error) {
	out := initCounts(ids)
	if len(ids) == 0 {
		return out, nil
	}

	results, err := a.run(ctx, ids, window, channelDimensions)
	if err != nil {
		return nil, err
	}

	a.mergeChannelResults(out, results)
	return out, nil
}

// Totals returns the headline counts summed over ids.
func (a *Aggregator) Totals(ctx context.Context, ids []string, window timeframe.Window) (Totals, error) {
	if len(ids) == 0 {
		return Totals{}, nil
	}

	results, err := a.run(ctx, ids, window, totalDimensions)
	if err != nil {
		return Totals{}, err
	}

	out := initCounts(ids)
	a.mergeChannelResults(out, results)

	var totals Totals
	for _, c := range out {
		totals.AccessCount += c.AccessCount
		totals.CompletedCount += c.CompletedCount
		totals.CTACount += c.CTACount
	}
	return totals, nil
}

// Overall returns per-channel counts plus per-category counts, all fetched
// in one parallel batch.
func (a *Aggregator) Overall(ctx context.Context, ids []string, window timeframe.Window) (map[string]*RawCounts, []CategoryCounts, error) {
	out := initCounts(ids)
	if len(ids) == 0 {
		return out, []CategoryCounts{}, nil
	}

	dims := make([]dimension, 0, len(channelDimensions)+len(categoryDimensions))
	dims = append(dims, channelDimensions...)
	dims = append(dims, categoryDimensions...)

	results, err := a.run(ctx, ids, window, dims)
	if err != nil {
		return nil, nil, err
	}

	a.mergeChannelResults(out, results)
	return out, mergeCategories(results[dimCompletionCategory], results[dimCTACategory]), nil
}

func initCounts(ids []string) map[string]*RawCounts {
	out := make(map[string]*RawCounts, len(ids))
	for _, id := range ids {
		out[id] = newRawCounts()
	}
	return out
}

// run executes every dimension and fails if any one of them fails.
func (a *Aggregator) run(ctx context.Context, ids []string, window timeframe.Window, dims []dimension) (map[string][]events.GroupCount, error) {
	filter := events.Filter{ChannelIDs: ids, From: window.From, To: window.To}

	tasks := make([]async.Task, 0, len(dims))
	for _, dim := range dims {
		dim := dim
		tasks = append(tasks, async.Task{
			Name: dim.name,
			Execute: func(ctx context.Context) (interface{}, error) {
				return a.store.GroupCount(ctx, dim.kind, filter, dim.fields...)
			},
		})
	}

	results := a.pool.Execute(ctx, tasks)

	out := make(map[string][]events.GroupCount, len(dims))
	for _, dim := range dims {
		result, ok := results[dim.name]
		if !ok {
			return nil, fmt.Errorf("error fetching %s: no result", dim.name)
		}
		if result.Err != nil {
			a.logger.Error("Aggregation dimension failed",
				slog.String("dimension", dim.name),
				slog.Any("error", result.Err))
			return nil, fmt.Errorf("error fetching %s: %w", dim.name, result.Err)
		}
		rows, _ := result.Data.([]events.GroupCount)
		out[dim.name] = rows
	}
	return out, nil
}

// mergeChannelResults folds grouped rows into out. Rows for channels not in
// out are ignored.
func (a *Aggregator) mergeChannelResults(out map[string]*RawCounts, results map[string][]events.GroupCount) {
	for name, rows := range results {
		for _, row := range rows {
			c, ok := out[row.Key(0)]
			if !ok {
				continue
			}
			switch name {
			case dimAccess:
				c.AccessCount += row.Count
			case dimCompletion:
				c.CompletedCount += row.Count
			case dimCTA:
				c.CTACount += row.Count
			case dimCTAByType:
				c.CTAByType.Add(row.Key(1), row.Count)
			case dimGender:
				c.Gender.Add(row.Key(1), row.Count)
			case dimAge:
				if age, ok := demographics.ParseAge(row.Key(1)); ok {
					c.Ages.Add(age, row.Count)
					c.FineAges.Add(age, row.Count)
				}
			case dimAccessTimeline:
				bucket, err := time.ParseInLocation(events.BucketLayout, row.Key(1), time.UTC)
				if err != nil {
					a.logger.Warn("Skipping unparseable time bucket", slog.String("bucket", row.Key(1)))
					continue
				}
				c.dailyAccess[timeframe.LocalDate(bucket, a.loc)] += row.Count
			}
		}
	}
}

// mergeCategories joins completion and CTA counts by category, ordered by
// completion count descending then category name.
func mergeCategories(completions, clicks []events.GroupCount) []CategoryCounts {
	byCategory := make(map[string]*CategoryCounts)
	get := func(key string) *CategoryCounts {
		if key == "" {
			key = Uncategorized
		}
		c, ok := byCategory[key]
		if !ok {
			c = &CategoryCounts{Category: key}
			byCategory[key] = c
		}
		return c
	}

	for _, row := range completions {
		get(row.Key(0)).Count += row.Count
	}
	for _, row := range clicks {
		get(row.Key(0)).CTACount += row.Count
	}

	out := make([]CategoryCounts, 0, len(byCategory))
	for _, c := range byCategory {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}
