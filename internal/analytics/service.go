package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"qrclinic/internal/cache"
	"qrclinic/internal/channels"
	"qrclinic/internal/events"
	"qrclinic/internal/geo"
	"qrclinic/internal/metrics"
	"qrclinic/internal/pkg/async"
	"qrclinic/internal/timeframe"
)

// Operation names, used for metrics labels and cache keys.
const (
	OpChannelStats         = "channel_stats"
	OpOverallStats         = "overall_stats"
	OpLocationAggregates   = "location_aggregates"
	OpLocationDemographics = "location_demographics"
)

// DefaultWorkers matches the number of per-channel dimensions.
const DefaultWorkers = 7

// ChannelDirectory looks up channel configuration.
type ChannelDirectory interface {
	ChannelsByIDs(ctx context.Context, ids []string) (map[string]channels.Channel, error)
}

// ClinicLocator exposes the clinic settings that shape location reports.
type ClinicLocator interface {
	ClinicCenter(ctx context.Context) (*geo.Coordinate, error)
	ExcludedIPs(ctx context.Context) ([]string, error)
}

// ReportCache stores assembled reports. Get returns cache.ErrCacheMiss
// when the key is absent.
type ReportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Dependencies wires a Service. Store is required; everything else is
// optional.
type Dependencies struct {
	Store    events.Store
	Channels ChannelDirectory
	Clinic   ClinicLocator
	Cache    ReportCache
	CacheTTL time.Duration
	Periods  *timeframe.Resolver
	Pool     *async.Pool
	Places   geo.PlaceResolver
	Logger   *slog.Logger
}

// Service assembles dashboard reports from raw events.
type Service struct {
	store      events.Store
	channels   ChannelDirectory
	clinic     ClinicLocator
	cache      ReportCache
	cacheTTL   time.Duration
	periods    *timeframe.Resolver
	aggregator *Aggregator
	places     geo.PlaceResolver
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	periods := deps.Periods
	if periods == nil {
		periods = timeframe.NewResolver(time.UTC)
	}
	pool := deps.Pool
	if pool == nil {
		pool = async.NewPool(DefaultWorkers)
	}

	return &Service{
		store:      deps.Store,
		channels:   deps.Channels,
		clinic:     deps.Clinic,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		periods:    periods,
		aggregator: NewAggregator(deps.Store, pool, periods.Location(), logger),
		places:     deps.Places,
		logger:     logger,
		metrics:    metrics.Default(),
	}
}

// GetChannelStats returns stats for every requested channel, including
// channels without events.
func (s *Service) GetChannelStats(ctx context.Context, ids []string, spec timeframe.PeriodSpec) (result map[string]ChannelStats, err error) {
	defer s.observe(OpChannelStats, time.Now(), &err)

	ids = NormalizeChannelIDs(ids)
	period, err := s.periods.Resolve(spec)
	if err != nil {
		return nil, err
	}

	return cached(ctx, s, OpChannelStats, s.cacheKey(OpChannelStats, ids, spec, period), func() (map[string]ChannelStats, error) {
		counts, err := s.aggregator.Channels(ctx, ids, period.Current)
		if err != nil {
			return nil, err
		}

		known, err := s.lookupChannels(ctx, ids)
		if err != nil {
			return nil, err
		}

		out := make(map[string]ChannelStats, len(ids))
		for _, id := range ids {
			var channel *channels.Channel
			if c, ok := known[id]; ok {
				channel = &c
			}
			out[id] = NewChannelStats(counts[id], channel)
		}
		return out, nil
	})
}

// GetOverallStats returns the cross-channel report. The current period must
// aggregate fully; a failed previous period only drops the trends.
func (s *Service) GetOverallStats(ctx context.Context, ids []string, spec timeframe.PeriodSpec) (result OverallStats, err error) {
	defer s.observe(OpOverallStats, time.Now(), &err)

	ids = NormalizeChannelIDs(ids)
	period, err := s.periods.Resolve(spec)
	if err != nil {
		return OverallStats{}, err
	}

	return cached(ctx, s, OpOverallStats, s.cacheKey(OpOverallStats, ids, spec, period), func() (OverallStats, error) {
		var (
			perChannel map[string]*RawCounts
			categories []CategoryCounts
			previous   Totals
			prevErr    error
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			perChannel, categories, err = s.aggregator.Overall(gctx, ids, period.Current)
			return err
		})
		if period.HasPrevious() {
			g.Go(func() error {
				previous, prevErr = s.aggregator.Totals(gctx, ids, *period.Previous)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return OverallStats{}, err
		}

		stats := NewOverallStats(perChannel, categories)
		switch {
		case !period.HasPrevious():
			trends := AllNewTrends()
			stats.Trends = &trends
		case prevErr != nil:
			s.logger.Warn("Omitting trends: previous period aggregation failed",
				slog.String("period", string(period.Label)),
				slog.Any("error", prevErr))
			s.metrics.TrendsOmitted.Inc()
		default:
			trends := CompareTotals(stats.Totals(), previous)
			stats.Trends = &trends
		}
		return stats, nil
	})
}

// GetLocationAggregates rolls completions up by place.
func (s *Service) GetLocationAggregates(ctx context.Context, ids []string, spec timeframe.PeriodSpec) (result LocationAggregates, err error) {
	defer s.observe(OpLocationAggregates, time.Now(), &err)

	ids = NormalizeChannelIDs(ids)
	period, err := s.periods.Resolve(spec)
	if err != nil {
		return LocationAggregates{}, err
	}

	return cached(ctx, s, OpLocationAggregates, s.cacheKey(OpLocationAggregates, ids, spec, period), func() (LocationAggregates, error) {
		center, err := s.clinicCenter(ctx)
		if err != nil {
			return LocationAggregates{}, err
		}
		if len(ids) == 0 {
			return emptyLocationAggregates(center), nil
		}

		rows, err := s.store.CompletionRows(ctx, events.Filter{ChannelIDs: ids, From: period.Current.From, To: period.Current.To})
		if err != nil {
			return LocationAggregates{}, fmt.Errorf("error fetching locations: %w", err)
		}

		aggregator, err := s.geoAggregator(ctx)
		if err != nil {
			return LocationAggregates{}, err
		}
		rollup := aggregator.Aggregate(rows)

		return LocationAggregates{
			Places:       rollup.Places,
			Total:        rollup.Total,
			ClinicCenter: center,
			Hotspot:      rollup.Hotspot,
		}, nil
	})
}

// GetLocationDemographics breaks down completions in one place. A nil or
// empty town selects the whole city.
func (s *Service) GetLocationDemographics(ctx context.Context, region, city, town *string, ids []string, spec timeframe.PeriodSpec) (result LocationDemographics, err error) {
	defer s.observe(OpLocationDemographics, time.Now(), &err)

	if region == nil || city == nil || geo.NormalizeName(*region) == "" || geo.NormalizeName(*city) == "" {
		return LocationDemographics{}, fmt.Errorf("%w: region and city are required", ErrInvalidLocation)
	}

	ids = NormalizeChannelIDs(ids)
	period, err := s.periods.Resolve(spec)
	if err != nil {
		return LocationDemographics{}, err
	}

	place := geo.NewPlace(*region, *city, "")
	if town != nil {
		place.Town = geo.NormalizeName(*town)
	}
	key := s.cacheKey(OpLocationDemographics, ids, spec, period) + ":" + place.Key()

	return cached(ctx, s, OpLocationDemographics, key, func() (LocationDemographics, error) {
		if len(ids) == 0 {
			return LocationDemographics{}, nil
		}

		rows, err := s.store.CompletionRows(ctx, events.Filter{ChannelIDs: ids, From: period.Current.From, To: period.Current.To})
		if err != nil {
			return LocationDemographics{}, fmt.Errorf("error fetching location demographics: %w", err)
		}

		aggregator, err := s.geoAggregator(ctx)
		if err != nil {
			return LocationDemographics{}, err
		}
		return summarizeDemographics(aggregator.Filter(rows, place.Region, place.City, town)), nil
	})
}

func (s *Service) lookupChannels(ctx context.Context, ids []string) (map[string]channels.Channel, error) {
	if s.channels == nil || len(ids) == 0 {
		return map[string]channels.Channel{}, nil
	}
	known, err := s.channels.ChannelsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("error fetching channels: %w", err)
	}
	return known, nil
}

func (s *Service) clinicCenter(ctx context.Context) (*geo.Coordinate, error) {
	if s.clinic == nil {
		return nil, nil
	}
	center, err := s.clinic.ClinicCenter(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching clinic center: %w", err)
	}
	return center, nil
}

// geoAggregator builds a per-request aggregator carrying the current
// excluded IP list.
func (s *Service) geoAggregator(ctx context.Context) (*geo.Aggregator, error) {
	opts := make([]geo.Option, 0, 2)
	if s.places != nil {
		opts = append(opts, geo.WithResolver(s.places))
	}
	if s.clinic != nil {
		ips, err := s.clinic.ExcludedIPs(ctx)
		if err != nil {
			return nil, fmt.Errorf("error fetching excluded ips: %w", err)
		}
		if len(ips) > 0 {
			excluded := make(map[string]struct{}, len(ips))
			for _, ip := range ips {
				excluded[strings.TrimSpace(ip)] = struct{}{}
			}
			opts = append(opts, geo.WithExclusion(func(ip string) bool {
				_, ok := excluded[strings.TrimSpace(ip)]
				return ok
			}))
		}
	}
	return geo.NewAggregator(s.logger, opts...), nil
}

// cacheKey identifies a report by operation, channel set and window start.
// The window end is always "now" for keyword periods, so it is left out and
// the TTL bounds staleness.
func (s *Service) cacheKey(op string, ids []string, spec timeframe.PeriodSpec, period *timeframe.Period) string {
	return fmt.Sprintf("stats:%s:%s:%s:%d", op, strings.Join(ids, ","), spec.CacheKey(), period.Current.From.Unix())
}

func (s *Service) observe(op string, started time.Time, err *error) {
	s.metrics.ObserveReport(op, started, *err)
}

// cached serves a report from the cache when possible. Cache failures are
// logged and never fail the request.
func cached[T any](ctx context.Context, s *Service, op, key string, compute func() (T, error)) (T, error) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return compute()
	}

	var out T
	err := s.cache.Get(ctx, key, &out)
	switch {
	case err == nil:
		s.metrics.CacheHit(op, true)
		return out, nil
	case errors.Is(err, cache.ErrCacheMiss):
		s.metrics.CacheHit(op, false)
	default:
		s.metrics.CacheHit(op, false)
		s.logger.Warn("Report cache lookup failed", slog.String("key", key), slog.Any("error", err))
	}

	out, err = compute()
	if err != nil {
		return out, err
	}
	if err := s.cache.Set(ctx, key, out, s.cacheTTL); err != nil {
		s.logger.Warn("Report cache store failed", slog.String("key", key), slog.Any("error", err))
	}
	return out, nil
}
