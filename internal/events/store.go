package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"qrclinic/internal/metrics"
)

// ErrStoreUnavailable wraps every failure of the underlying event store.
var ErrStoreUnavailable = errors.New("event store unavailable")

// Kind selects one of the three event streams.
type Kind string

const (
	KindAccess     Kind = "access"
	KindCompletion Kind = "completion"
	KindCTAClick   Kind = "cta_click"
)

// Field is a groupable column.
type Field string

const (
	FieldChannelID      Field = "channel_id"
	FieldCTAType        Field = "cta_type"
	FieldUserGender     Field = "user_gender"
	FieldUserAge        Field = "user_age"
	FieldResultCategory Field = "result_category"
	// FieldQuarterHour buckets by UTC quarter hour, formatted
	// "2006-01-02 15:04:00". Every zone offset in use is a multiple of 15
	// minutes, so each bucket falls on exactly one local date.
	FieldQuarterHour Field = "quarter_hour"
)

// BucketLayout is the layout of FieldQuarterHour keys.
const BucketLayout = "2006-01-02 15:04:05"

// Filter restricts a query to a channel set and a [From, To) window.
type Filter struct {
	ChannelIDs []string
	From       time.Time
	To         time.Time
}

// GroupCount is one row of a grouped count. Keys follow the order of the
// requested fields; NULL renders as "".
type GroupCount struct {
	Keys  []string
	Count int64
}

// Key returns the i-th group key or "".
func (g GroupCount) Key(i int) string {
	if i < 0 || i >= len(g.Keys) {
		return ""
	}
	return g.Keys[i]
}

// CompletionRow is a completed, non-demo completion event with the fields
// needed for geo and demographic rollups.
type CompletionRow struct {
	ChannelID  string
	Timestamp  time.Time
	UserAge    *int
	UserGender *string
	Latitude   *float64
	Longitude  *float64
	Region     string
	City       string
	Town       string
	IPAddress  string
}

// HasCoordinates reports whether both coordinates are present.
func (r CompletionRow) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Store is the query surface the stats engine reads events through.
type Store interface {
	GroupCount(ctx context.Context, kind Kind, filter Filter, groupBy ...Field) ([]GroupCount, error)
	CompletionRows(ctx context.Context, filter Filter) ([]CompletionRow, error)
}

type kindSpec struct {
	table  string
	fields map[Field]bool
}

var kinds = map[Kind]kindSpec{
	KindAccess: {
		table:  "access_events",
		fields: map[Field]bool{FieldChannelID: true, FieldQuarterHour: true},
	},
	KindCompletion: {
		table: "completion_events",
		fields: map[Field]bool{
			FieldChannelID: true, FieldUserGender: true, FieldUserAge: true,
			FieldResultCategory: true, FieldQuarterHour: true,
		},
	},
	KindCTAClick: {
		table: "cta_click_events",
		fields: map[Field]bool{
			FieldChannelID: true, FieldCTAType: true, FieldResultCategory: true, FieldQuarterHour: true,
		},
	},
}

// GormStore reads events from the application database.
type GormStore struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewGormStore creates a store backed by the given DB manager.
func NewGormStore(dbManager cartridge.DBManager, logger *slog.Logger) *GormStore {
	return &GormStore{
		dbManager: dbManager,
		logger:    logger,
		metrics:   metrics.Default(),
	}
}

var _ Store = (*GormStore)(nil)

// GroupCount counts events of the given kind grouped by the given fields.
func (s *GormStore) GroupCount(ctx context.Context, kind Kind, filter Filter, groupBy ...Field) (result []GroupCount, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStoreQuery(string(kind), "group_count", started, err) }()

	spec, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if len(filter.ChannelIDs) == 0 {
		return []GroupCount{}, nil
	}

	selects := make([]string, 0, len(groupBy)+1)
	aliases := make([]string, 0, len(groupBy))
	for i, field := range groupBy {
		if !spec.fields[field] {
			return nil, fmt.Errorf("field %q cannot be grouped for %s events", field, kind)
		}
		alias := fmt.Sprintf("k%d", i)
		selects = append(selects, fieldExpr(field)+" AS "+alias)
		aliases = append(aliases, alias)
	}
	selects = append(selects, "COUNT(*) AS total")

	query := s.scoped(ctx, kind, spec, filter).Select(strings.Join(selects, ", "))
	if len(aliases) > 0 {
		query = query.Group(strings.Join(aliases, ", "))
	}

	rows, err := query.Rows()
	if err != nil {
		return nil, s.unavailable(kind, "counting", err)
	}
	defer rows.Close()

	result = []GroupCount{}
	for rows.Next() {
		keys := make([]string, len(groupBy))
		var count int64
		dest := make([]any, 0, len(groupBy)+1)
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		dest = append(dest, &count)
		if err := rows.Scan(dest...); err != nil {
			return nil, s.unavailable(kind, "scanning", err)
		}
		result = append(result, GroupCount{Keys: keys, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable(kind, "reading", err)
	}

	return result, nil
}

// CompletionRows returns completed, non-demo completion rows in the filter.
func (s *GormStore) CompletionRows(ctx context.Context, filter Filter) (rows []CompletionRow, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStoreQuery(string(KindCompletion), "rows", started, err) }()

	if len(filter.ChannelIDs) == 0 {
		return []CompletionRow{}, nil
	}

	rows = []CompletionRow{}
	err = s.scoped(ctx, KindCompletion, kinds[KindCompletion], filter).
		Select("channel_id, timestamp, user_age, user_gender, latitude, longitude, region, city, town, ip_address").
		Order("timestamp ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, s.unavailable(KindCompletion, "loading rows", err)
	}
	return rows, nil
}

// scoped applies the channel and window filter plus the kind's exclusions.
func (s *GormStore) scoped(ctx context.Context, kind Kind, spec kindSpec, filter Filter) *gorm.DB {
	query := s.dbManager.GetConnection().WithContext(ctx).
		Table(spec.table).
		Where("channel_id IN ?", filter.ChannelIDs).
		Where("timestamp >= ? AND timestamp < ?", filter.From.UTC(), filter.To.UTC())

	switch kind {
	case KindAccess:
		query = query.Where("event_type <> ?", AccessTypePageView)
	case KindCompletion:
		query = query.Where("is_demo = ? AND completed_at IS NOT NULL", false)
	}
	return query
}

func (s *GormStore) unavailable(kind Kind, action string, err error) error {
	s.logger.Error("event store query failed",
		slog.String("kind", string(kind)),
		slog.String("action", action),
		slog.Any("error", err))
	return fmt.Errorf("%w: %s %s events: %w", ErrStoreUnavailable, action, kind, err)
}

func fieldExpr(field Field) string {
	if field == FieldQuarterHour {
		return "COALESCE(strftime('%Y-%m-%d %H:', timestamp) || " +
			"printf('%02d', (CAST(strftime('%M', timestamp) AS INTEGER) / 15) * 15) || ':00', '')"
	}
	return fmt.Sprintf("COALESCE(CAST(%s AS TEXT), '')", string(field))
}
