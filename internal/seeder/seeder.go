// Package seeder fills a database with demo channels and visitor activity
// so the dashboards have something to show.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"qrclinic/internal/channels"
	"qrclinic/internal/events"
	"qrclinic/internal/quiz"
	"qrclinic/internal/settings"
)

const insertBatchSize = 500

// Seeder handles the data seeding process.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	// EventCount is the number of access events per channel.
	EventCount int
	// Days spreads events over this many days back from now.
	Days int
	rng  *rand.Rand
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
		Days:       60,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 42)),
	}
}

// demoPatterns are the result screens of the demo quiz.
var demoPatterns = []quiz.Pattern{
	{Category: "whitening", Title: "ホワイトニングがおすすめ", MinScore: 0, MaxScore: 3},
	{Category: "orthodontics", Title: "矯正相談がおすすめ", MinScore: 4, MaxScore: 6},
	{Category: "checkup", Title: "定期検診がおすすめ", MinScore: 7, MaxScore: 9},
	{Category: "implant", Title: "インプラント相談がおすすめ", MinScore: 10, MaxScore: 12},
}

var demoQuestions = []string{"q1", "q2", "q3", "q4"}

type demoPlace struct {
	region, city, town string
	lat, lng           float64
}

var demoPlaces = []demoPlace{
	{"東京都", "渋谷区", "神宮前", 35.6702, 139.7027},
	{"東京都", "渋谷区", "代々木", 35.6830, 139.7020},
	{"東京都", "新宿区", "西新宿", 35.6896, 139.6917},
	{"東京都", "港区", "", 35.6581, 139.7516},
	{"神奈川県", "横浜市", "", 35.4437, 139.6380},
}

type demoChannel struct {
	id, name, placement string
	budget              int64
	adDays              int
	// weight scales EventCount, in percent
	weight              int
}

var demoChannels = []demoChannel{
	{id: "flyer", name: "駅前チラシ", placement: "渋谷駅前", budget: 50000, adDays: 30, weight: 100},
	{id: "station_ad", name: "駅看板", placement: "新宿駅", budget: 120000, adDays: 45, weight: 140},
	{id: "instagram", name: "Instagram広告", budget: 30000, adDays: 14, weight: 80},
	{id: "website", name: "公式サイト", weight: 60},
}

// Run executes the seeding process
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount))

	if err := quiz.Validate(demoPatterns); err != nil {
		return fmt.Errorf("invalid demo quiz: %w", err)
	}

	seeded, err := s.seedChannels()
	if err != nil {
		return fmt.Errorf("failed to seed channels: %w", err)
	}

	if err := s.seedClinic(); err != nil {
		return fmt.Errorf("failed to seed clinic settings: %w", err)
	}

	for _, channel := range seeded {
		s.Logger.Info("Generating data for channel", slog.String("channel", channel.def.id))
		if err := s.generateChannelData(ctx, channel); err != nil {
			return fmt.Errorf("failed to generate data for %s: %w", channel.def.id, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

type seededChannel struct {
	def     demoChannel
	channel channels.Channel
}

// seedChannels creates the demo channels, keeping any that already exist
func (s *Seeder) seedChannels() ([]seededChannel, error) {
	db := s.DBManager.GetConnection()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	out := make([]seededChannel, 0, len(demoChannels))
	for _, def := range demoChannels {
		existing, err := channels.GetChannelByID(db, def.id)
		if err == nil {
			s.Logger.Info("Channel already exists", slog.String("channel", def.id))
			out = append(out, seededChannel{def: def, channel: *existing})
			continue
		}
		var notFound *channels.ChannelNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}

		channel := channels.Channel{
			ID:          def.id,
			Name:        def.name,
			Active:      true,
			AdBudget:    def.budget,
			AdPlacement: def.placement,
		}
		if def.adDays > 0 {
			startDate := today.AddDate(0, 0, -def.adDays)
			endDate := today
			channel.AdStartDate = &startDate
			channel.AdEndDate = &endDate
		}

		err = sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
			return channels.CreateChannel(tx, &channel)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create channel %s: %w", def.id, err)
		}

		s.Logger.Info("Channel created successfully", slog.String("channel", channel.ID))
		out = append(out, seededChannel{def: def, channel: channel})
	}
	return out, nil
}

func (s *Seeder) seedClinic() error {
	db := s.DBManager.GetConnection()
	if err := settings.SetClinicCenter(db, 35.6620, 139.7038); err != nil {
		return err
	}
	return settings.SetExcludedIPs(db, []string{"192.0.2.10"})
}

// generateChannelData writes access, completion and CTA events following a
// simple funnel: some visitors start the quiz, fewer finish, fewer click.
func (s *Seeder) generateChannelData(ctx context.Context, seeded seededChannel) error {
	db := s.DBManager.GetConnection()
	now := time.Now().UTC()
	target := s.EventCount * seeded.def.weight / 100

	var (
		access      []events.AccessEvent
		completions []events.CompletionEvent
		clicks      []events.CTAClickEvent
	)

	for i := 0; i < target; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ts := s.randomTime(now)
		eventType := events.AccessTypeQRScan
		if seeded.def.id == "website" || s.rng.IntN(5) == 0 {
			eventType = events.AccessTypeLink
		}
		access = append(access, events.AccessEvent{ChannelID: seeded.channel.ID, EventType: eventType, Timestamp: ts, CreatedAt: now})

		// landing page views never count as access
		if s.rng.IntN(4) == 0 {
			access = append(access, events.AccessEvent{ChannelID: seeded.channel.ID, EventType: events.AccessTypePageView, Timestamp: ts, CreatedAt: now})
		}

		if s.rng.Float64() > 0.45 {
			continue
		}
		completion, pattern := s.completion(seeded.channel.ID, ts, now)
		completions = append(completions, completion)

		if completion.CompletedAt != nil && s.rng.Float64() < 0.35 {
			clicks = append(clicks, events.CTAClickEvent{
				ChannelID:      seeded.channel.ID,
				CTAType:        s.ctaType(),
				ResultCategory: pattern.Category,
				Timestamp:      completion.CompletedAt.Add(30 * time.Second),
				CreatedAt:      now,
			})
		}
	}

	// a few demo sessions that stats must ignore
	for i := 0; i < 3; i++ {
		completion, _ := s.completion(seeded.channel.ID, s.randomTime(now), now)
		completion.IsDemo = true
		completions = append(completions, completion)
	}

	return sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
		if len(access) > 0 {
			if err := tx.CreateInBatches(access, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert access events: %w", err)
			}
		}
		if err := tx.CreateInBatches(completions, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert completion events: %w", err)
		}
		if len(clicks) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(clicks, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert cta clicks: %w", err)
		}
		return nil
	})
}

func (s *Seeder) completion(channelID string, ts, now time.Time) (events.CompletionEvent, quiz.Pattern) {
	session := quiz.NewSession(strconv.FormatInt(ts.UnixNano(), 36))
	for _, q := range demoQuestions {
		session.Answer(q, s.rng.IntN(4))
	}
	pattern, _ := session.Result(demoPatterns)

	event := events.CompletionEvent{
		ChannelID: channelID,
		Timestamp: ts,
		Score:     session.Score(),
		IPAddress: fmt.Sprintf("203.0.113.%d", s.rng.IntN(254)+1),
		CreatedAt: now,
	}

	// about a fifth of sessions are abandoned before the result screen
	if s.rng.IntN(5) == 0 {
		return event, pattern
	}
	completedAt := ts.Add(time.Duration(s.rng.IntN(180)+30) * time.Second)
	event.CompletedAt = &completedAt
	event.ResultCategory = pattern.Category

	if s.rng.IntN(10) > 0 {
		gender := []string{events.GenderFemale, events.GenderMale, events.GenderOther}[s.rng.IntN(3)]
		event.UserGender = &gender
	}
	if s.rng.IntN(10) > 0 {
		age := 12 + s.rng.IntN(70)
		event.UserAge = &age
	}

	place := demoPlaces[s.rng.IntN(len(demoPlaces))]
	event.Region, event.City, event.Town = place.region, place.city, place.town
	if s.rng.IntN(3) > 0 {
		lat := place.lat + (s.rng.Float64()-0.5)*0.01
		lng := place.lng + (s.rng.Float64()-0.5)*0.01
		event.Latitude, event.Longitude = &lat, &lng
	}
	return event, pattern
}

func (s *Seeder) ctaType() string {
	types := []string{events.CTAReservation, events.CTAReservation, events.CTAPhone, events.CTALine, events.CTAWebsite, events.CTAMap, "instagram"}
	return types[s.rng.IntN(len(types))]
}

func (s *Seeder) randomTime(now time.Time) time.Time {
	days := s.Days
	if days <= 0 {
		days = 1
	}
	return now.Add(-time.Duration(s.rng.Int64N(int64(days) * int64(24*time.Hour))))
}
