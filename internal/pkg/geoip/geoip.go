package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"qrclinic/internal/config"
	"qrclinic/internal/geo"
	"qrclinic/internal/metrics"
)

// HomeCountry is the ISO code whose subdivisions are reported as regions.
// Visitors from elsewhere get their country name as the region.
const HomeCountry = "JP"

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 City database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	path := config.GetConfig().GetGeoDBPath()
	if _, err := os.Stat(path); err != nil {
		if logger != nil {
			logger.Info("GeoLite2 database not available - place lookups disabled",
				slog.String("path", path),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", path),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized", slog.String("path", path))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the GeoLite2 database from disk.
func ReloadGeoDB() {
	// a later GetGeoDB must not open a second reader
	once.Do(func() {})

	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()
}

// Resolver resolves places from IP addresses.
type Resolver struct {
	reader    *geoip2.Reader
	countries *gountries.Query
}

// DefaultResolver returns a resolver over the shared database. Lookups see
// the database installed by the latest ReloadGeoDB and miss while none is
// available.
func DefaultResolver() geo.PlaceResolver {
	return &sharedResolver{countries: gountries.New()}
}

type sharedResolver struct {
	countries *gountries.Query
}

func (s *sharedResolver) LookupPlace(ip string) (geo.Place, bool) {
	if GetGeoDB() == nil {
		return geo.Place{}, false
	}

	// hold the read lock so a reload cannot close the reader mid-lookup
	mu.RLock()
	defer mu.RUnlock()
	r := Resolver{reader: geoDB, countries: s.countries}
	return r.LookupPlace(ip)
}

func NewResolver(reader *geoip2.Reader) *Resolver {
	return &Resolver{
		reader:    reader,
		countries: gountries.New(),
	}
}

// LookupPlace implements geo.PlaceResolver. Only region and city are
// resolved; IP data is never precise enough for a town.
func (r *Resolver) LookupPlace(ip string) (geo.Place, bool) {
	m := metrics.Default()

	parsed := net.ParseIP(ip)
	if parsed == nil || r.reader == nil {
		m.GeoIPLookups.WithLabelValues("invalid").Inc()
		return geo.Place{}, false
	}

	record, err := r.reader.City(parsed)
	if err != nil {
		if logger != nil {
			logger.Debug("GeoIP lookup failed", slog.String("ip", ip), slog.Any("error", err))
		}
		m.GeoIPLookups.WithLabelValues("error").Inc()
		return geo.Place{}, false
	}

	var region string
	if record.Country.IsoCode == HomeCountry {
		if len(record.Subdivisions) > 0 {
			region = localName(record.Subdivisions[0].Names)
		}
	} else {
		region = r.countryName(record.Country.IsoCode)
	}
	city := localName(record.City.Names)

	place := geo.NewPlace(region, city, "")
	if !place.Placeable() {
		m.GeoIPLookups.WithLabelValues("miss").Inc()
		return geo.Place{}, false
	}
	m.GeoIPLookups.WithLabelValues("hit").Inc()
	return place, true
}

func (r *Resolver) countryName(isoCode string) string {
	if isoCode == "" {
		return ""
	}
	country, err := r.countries.FindCountryByAlpha(isoCode)
	if err != nil {
		return cases.Upper(language.Und).String(isoCode)
	}
	return country.Name.Common
}

func localName(names map[string]string) string {
	if name := names["ja"]; name != "" {
		return name
	}
	return names["en"]
}
