package chart

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// maxRange caps the number of candles a single request may ask for.
const maxRange = 600

// Window sizing for full-snapshot fetches, in lookback days. The yearly
// window is deliberately oversized and trimmed client-side.
const (
	daysPerMonth    = 31
	yearsWindowDays = 7300
)

// History fetches candle series from the historical-candle REST API. Only
// the output contract matters here; the HTTP plumbing lives elsewhere.
type History interface {
	// Fetch returns up to windowDays of candles at the given granularity,
	// oldest first.
	Fetch(ctx context.Context, code string, g Granularity, windowDays int) (*Series, error)

	// FetchSince returns intraday candles strictly after the given
	// date/time, oldest first.
	FetchSince(ctx context.Context, code, date, tm string) (*Series, error)
}

// Service is the cache-aside orchestrator between callers, the cache store,
// and the historical-candle client. Reads are permissive: invalid input and
// upstream failures degrade to the best available cached data or an empty
// tagged series, never a hard error.
type Service struct {
	store   Store
	history History
	logger  *logrus.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewService wires a chart service.
func NewService(store Store, history History, logger *logrus.Logger) *Service {
	return &Service{
		store:   store,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// GetChartData returns the candle series for (code, granularity, range).
// Minute series are extended incrementally from the last cached candle;
// other granularities are plain cache-aside with per-granularity TTLs.
func (s *Service) GetChartData(ctx context.Context, code string, g Granularity, rng int) *Series {
	if !g.Valid() || rng < 1 || rng > maxRange {
		s.logger.WithFields(logrus.Fields{
			"code":        code,
			"granularity": string(g),
			"range":       rng,
		}).Warn("Invalid chart request")
		return emptySeries(code, g, rng)
	}

	if g == GranularityMinute {
		return s.minuteSeries(ctx, code, rng)
	}
	return s.snapshotSeries(ctx, code, g, rng)
}

// minuteSeries serves the intraday path: extend the cached series with the
// tail fetched since its last candle, or bootstrap from the minute endpoint
// on miss.
func (s *Service) minuteSeries(ctx context.Context, code string, rng int) *Series {
	key := CacheKey(code, GranularityMinute, rng)

	cached, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.WithField("error", err).Warn("Chart cache read failed")
		found = false
	}

	if !found || len(cached.Candles) == 0 {
		return s.bootstrapMinute(ctx, code, rng, key)
	}

	last := cached.Candles[len(cached.Candles)-1]
	fresh, err := s.history.FetchSince(ctx, code, last.Date, last.Time)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"code": code, "error": err}).Warn("Intraday tail fetch failed, serving cached series")
		return cached
	}
	if fresh == nil || len(fresh.Candles) == 0 {
		return cached
	}

	// The cached slice is shared with concurrent readers of the same key, so
	// the merge must never extend its backing array in place.
	candles := make([]Candle, 0, len(cached.Candles)+len(fresh.Candles))
	candles = append(candles, cached.Candles...)
	candles = append(candles, fresh.Candles...)

	merged := &Series{
		Code:        code,
		Granularity: GranularityMinute,
		Range:       rng,
		Candles:     candles,
		LastUpdated: s.now(),
	}
	if err := s.store.Put(ctx, key, merged, 0); err != nil {
		s.logger.WithField("error", err).Warn("Chart cache write failed")
	}
	return merged
}

// bootstrapMinute seeds the intraday series from the minute endpoint,
// anchored at the start of the current session day. The snapshot path must
// stay out of this key space: a daily bar written under a minute key would
// never expire and would poison every later merge.
func (s *Service) bootstrapMinute(ctx context.Context, code string, rng int, key string) *Series {
	fresh, err := s.history.FetchSince(ctx, code, s.now().Format("20060102"), "000000")
	if err != nil {
		s.logger.WithFields(logrus.Fields{"code": code, "error": err}).Warn("Intraday bootstrap fetch failed")
		return emptySeries(code, GranularityMinute, rng)
	}

	var candles []Candle
	if fresh != nil {
		candles = fresh.Candles
	}
	if len(candles) > rng {
		candles = candles[len(candles)-rng:]
	}

	series := &Series{
		Code:        code,
		Granularity: GranularityMinute,
		Range:       rng,
		Candles:     candles,
		LastUpdated: s.now(),
	}
	if len(candles) == 0 {
		return series
	}

	if err := s.store.Put(ctx, key, series, 0); err != nil {
		s.logger.WithField("error", err).Warn("Chart cache write failed")
	}
	return series
}

// snapshotSeries serves daily/monthly/yearly reads cache-aside.
func (s *Service) snapshotSeries(ctx context.Context, code string, g Granularity, rng int) *Series {
	key := CacheKey(code, g, rng)

	cached, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.WithField("error", err).Warn("Chart cache read failed")
	} else if found && len(cached.Candles) > 0 {
		return cached
	}

	return s.fetchAndCache(ctx, code, g, rng, key)
}

// fetchAndCache pulls a full snapshot, trims it to the requested number of
// most-recent candles, and caches it. Empty fetch results are returned but
// never cached, so a transient upstream failure cannot masquerade as valid
// empty history.
func (s *Service) fetchAndCache(ctx context.Context, code string, g Granularity, rng int, key string) *Series {
	fetched, err := s.history.Fetch(ctx, code, g, fetchWindowDays(g, rng))
	if err != nil {
		s.logger.WithFields(logrus.Fields{"code": code, "granularity": string(g), "error": err}).Warn("Snapshot fetch failed")
		return emptySeries(code, g, rng)
	}

	var candles []Candle
	if fetched != nil {
		candles = fetched.Candles
	}
	if len(candles) > rng {
		candles = candles[len(candles)-rng:]
	}

	series := &Series{
		Code:        code,
		Granularity: g,
		Range:       rng,
		Candles:     candles,
		LastUpdated: s.now(),
	}
	if len(candles) == 0 {
		return series
	}

	if err := s.store.Put(ctx, key, series, g.TTL()); err != nil {
		s.logger.WithField("error", err).Warn("Chart cache write failed")
	}
	return series
}

// fetchWindowDays sizes the snapshot lookback per granularity.
func fetchWindowDays(g Granularity, rng int) int {
	switch g {
	case GranularityMonth:
		return rng * daysPerMonth
	case GranularityYear:
		return yearsWindowDays
	default:
		return rng
	}
}

// DeleteCache drops the cached series for one key. It has no other side
// effects.
func (s *Service) DeleteCache(ctx context.Context, code string, g Granularity, rng int) error {
	return s.store.Delete(ctx, CacheKey(code, g, rng))
}
