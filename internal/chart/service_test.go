package chart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeHistory returns canned series and records call counts.
type fakeHistory struct {
	fetchCalls int
	sinceCalls int

	fetchResult *Series
	fetchErr    error
	sinceResult *Series
	sinceErr    error

	lastWindowDays int
	lastSinceDate  string
	lastSinceTime  string
}

func (f *fakeHistory) Fetch(ctx context.Context, code string, g Granularity, windowDays int) (*Series, error) {
	f.fetchCalls++
	f.lastWindowDays = windowDays
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchResult, nil
}

func (f *fakeHistory) FetchSince(ctx context.Context, code, date, tm string) (*Series, error) {
	f.sinceCalls++
	f.lastSinceDate = date
	f.lastSinceTime = tm
	if f.sinceErr != nil {
		return nil, f.sinceErr
	}
	return f.sinceResult, nil
}

// recordingStore wraps MemoryStore and records Put TTLs.
type recordingStore struct {
	*MemoryStore
	puts    int
	lastTTL time.Duration
}

func (r *recordingStore) Put(ctx context.Context, key string, series *Series, ttl time.Duration) error {
	r.puts++
	r.lastTTL = ttl
	return r.MemoryStore.Put(ctx, key, series, ttl)
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: NewMemoryStore()}
}

func dayCandles(n int) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		candles[i] = Candle{
			Date:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("20060102"),
			Open:   1000 + int64(i),
			High:   1010 + int64(i),
			Low:    990 + int64(i),
			Close:  1005 + int64(i),
			Volume: 100,
		}
	}
	return candles
}

func TestDailyMissFetchesOnceAndCachesWithHourTTL(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{fetchResult: &Series{Candles: dayCandles(30)}}
	svc := NewService(store, history, testLogger())

	series := svc.GetChartData(context.Background(), "005930", GranularityDay, 30)

	if history.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want 1", history.fetchCalls)
	}
	if history.lastWindowDays != 30 {
		t.Errorf("window days = %d, want 30", history.lastWindowDays)
	}
	if store.puts != 1 {
		t.Errorf("cache writes = %d, want 1", store.puts)
	}
	if store.lastTTL != time.Hour {
		t.Errorf("daily TTL = %v, want 1h", store.lastTTL)
	}
	if len(series.Candles) != 30 {
		t.Errorf("series length = %d, want 30", len(series.Candles))
	}
	if series.Code != "005930" || series.Granularity != GranularityDay || series.Range != 30 {
		t.Errorf("series tags = %+v", series)
	}

	// Second read is a cache hit: no additional fetch.
	svc.GetChartData(context.Background(), "005930", GranularityDay, 30)
	if history.fetchCalls != 1 {
		t.Errorf("fetch calls after hit = %d, want 1", history.fetchCalls)
	}
}

func TestSnapshotTTLPerGranularity(t *testing.T) {
	tests := []struct {
		g       Granularity
		wantTTL time.Duration
	}{
		{GranularityDay, time.Hour},
		{GranularityMonth, 24 * time.Hour},
		{GranularityYear, 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		store := newRecordingStore()
		history := &fakeHistory{fetchResult: &Series{Candles: dayCandles(5)}}
		svc := NewService(store, history, testLogger())

		svc.GetChartData(context.Background(), "005930", tt.g, 5)
		if store.lastTTL != tt.wantTTL {
			t.Errorf("%s: TTL = %v, want %v", tt.g, store.lastTTL, tt.wantTTL)
		}
	}
}

func TestSnapshotTrimsToMostRecent(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{fetchResult: &Series{Candles: dayCandles(40)}}
	svc := NewService(store, history, testLogger())

	series := svc.GetChartData(context.Background(), "005930", GranularityYear, 10)

	if len(series.Candles) != 10 {
		t.Fatalf("series length = %d, want 10", len(series.Candles))
	}
	// The ten most-recent candles survive the trim.
	want := dayCandles(40)[30:]
	for i, candle := range series.Candles {
		if candle != want[i] {
			t.Errorf("candle %d = %+v, want %+v", i, candle, want[i])
		}
	}
	if history.lastWindowDays != yearsWindowDays {
		t.Errorf("yearly window = %d, want %d", history.lastWindowDays, yearsWindowDays)
	}
}

func TestMonthWindowSizedAsDays(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{fetchResult: &Series{Candles: dayCandles(6)}}
	svc := NewService(store, history, testLogger())

	svc.GetChartData(context.Background(), "005930", GranularityMonth, 6)
	if history.lastWindowDays != 6*daysPerMonth {
		t.Errorf("monthly window = %d, want %d", history.lastWindowDays, 6*daysPerMonth)
	}
}

func TestEmptyFetchIsNeverCached(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{fetchResult: &Series{Candles: []Candle{}}}
	svc := NewService(store, history, testLogger())

	series := svc.GetChartData(context.Background(), "005930", GranularityDay, 30)

	if len(series.Candles) != 0 {
		t.Errorf("expected empty series, got %d candles", len(series.Candles))
	}
	if store.puts != 0 {
		t.Errorf("empty fetch must not be cached, got %d writes", store.puts)
	}
}

func TestFetchErrorFallsBackToEmptyTaggedSeries(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{fetchErr: errors.New("upstream down")}
	svc := NewService(store, history, testLogger())

	series := svc.GetChartData(context.Background(), "005930", GranularityDay, 30)

	if series == nil || len(series.Candles) != 0 {
		t.Fatalf("expected empty series, got %+v", series)
	}
	if series.Code != "005930" || series.Granularity != GranularityDay || series.Range != 30 {
		t.Errorf("fallback series must carry request tags, got %+v", series)
	}
	if store.puts != 0 {
		t.Errorf("failed fetch must not be cached")
	}
}

func TestInvalidInputReturnsEmptyTaggedSeries(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{}
	svc := NewService(store, history, testLogger())

	tests := []struct {
		g   Granularity
		rng int
	}{
		{"weekly", 30},
		{GranularityDay, 0},
		{GranularityDay, maxRange + 1},
	}

	for _, tt := range tests {
		series := svc.GetChartData(context.Background(), "005930", tt.g, tt.rng)
		if len(series.Candles) != 0 {
			t.Errorf("g=%s rng=%d: expected empty series", tt.g, tt.rng)
		}
		if series.Granularity != tt.g || series.Range != tt.rng {
			t.Errorf("g=%s rng=%d: series must echo requested parameters, got %+v", tt.g, tt.rng, series)
		}
	}
	if history.fetchCalls != 0 || history.sinceCalls != 0 {
		t.Errorf("invalid input must not reach the history client")
	}
}

func minuteCandles(date string, startMinute, n int) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		candles[i] = Candle{
			Date:   date,
			Time:   time.Date(2025, 1, 2, 9, startMinute+i, 0, 0, time.UTC).Format("150405"),
			Open:   71000,
			High:   71500,
			Low:    70900,
			Close:  71200,
			Volume: 10,
		}
	}
	return candles
}

func TestIntradayMergeAppendsTail(t *testing.T) {
	store := newRecordingStore()
	cached := &Series{
		Code:        "005930",
		Granularity: GranularityMinute,
		Range:       120,
		Candles:     minuteCandles("20250102", 0, 5),
	}
	key := CacheKey("005930", GranularityMinute, 120)
	store.MemoryStore.Put(context.Background(), key, cached, 0)

	history := &fakeHistory{sinceResult: &Series{Candles: minuteCandles("20250102", 5, 3)}}
	svc := NewService(store, history, testLogger())

	merged := svc.GetChartData(context.Background(), "005930", GranularityMinute, 120)

	if history.sinceCalls != 1 || history.fetchCalls != 0 {
		t.Errorf("calls: since=%d fetch=%d, want 1/0", history.sinceCalls, history.fetchCalls)
	}
	if history.lastSinceDate != "20250102" || history.lastSinceTime != "090400" {
		t.Errorf("since anchor = %s/%s, want last cached candle", history.lastSinceDate, history.lastSinceTime)
	}
	if len(merged.Candles) != 8 {
		t.Fatalf("merged length = %d, want 8", len(merged.Candles))
	}
	for i := 1; i < len(merged.Candles); i++ {
		if merged.Candles[i].Time <= merged.Candles[i-1].Time {
			t.Errorf("candles not ascending at %d: %s <= %s", i, merged.Candles[i].Time, merged.Candles[i-1].Time)
		}
	}
	if store.lastTTL != 0 {
		t.Errorf("intraday write TTL = %v, want none", store.lastTTL)
	}

	// No new upstream candles: the series is returned unchanged, no write.
	history.sinceResult = &Series{Candles: []Candle{}}
	writes := store.puts
	again := svc.GetChartData(context.Background(), "005930", GranularityMinute, 120)
	if len(again.Candles) != 8 {
		t.Errorf("second read length = %d, want 8", len(again.Candles))
	}
	if store.puts != writes {
		t.Errorf("no-op merge must not rewrite the cache")
	}
}

func TestIntradayTailFetchErrorServesCached(t *testing.T) {
	store := newRecordingStore()
	cached := &Series{
		Code:        "005930",
		Granularity: GranularityMinute,
		Range:       120,
		Candles:     minuteCandles("20250102", 0, 5),
	}
	store.MemoryStore.Put(context.Background(), CacheKey("005930", GranularityMinute, 120), cached, 0)

	history := &fakeHistory{sinceErr: errors.New("upstream down")}
	svc := NewService(store, history, testLogger())

	series := svc.GetChartData(context.Background(), "005930", GranularityMinute, 120)
	if len(series.Candles) != 5 {
		t.Errorf("expected cached series on tail-fetch failure, got %d candles", len(series.Candles))
	}
}

func TestIntradayMissBootstrapsFromMinuteEndpoint(t *testing.T) {
	store := newRecordingStore()
	// The snapshot endpoint only serves daily-shaped bars (empty Time) even
	// when asked at minute granularity, so a bootstrap through it would cache
	// daily bars under the minute key forever.
	history := &fakeHistory{
		fetchResult: &Series{Candles: dayCandles(3)},
		sinceResult: &Series{Candles: minuteCandles("20250102", 0, 30)},
	}
	svc := NewService(store, history, testLogger())
	svc.now = func() time.Time { return time.Date(2025, 1, 2, 9, 35, 0, 0, time.UTC) }

	series := svc.GetChartData(context.Background(), "005930", GranularityMinute, 120)

	if history.fetchCalls != 0 || history.sinceCalls != 1 {
		t.Errorf("calls: fetch=%d since=%d, want 0/1", history.fetchCalls, history.sinceCalls)
	}
	if history.lastSinceDate != "20250102" || history.lastSinceTime != "000000" {
		t.Errorf("bootstrap anchor = %s/%s, want session-day start", history.lastSinceDate, history.lastSinceTime)
	}
	if len(series.Candles) != 30 {
		t.Errorf("series length = %d, want 30", len(series.Candles))
	}
	for i, candle := range series.Candles {
		if candle.Time == "" {
			t.Fatalf("candle %d has no intraday time: %+v", i, candle)
		}
	}
	if store.lastTTL != 0 {
		t.Errorf("intraday bootstrap TTL = %v, want none", store.lastTTL)
	}

	// The next read merges from the real last candle, not an empty anchor.
	history.sinceResult = &Series{Candles: []Candle{}}
	svc.GetChartData(context.Background(), "005930", GranularityMinute, 120)
	if history.lastSinceTime != "092900" {
		t.Errorf("merge anchor time = %s, want 092900", history.lastSinceTime)
	}
}

func TestIntradayBootstrapTrimsAndSkipsEmpty(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{sinceResult: &Series{Candles: minuteCandles("20250102", 0, 30)}}
	svc := NewService(store, history, testLogger())

	series := svc.GetChartData(context.Background(), "005930", GranularityMinute, 10)
	if len(series.Candles) != 10 {
		t.Fatalf("series length = %d, want 10", len(series.Candles))
	}
	if series.Candles[0].Time != minuteCandles("20250102", 20, 1)[0].Time {
		t.Errorf("trim must keep the most-recent candles, first = %s", series.Candles[0].Time)
	}

	// A session day with no ticks yet is returned but never cached.
	history.sinceResult = &Series{Candles: []Candle{}}
	writes := store.puts
	empty := svc.GetChartData(context.Background(), "000660", GranularityMinute, 10)
	if len(empty.Candles) != 0 {
		t.Errorf("expected empty series, got %d candles", len(empty.Candles))
	}
	if store.puts != writes {
		t.Errorf("empty bootstrap must not be cached")
	}
}

func TestIntradayMergeDoesNotAliasCachedSlice(t *testing.T) {
	store := newRecordingStore()

	// A cached slice with spare capacity: an in-place append would write the
	// fresh candles into backing storage shared with concurrent readers.
	backing := make([]Candle, 5, 8)
	copy(backing, minuteCandles("20250102", 0, 5))
	cached := &Series{
		Code:        "005930",
		Granularity: GranularityMinute,
		Range:       120,
		Candles:     backing,
	}
	store.MemoryStore.Put(context.Background(), CacheKey("005930", GranularityMinute, 120), cached, 0)

	history := &fakeHistory{sinceResult: &Series{Candles: minuteCandles("20250102", 5, 2)}}
	svc := NewService(store, history, testLogger())

	merged := svc.GetChartData(context.Background(), "005930", GranularityMinute, 120)
	if len(merged.Candles) != 7 {
		t.Fatalf("merged length = %d, want 7", len(merged.Candles))
	}

	if spare := backing[:6][5]; spare != (Candle{}) {
		t.Errorf("merge wrote into the cached slice's backing array: %+v", spare)
	}
	if len(backing) != 5 || backing[4].Time != "090400" {
		t.Errorf("cached slice changed: len=%d last=%+v", len(backing), backing[4])
	}
}

func TestDeleteCache(t *testing.T) {
	store := newRecordingStore()
	history := &fakeHistory{fetchResult: &Series{Candles: dayCandles(5)}}
	svc := NewService(store, history, testLogger())

	svc.GetChartData(context.Background(), "005930", GranularityDay, 5)
	if err := svc.DeleteCache(context.Background(), "005930", GranularityDay, 5); err != nil {
		t.Fatalf("DeleteCache: %v", err)
	}

	svc.GetChartData(context.Background(), "005930", GranularityDay, 5)
	if history.fetchCalls != 2 {
		t.Errorf("expected refetch after delete, got %d fetches", history.fetchCalls)
	}
}
