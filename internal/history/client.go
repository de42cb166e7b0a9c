// Package history implements the historical-candle REST client behind the
// chart service. Responses arrive newest-first with every numeric field as a
// string; normalization is lossy by policy, a bad field becomes 0 instead of
// failing the series.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/chart"
)

const (
	dailyPath  = "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"
	minutePath = "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice"

	trIDDaily  = "FHKST03010100"
	trIDMinute = "FHKST03010200"
)

// Client fetches candle series from the vendor's chart endpoints. Implements
// chart.History. All calls go through a shared rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewClient creates a history client. A nil httpClient falls back to a
// default client with a 10s timeout.
func NewClient(baseURL string, requestsPerSecond float64, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 10),
		logger:     logger,
		now:        time.Now,
	}
}

type dailyRow struct {
	Date   string `json:"stck_bsop_date"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Close  string `json:"stck_clpr"`
	Volume string `json:"acml_vol"`
}

type dailyResponse struct {
	Output2 []dailyRow `json:"output2"`
}

// Fetch returns up to windowDays of candles at the given granularity,
// oldest first.
func (c *Client) Fetch(ctx context.Context, code string, g chart.Granularity, windowDays int) (*chart.Series, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	end := c.now()
	start := end.AddDate(0, 0, -windowDays)

	query := url.Values{}
	query.Set("fid_cond_mrkt_div_code", "J")
	query.Set("fid_input_iscd", code)
	query.Set("fid_input_date_1", start.Format("20060102"))
	query.Set("fid_input_date_2", end.Format("20060102"))
	query.Set("fid_period_div_code", periodCode(g))
	query.Set("fid_org_adj_prc", "0")

	var parsed dailyResponse
	if err := c.get(ctx, dailyPath, trIDDaily, query, &parsed); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"code": code, "rows": len(parsed.Output2)}).Debug("Fetched candle snapshot")

	// Rows arrive newest-first; flip to ascending.
	candles := make([]chart.Candle, 0, len(parsed.Output2))
	for i := len(parsed.Output2) - 1; i >= 0; i-- {
		row := parsed.Output2[i]
		if row.Date == "" {
			continue
		}
		candles = append(candles, chart.Candle{
			Date:   row.Date,
			Open:   parseAmount(row.Open),
			High:   parseAmount(row.High),
			Low:    parseAmount(row.Low),
			Close:  parseAmount(row.Close),
			Volume: parseAmount(row.Volume),
		})
	}

	return &chart.Series{
		Code:        code,
		Granularity: g,
		Candles:     candles,
		LastUpdated: c.now(),
	}, nil
}

type minuteRow struct {
	Date       string `json:"stck_bsop_date"`
	Time       string `json:"stck_cntg_hour"`
	Open       string `json:"stck_oprc"`
	High       string `json:"stck_hgpr"`
	Low        string `json:"stck_lwpr"`
	Close      string `json:"stck_prpr"`
	TickVolume string `json:"cntg_vol"`
	AcumVolume string `json:"acml_vol"`
}

type minuteResponse struct {
	Output2 []minuteRow `json:"output2"`
}

// FetchSince returns intraday candles strictly after the given date/time,
// oldest first.
func (c *Client) FetchSince(ctx context.Context, code, date, tm string) (*chart.Series, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("fid_etc_cls_code", "")
	query.Set("fid_cond_mrkt_div_code", "J")
	query.Set("fid_input_iscd", code)
	query.Set("fid_input_hour_1", tm)
	query.Set("fid_pw_data_incu_yn", "Y")

	var parsed minuteResponse
	if err := c.get(ctx, minutePath, trIDMinute, query, &parsed); err != nil {
		return nil, err
	}

	// Rows arrive newest-first; flip to ascending before the volume pass.
	rows := make([]minuteRow, 0, len(parsed.Output2))
	for i := len(parsed.Output2) - 1; i >= 0; i-- {
		row := parsed.Output2[i]
		if row.Date == "" {
			continue
		}
		if row.Date < date || (row.Date == date && row.Time <= tm) {
			continue
		}
		rows = append(rows, row)
	}

	candles := make([]chart.Candle, 0, len(rows))
	var prevAcum int64
	for i, row := range rows {
		volume := parseAmount(row.TickVolume)
		acum := parseAmount(row.AcumVolume)
		// Some rows report a zero per-tick volume; fall back to the
		// cumulative-volume difference. Out-of-order ticks can make this
		// under- or over-count, so it is a best-effort signal only.
		if volume == 0 && i > 0 && acum > prevAcum {
			volume = acum - prevAcum
		}
		prevAcum = acum

		candles = append(candles, chart.Candle{
			Date:   row.Date,
			Time:   row.Time,
			Open:   parseAmount(row.Open),
			High:   parseAmount(row.High),
			Low:    parseAmount(row.Low),
			Close:  parseAmount(row.Close),
			Volume: volume,
		})
	}

	return &chart.Series{
		Code:        code,
		Granularity: chart.GranularityMinute,
		Candles:     candles,
		LastUpdated: c.now(),
	}, nil
}

// get performs one JSON GET against the vendor API.
func (c *Client) get(ctx context.Context, path, trID string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func periodCode(g chart.Granularity) string {
	switch g {
	case chart.GranularityMonth:
		return "M"
	case chart.GranularityYear:
		return "Y"
	default:
		return "D"
	}
}

// parseAmount normalizes one numeric string field, 0 on failure.
func parseAmount(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
