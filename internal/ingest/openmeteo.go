package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

const DefaultOpenMeteoURL = "https://air-quality-api.open-meteo.com/v1/air-quality"

// Query selects the location, pollutant and date range to fetch.
type Query struct {
	City      string
	Latitude  float64
	Longitude float64
	Pollutant model.Pollutant
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	Timezone  string
}

// OpenMeteoClient fetches hourly air-quality series from the Open-Meteo API.
type OpenMeteoClient struct {
	BaseURL     string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
}

func NewOpenMeteoClient(baseURL string, timeout time.Duration, logger *zap.Logger) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenMeteoClient{
		BaseURL:     baseURL,
		HTTP:        &http.Client{Timeout: timeout},
		MaxAttempts: 5,
		Backoff:     time.Second,
		Logger:      logger,
	}
}

// Fetch downloads and parses the hourly series for q.
func (c *OpenMeteoClient) Fetch(ctx context.Context, q Query) ([]RawPoint, error) {
	u, err := c.requestURL(q)
	if err != nil {
		return nil, err
	}

	c.Logger.Info("fetching air quality series",
		zap.String("city", q.City),
		zap.Float64("lat", q.Latitude),
		zap.Float64("lon", q.Longitude),
		zap.String("pollutant", string(q.Pollutant)),
	)

	attempts := max(c.MaxAttempts, 1)
	var body []byte
	for attempt := range attempts {
		body, err = c.doRequest(ctx, u)
		if err == nil {
			break
		}
		if !isRetryable(err) || attempt == attempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * c.Backoff
		c.Logger.Warn("retrying request", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", q.City, err)
	}

	return ParseOpenMeteo(body, q.Pollutant)
}

func (c *OpenMeteoClient) requestURL(q Query) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", model.ConfigErrorf("fetch", "invalid base URL %q: %w", c.BaseURL, err)
	}
	pollutant := q.Pollutant
	if pollutant == "" {
		pollutant = model.PollutantPM25
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	params.Set("hourly", string(pollutant))
	if q.StartDate != "" {
		params.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		params.Set("end_date", q.EndDate)
	}
	tz := q.Timezone
	if tz == "" {
		tz = "auto"
	}
	params.Set("timezone", tz)
	u.RawQuery = params.Encode()
	return u.String(), nil
}

type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.message)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *apiError
	if !errors.As(err, &ae) {
		return true // network errors are retryable
	}
	return ae.statusCode == http.StatusTooManyRequests || ae.statusCode >= 500
}

func (c *OpenMeteoClient) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{statusCode: resp.StatusCode, message: string(body)}
	}
	return body, nil
}

type openMeteoResponse struct {
	UTCOffsetSeconds     int                        `json:"utc_offset_seconds"`
	TimezoneAbbreviation string                     `json:"timezone_abbreviation"`
	Hourly               map[string]json.RawMessage `json:"hourly"`
}

// ParseOpenMeteo parses an Open-Meteo air-quality response. Local timestamps
// are placed in the response's UTC offset.
func ParseOpenMeteo(data []byte, pollutant model.Pollutant) ([]RawPoint, error) {
	if pollutant == "" {
		pollutant = model.PollutantPM25
	}

	var resp openMeteoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, model.DataErrorf("parse open-meteo", "parsing JSON: %w", err)
	}
	if resp.Hourly == nil {
		return nil, model.DataErrorf("parse open-meteo", "unexpected response format: missing 'hourly' data")
	}

	var times []string
	rawTimes, ok := resp.Hourly["time"]
	if !ok {
		return nil, model.DataErrorf("parse open-meteo", "missing 'hourly.time'")
	}
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, model.DataErrorf("parse open-meteo", "parsing 'hourly.time': %w", err)
	}

	var values []*float64
	rawValues, ok := resp.Hourly[string(pollutant)]
	if !ok {
		return nil, model.DataErrorf("parse open-meteo", "missing 'hourly.%s'", pollutant)
	}
	if err := json.Unmarshal(rawValues, &values); err != nil {
		return nil, model.DataErrorf("parse open-meteo", "parsing 'hourly.%s': %w", pollutant, err)
	}
	if len(times) != len(values) {
		return nil, model.DataErrorf("parse open-meteo", "%d timestamps but %d values", len(times), len(values))
	}

	loc := time.FixedZone(resp.TimezoneAbbreviation, resp.UTCOffsetSeconds)
	points := make([]RawPoint, len(times))
	for i, s := range times {
		ts, err := ParseTimestamp(s, loc)
		if err != nil {
			return nil, model.DataErrorf("parse open-meteo", "entry %d: %w", i, err)
		}
		points[i] = RawPoint{Timestamp: ts, Value: values[i]}
	}
	return points, nil
}
