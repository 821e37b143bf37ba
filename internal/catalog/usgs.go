package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultUSGSBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1"
	usgsQueryPath      = "/query"
	maxErrorBody       = 512
)

// Fetcher downloads a raw catalog CSV.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]byte, error)
}

// USGSOptions parameterise the FDSN event client.
type USGSOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Query selects events from an FDSN event service.
type Query struct {
	Start        time.Time
	End          time.Time
	MinMagnitude float64
	// Latitude/Longitude/MaxRadiusKm restrict results to a circle when MaxRadiusKm > 0.
	Latitude    float64
	Longitude   float64
	MaxRadiusKm float64
}

// Validate checks the query window and radius.
func (q Query) Validate() error {
	if q.Start.IsZero() || q.End.IsZero() {
		return errors.New("start and end are required")
	}
	if !q.Start.Before(q.End) {
		return errors.New("start must be before end")
	}
	if q.MaxRadiusKm < 0 {
		return errors.New("max radius cannot be negative")
	}
	return nil
}

// USGS fetches catalogs from the USGS FDSN event web service.
type USGS struct {
	opts    USGSOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewUSGS constructs a USGS catalog fetcher.
func NewUSGS(opts USGSOptions, logger zerolog.Logger) *USGS {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultUSGSBaseURL
	}

	return &USGS{
		opts:    opts,
		logger:  logger.With().Str("component", "usgs_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Fetch runs the query and returns the CSV body.
func (u *USGS) Fetch(ctx context.Context, q Query) ([]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	endpoint := u.baseURL + usgsQueryPath + "?" + encodeQuery(q).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	if ua := strings.TrimSpace(u.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "omori/1.0")
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usgs request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read usgs response: %w", err)
	}

	// FDSN answers 204 when the query matched nothing.
	if resp.StatusCode == http.StatusNoContent {
		return nil, errors.New("usgs query matched no events")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, body)
	}

	u.logger.Info().Int("bytes", len(body)).
		Time("start", q.Start).
		Time("end", q.End).
		Msg("catalog downloaded")
	return body, nil
}

func encodeQuery(q Query) url.Values {
	values := url.Values{}
	values.Set("format", "csv")
	values.Set("orderby", "time-asc")
	values.Set("starttime", q.Start.UTC().Format(time.RFC3339))
	values.Set("endtime", q.End.UTC().Format(time.RFC3339))
	if q.MinMagnitude > 0 {
		values.Set("minmagnitude", strconv.FormatFloat(q.MinMagnitude, 'f', -1, 64))
	}
	if q.MaxRadiusKm > 0 {
		values.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
		values.Set("maxradiuskm", strconv.FormatFloat(q.MaxRadiusKm, 'f', -1, 64))
	}
	return values
}

func parseHTTPError(status int, payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg != "" {
		return fmt.Errorf("usgs api error (%d): %s", status, msg)
	}
	return fmt.Errorf("usgs api error (%d)", status)
}

var _ Fetcher = (*USGS)(nil)
