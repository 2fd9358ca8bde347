package ekokarta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultBaseURL string = "https://ekokartazagreb.stampar.hr/rest"

// The upstream service rejects requests that carry a default Go or library user agent.
const UserAgent string = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

const StationsPath string = "/stations/"

func LatestMeasurementsPath(stationID string) string {
	return fmt.Sprintf("/measurements/air/station/%s/latest?", url.PathEscape(stationID))
}

func LatestAirIndexPath(stationID string) string {
	return fmt.Sprintf("/measurements/air-index/station/%s/latest?", url.PathEscape(stationID))
}

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed, expected status code 200 but got: %d", e.URL, e.StatusCode)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON issues a GET against baseURL+path and decodes the JSON body into v.
// Numbers are decoded as json.Number when v holds an interface value.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	u := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	if err = dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode response body from %s: %w", u, err)
	}

	return nil
}
