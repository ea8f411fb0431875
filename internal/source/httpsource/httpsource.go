// Package httpsource provides the "http" source driver: the site's JSON
// files fetched from a web server, the way the pages load them in a
// browser.
package httpsource

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/source"
)

// maxBody caps a single resource.
const maxBody = 8 << 20

func init() {
	source.Register("http", openHTTP)
}

func openHTTP(_ context.Context, cfg config.SourceConfig, _ clock.Clock) (*source.Repositories, error) {
	f, err := New(cfg.BaseURL, Client(cfg.Timeout))
	if err != nil {
		return nil, err
	}
	return &source.Repositories{
		Source: source.NewJSON(f),
		Ping:   f.Ping,
	}, nil
}

// Client returns an instrumented HTTP client. A zero timeout means
// requests are bounded only by their context.
func Client(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// Fetcher GETs resources relative to a base URL. Failed requests are not
// retried.
type Fetcher struct {
	base   *url.URL
	client *http.Client
}

// New returns a Fetcher for baseURL.
func New(baseURL string, client *http.Client) (*Fetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	return &Fetcher{base: u, client: client}, nil
}

// Fetch implements source.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base.JoinPath(name).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", source.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: %s", source.ErrUnavailable, req.URL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", source.ErrUnavailable, err)
	}
	if len(data) > maxBody {
		return nil, fmt.Errorf("%w: GET %s: resource too large (over %d bytes)", source.ErrUnavailable, req.URL, maxBody)
	}
	return data, nil
}

// Ping checks that the server answers at all.
func (f *Fetcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
