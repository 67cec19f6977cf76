package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mesh-intelligence/peermention/internal/urlutil"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

// Strategy names.
const (
	StrategyDrive = "drive"
	StrategyHTTP  = "http"
)

// Default HTTP fetch limits.
const (
	DefaultFetchTimeout = 15 * time.Second
	DefaultMaxBytes     = 4 << 20
)

var errNoDrives = errors.New("no drive provider")

// Retriever is one way of obtaining a resource by URL. Retrieve returns an
// error when the strategy cannot produce the resource; the engine then moves
// to the next retriever.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, rawURL string) (*Resource, error)
}

// DriveRetriever reads resources from the local drive store, keyed by the
// URL's host and path.
type DriveRetriever struct {
	Drives types.DriveProvider
}

// Name implements Retriever.
func (DriveRetriever) Name() string { return StrategyDrive }

// Retrieve implements Retriever.
func (r DriveRetriever) Retrieve(ctx context.Context, rawURL string) (*Resource, error) {
	if r.Drives == nil {
		return nil, errNoDrives
	}
	host, p, err := urlutil.HostPath(rawURL)
	if err != nil {
		return nil, err
	}
	d, err := r.Drives.Drive(ctx, host)
	if err != nil {
		return nil, err
	}
	fi, err := d.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	body, err := d.ReadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Resource{
		URL:      rawURL,
		Strategy: StrategyDrive,
		Metadata: fi.Metadata,
		Body:     body,
	}, nil
}

// HTTPRetriever fetches resources over HTTP(S).
type HTTPRetriever struct {
	Client *http.Client

	// MaxBytes caps the body read from a response.
	MaxBytes int64
}

// NewHTTPRetriever returns a retriever whose client gives up after timeout.
// A non-positive timeout uses DefaultFetchTimeout.
func NewHTTPRetriever(timeout time.Duration) *HTTPRetriever {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPRetriever{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: DefaultMaxBytes,
	}
}

// Name implements Retriever.
func (*HTTPRetriever) Name() string { return StrategyHTTP }

// Retrieve implements Retriever. A non-2xx status is a failure.
func (r *HTTPRetriever) Retrieve(ctx context.Context, rawURL string) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html, */*;q=0.8")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return &Resource{
		URL:         rawURL,
		Strategy:    StrategyHTTP,
		Header:      resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
