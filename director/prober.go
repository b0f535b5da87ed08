package director

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-prequal/director/backend"
)

// ProbeTimeout bounds a single outbound probe request.
const ProbeTimeout = 5 * time.Second

// ProbeResult is what a successful probe learns about a backend.
type ProbeResult struct {
	RIF        uint64
	EstLatency uint64
}

// Prober issues one probe request against a backend and parses its
// load headers. Implementations must respect ctx's deadline.
type Prober[H comparable] interface {
	Probe(ctx context.Context, b backend.Backend[H], path string) (ProbeResult, error)
}

// httpProber is the production Prober: a plain GET carrying a Host
// header set to the backend's name, reading X-In-Flight and
// X-Estimated-Latency from the response.
type httpProber[H comparable] struct {
	client *http.Client
}

// NewHTTPProber returns the default HTTP-based Prober.
func NewHTTPProber[H comparable]() Prober[H] {
	return &httpProber[H]{client: &http.Client{Timeout: ProbeTimeout}}
}

func (p *httpProber[H]) Probe(ctx context.Context, b backend.Backend[H], path string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", b.Address, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{}, err
	}
	req.Host = b.Name

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProbeResult{}, fmt.Errorf("director: probe response status %d", resp.StatusCode)
	}

	rifHeader := resp.Header.Get("X-In-Flight")
	latencyHeader := resp.Header.Get("X-Estimated-Latency")
	if rifHeader == "" || latencyHeader == "" {
		return ProbeResult{}, errMissingHeaders
	}

	rif, err := strconv.ParseUint(rifHeader, 10, 64)
	if err != nil {
		return ProbeResult{}, err
	}
	latency, err := strconv.ParseUint(latencyHeader, 10, 64)
	if err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{RIF: rif, EstLatency: latency}, nil
}

var errMissingHeaders = fmt.Errorf("director: probe response missing required headers")
