package director

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-prequal/director/backend"
)

// TestHTTPProberDiscardsNonOKStatus verifies a response carrying valid
// load headers alongside a non-200 status is treated as invalid, per
// the load-query protocol's "any non-200 ... sample discarded" rule.
func TestHTTPProberDiscardsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-In-Flight", "3")
		w.Header().Set("X-Estimated-Latency", "42")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProber[string]()
	b := backend.New("b", srv.Listener.Addr().String(), "b")

	_, err := p.Probe(context.Background(), b, "/probe")
	if err == nil {
		t.Fatal("expected an error for a non-200 response, got none")
	}
}
