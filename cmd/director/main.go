// Command director runs the probe-driven load-balancing director as a
// standalone process exposing an HTTP admin/diagnostic surface.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/go-prequal/director/backend"
	"github.com/go-prequal/director/director"
	"github.com/go-prequal/director/internal/config"
	"github.com/go-prequal/director/internal/logging"
)

func main() {
	configPath := flag.String("config", "director.yaml", "path to configuration file")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("falling back to default configuration", "error", err, "path", *configPath)
		cfg = config.Default()
	}

	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.FilePath); err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	d, stop := director.New[string](cfg.Probe.Path,
		director.WithProbeRateLimit[string](rate.Limit(cfg.Probe.RateLimitPerSec), cfg.Probe.RateLimitBurst),
	)
	defer stop()

	if v != nil {
		config.Watch(v, func(newCfg config.Config) {
			d.SetProbePath(newCfg.Probe.Path)
		})
	}

	if !cfg.Admin.Enabled {
		slog.Info("admin surface disabled, director running headless")
		select {}
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthzHandler(d)).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", snapshotHandler(d)).Methods(http.MethodGet)
	r.HandleFunc("/backends", backendsHandler(d)).Methods(http.MethodGet, http.MethodPost, http.MethodDelete)
	r.Handle("/metrics", promhttp.HandlerFor(d.Stats().Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	slog.Info("director listening", "addr", cfg.Admin.ListenAddr)
	if err := http.ListenAndServe(cfg.Admin.ListenAddr, r); err != nil {
		slog.Error("admin server exited", "error", err)
		os.Exit(1)
	}
}

func healthzHandler(d *director.Director[string]) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !d.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no live probes yet\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

func snapshotHandler(d *director.Director[string]) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(d.SnapshotProbeTable()))
	}
}

type backendRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func backendsHandler(d *director.Director[string]) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			jsonOK(w, d.Backends())
		case http.MethodPost:
			var br backendRequest
			if err := json.NewDecoder(req.Body).Decode(&br); err != nil {
				jsonErr(w, http.StatusBadRequest, err)
				return
			}
			if err := d.AddBackend(backend.New(br.Name, br.Address, br.Name)); err != nil {
				jsonErr(w, http.StatusBadRequest, err)
				return
			}
			jsonOK(w, map[string]string{"status": "added"})
		case http.MethodDelete:
			var br backendRequest
			if err := json.NewDecoder(req.Body).Decode(&br); err != nil {
				jsonErr(w, http.StatusBadRequest, err)
				return
			}
			d.RemoveBackend(br.Name)
			jsonOK(w, map[string]string{"status": "removed"})
		}
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
