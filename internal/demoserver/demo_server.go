// Package demoserver serves a deliberately misconfigured site to try scans
// against locally.
package demoserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
)

// DemoServer serves exposed files that can be hidden and shown at runtime.
type DemoServer struct {
	cfg       Config
	exposures map[string]Exposure
	enabled   map[string]bool
	requests  int
	mu        sync.RWMutex
}

// NewDemoServer creates a new demo server instance.
func NewDemoServer(cfg Config) *DemoServer {
	s := &DemoServer{
		cfg:       cfg,
		exposures: make(map[string]Exposure),
		enabled:   make(map[string]bool),
	}
	for _, e := range GetAllExposures() {
		s.exposures[e.Path] = e
	}
	s.reset()
	return s
}

func (s *DemoServer) reset() {
	for path := range s.exposures {
		s.enabled[path] = true
	}
	for _, p := range s.cfg.HiddenPaths {
		if _, ok := s.exposures[p]; ok {
			s.enabled[p] = false
		}
	}
	s.requests = 0
}

// Handler returns the demo site, including the /demo control endpoints.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.fileHandler)

	mux.HandleFunc("/demo/control", s.listHandler)
	mux.HandleFunc("/demo/toggle", s.toggleHandler)
	mux.HandleFunc("/demo/reset", s.resetHandler)
	return mux
}

// Start starts the demo server.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo server starting on http://localhost%s\n", addr)
	fmt.Printf("Exposures at http://localhost%s/demo/control\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// SetEnabled shows or hides one exposure. It reports whether path is known.
func (s *DemoServer) SetEnabled(path string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exposures[path]; !ok {
		return false
	}
	s.enabled[path] = enabled
	return true
}

func (s *DemoServer) fileHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Welcome to demo.local</h1></body></html>`))
		return
	}

	s.mu.Lock()
	s.requests++
	n := s.requests
	e, known := s.exposures[r.URL.Path]
	on := s.enabled[r.URL.Path]
	s.mu.Unlock()

	if s.cfg.RateLimitEvery > 0 && n%s.cfg.RateLimitEvery == 0 {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	if s.cfg.RejectHead && r.Method == http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !known || !on {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(e.Body))
	}
}

// ExposureInfo is one row of /demo/control.
type ExposureInfo struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Exposures lists every exposure and whether it is served, ordered by path.
func (s *DemoServer) Exposures() []ExposureInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExposureInfo, 0, len(s.exposures))
	for path, e := range s.exposures {
		out = append(out, ExposureInfo{Path: path, Description: e.Description, Enabled: s.enabled[path]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// listHandler returns the current exposure table.
func (s *DemoServer) listHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Exposures())
}

// toggleHandler shows or hides one exposure.
func (s *DemoServer) toggleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.FormValue("path")
	enabled, err := strconv.ParseBool(r.FormValue("enabled"))
	if err != nil {
		http.Error(w, "Invalid enabled flag", http.StatusBadRequest)
		return
	}
	if !s.SetEnabled(path, enabled) {
		http.Error(w, "Unknown path", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"path":    path,
		"enabled": enabled,
	})
}

// resetHandler restores the configured exposure set.
func (s *DemoServer) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Exposures reset",
	})
}
