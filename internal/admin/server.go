package admin

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strconv"
    "sync"
    "time"

    "github.com/gorilla/mux"

    "github.com/etncore/ars/internal/ledger"
    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/registry"
    "github.com/etncore/ars/internal/router"
    "github.com/etncore/ars/pkg/logger"
)

// Server is the operator surface: route and profile listings, the live
// call ledger, simulation, preemption, call-back cancellation, reload,
// and the liveness/readiness checks.
type Server struct {
    routes   *registry.RouteRegistry
    profiles *registry.ProfileRegistry
    ledger   *ledger.Ledger
    engine   *router.Router

    records  RecordSource
    stats    StatsSource
    channels ChannelSource
    reload   func() error

    mu          sync.RWMutex
    checks      map[string]Checker
    readyChecks map[string]Checker

    server *http.Server
}

// RecordSource serves recent call-detail records; nil when the detail
// store is not configured.
type RecordSource interface {
    RecentRecords(ctx context.Context, limit int) ([]map[string]interface{}, error)
}

// StatsSource serves switch-link counters; nil when AMI is down.
type StatsSource interface {
    Stats() map[string]interface{}
}

// ChannelSource lists the switch's live channels; nil when AMI is down.
type ChannelSource interface {
    ShowChannels() ([]map[string]string, error)
}

type Checker interface {
    Check(ctx context.Context) error
}

type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error {
    return f(ctx)
}

type Options struct {
    Records  RecordSource
    Stats    StatsSource
    Channels ChannelSource
    Reload   func() error
}

func NewServer(port int, routes *registry.RouteRegistry, profiles *registry.ProfileRegistry,
    led *ledger.Ledger, engine *router.Router, opts Options) *Server {

    s := &Server{
        routes:      routes,
        profiles:    profiles,
        ledger:      led,
        engine:      engine,
        records:     opts.Records,
        stats:       opts.Stats,
        channels:    opts.Channels,
        reload:      opts.Reload,
        checks:      make(map[string]Checker),
        readyChecks: make(map[string]Checker),
    }

    r := mux.NewRouter()
    r.HandleFunc("/health/live", s.handleLiveness).Methods("GET")
    r.HandleFunc("/health/ready", s.handleReadiness).Methods("GET")

    api := r.PathPrefix("/api/v1").Subrouter()
    api.HandleFunc("/routes", s.handleListRoutes).Methods("GET")
    api.HandleFunc("/routes/{name}", s.handleGetRoute).Methods("GET")
    api.HandleFunc("/profiles", s.handleListProfiles).Methods("GET")
    api.HandleFunc("/profiles/{name}", s.handleGetProfile).Methods("GET")
    api.HandleFunc("/calls", s.handleListCalls).Methods("GET")
    api.HandleFunc("/records", s.handleListRecords).Methods("GET")
    api.HandleFunc("/simulate", s.handleSimulate).Methods("POST")
    api.HandleFunc("/preempt", s.handlePreempt).Methods("POST")
    api.HandleFunc("/callbacks/{leg_id}", s.handleCancelCallback).Methods("DELETE")
    api.HandleFunc("/callbacks", s.handleCancelAllCallbacks).Methods("DELETE")
    api.HandleFunc("/reload", s.handleReload).Methods("POST")
    api.HandleFunc("/stats", s.handleStats).Methods("GET")
    api.HandleFunc("/channels", s.handleChannels).Methods("GET")

    s.server = &http.Server{
        Addr:         fmt.Sprintf(":%d", port),
        Handler:      r,
        ReadTimeout:  10 * time.Second,
        WriteTimeout: 10 * time.Second,
    }

    return s
}

func (s *Server) Start() error {
    logger.WithField("addr", s.server.Addr).Info("Admin server started")
    return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    return s.server.Shutdown(ctx)
}

func (s *Server) RegisterLivenessCheck(name string, check Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.checks[name] = check
}

func (s *Server) RegisterReadinessCheck(name string, check Checker) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.readyChecks[name] = check
}

// --- handlers ---

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, s.routes.List())
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
    name := mux.Vars(r)["name"]
    route, err := s.routes.Lookup(name)
    if err != nil {
        writeError(w, http.StatusNotFound, err)
        return
    }
    writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, s.profiles.List())
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
    name := mux.Vars(r)["name"]
    profile, err := s.profiles.Lookup(name)
    if err != nil {
        writeError(w, http.StatusNotFound, err)
        return
    }
    writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
    if s.records == nil {
        writeError(w, http.StatusNotImplemented, fmt.Errorf("call-detail store not configured"))
        return
    }

    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" {
        if n, err := strconv.Atoi(v); err == nil {
            limit = n
        }
    }

    records, err := s.records.RecentRecords(r.Context(), limit)
    if err != nil {
        writeError(w, http.StatusInternalServerError, err)
        return
    }
    writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
    var req router.SimulationRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeError(w, http.StatusBadRequest, err)
        return
    }

    steps, err := s.engine.Simulate(r.Context(), req)
    if err != nil {
        writeError(w, http.StatusUnprocessableEntity, err)
        return
    }
    writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handlePreempt(w http.ResponseWriter, r *http.Request) {
    var req struct {
        Facility string `json:"facility"`
        Level    int    `json:"level"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeError(w, http.StatusBadRequest, err)
        return
    }

    level := models.Precedence(req.Level)
    if !level.Valid() {
        writeError(w, http.StatusBadRequest, fmt.Errorf("invalid precedence level %d", req.Level))
        return
    }

    outcome := s.engine.Preempt(req.Facility, level)
    writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}

func (s *Server) handleCancelCallback(w http.ResponseWriter, r *http.Request) {
    legID := mux.Vars(r)["leg_id"]
    if !s.engine.CancelCallback(legID) {
        writeError(w, http.StatusNotFound, fmt.Errorf("no pending call-back for leg %s", legID))
        return
    }
    writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleCancelAllCallbacks(w http.ResponseWriter, r *http.Request) {
    n := s.engine.CancelAllCallbacks()
    writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
    if s.reload == nil {
        writeError(w, http.StatusNotImplemented, fmt.Errorf("reload not configured"))
        return
    }
    if err := s.reload(); err != nil {
        writeError(w, http.StatusInternalServerError, err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
    stats := map[string]interface{}{
        "ledger_records": s.ledger.Len(),
        "routes":         len(s.routes.List()),
        "profiles":       len(s.profiles.List()),
    }
    if s.stats != nil {
        stats["switch_link"] = s.stats.Stats()
    }
    writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
    if s.channels == nil {
        writeError(w, http.StatusNotImplemented, fmt.Errorf("switch manager link not configured"))
        return
    }

    channels, err := s.channels.ShowChannels()
    if err != nil {
        writeError(w, http.StatusBadGateway, err)
        return
    }
    writeJSON(w, http.StatusOK, channels)
}

// --- health ---

type healthResponse struct {
    Status    string                 `json:"status"`
    Timestamp time.Time              `json:"timestamp"`
    Checks    map[string]checkResult `json:"checks,omitempty"`
    TotalTime string                 `json:"total_time,omitempty"`
}

type checkResult struct {
    Status   string `json:"status"`
    Error    string `json:"error,omitempty"`
    Duration string `json:"duration"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
    s.handleCheck(w, r, s.checks)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
    s.handleCheck(w, r, s.readyChecks)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request, checks map[string]Checker) {
    ctx := r.Context()
    start := time.Now()

    s.mu.RLock()
    defer s.mu.RUnlock()

    response := healthResponse{
        Status:    "ok",
        Timestamp: start,
        Checks:    make(map[string]checkResult),
    }

    type namedResult struct {
        name   string
        result checkResult
    }

    var wg sync.WaitGroup
    resultChan := make(chan namedResult, len(checks))

    for name, check := range checks {
        wg.Add(1)
        go func(n string, c Checker) {
            defer wg.Done()

            checkStart := time.Now()
            err := c.Check(ctx)

            result := checkResult{
                Status:   "ok",
                Duration: time.Since(checkStart).String(),
            }
            if err != nil {
                result.Status = "failed"
                result.Error = err.Error()
            }

            resultChan <- namedResult{n, result}
        }(name, check)
    }

    go func() {
        wg.Wait()
        close(resultChan)
    }()

    for res := range resultChan {
        response.Checks[res.name] = res.result
        if res.result.Status != "ok" {
            response.Status = "failed"
        }
    }

    response.TotalTime = time.Since(start).String()

    status := http.StatusOK
    if response.Status != "ok" {
        status = http.StatusServiceUnavailable
    }
    writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
    writeJSON(w, status, map[string]string{"error": err.Error()})
}
