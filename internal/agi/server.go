package agi

import (
    "context"
    "fmt"
    "io"
    "net"
    "strconv"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/router"
    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

const (
    agiSuccess = "200 result=1"
    agiFailure = "200 result=0"
)

// Disconnector forces a far-side disconnect of a channel that is busy
// inside a blocking dialplan application. The AMI manager provides it;
// without one the server falls back to dropping the session socket.
type Disconnector interface {
    SoftHangup(channel, cause string) error
}

// Finalizer persists the durable call-detail record once the attempt
// has ended. Best effort; nil when no detail store is configured.
type Finalizer interface {
    Finalize(ctx context.Context, legID, profile string, startedAt time.Time)
}

// Server is the FastAGI front door: the switch hands each new call to
// it, and the session drives the call leg on the router's behalf.
type Server struct {
    router       *router.Router
    config       Config
    disconnector Disconnector
    finalizer    Finalizer

    listener     net.Listener
    connections  sync.WaitGroup
    shutdown     chan struct{}
    shuttingDown atomic.Bool

    // Connection tracking
    mu          sync.RWMutex
    activeConns map[string]*Session
    connCount   atomic.Int64

    metrics router.MetricsInterface
}

type Config struct {
    ListenAddress   string
    Port            int
    MaxConnections  int
    DefaultProfile  string
    ReadTimeout     time.Duration
    WriteTimeout    time.Duration
    IdleTimeout     time.Duration
    ShutdownTimeout time.Duration
}

func NewServer(r *router.Router, config Config, metrics router.MetricsInterface, disc Disconnector, fin Finalizer) *Server {
    return &Server{
        router:       r,
        config:       config,
        disconnector: disc,
        finalizer:    fin,
        shutdown:     make(chan struct{}),
        activeConns:  make(map[string]*Session),
        metrics:      metrics,
    }
}

func (s *Server) Start() error {
    addr := fmt.Sprintf("%s:%d", s.config.ListenAddress, s.config.Port)

    listener, err := net.Listen("tcp", addr)
    if err != nil {
        return errors.Wrap(err, errors.ErrLegIO, "failed to start AGI server")
    }

    s.listener = listener
    logger.WithField("address", addr).Info("AGI server started")

    go s.connectionMonitor()

    for {
        select {
        case <-s.shutdown:
            return nil
        default:
            // Set accept timeout to check shutdown periodically
            if tcpListener, ok := listener.(*net.TCPListener); ok {
                tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
            }

            conn, err := listener.Accept()
            if err != nil {
                if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
                    continue
                }
                if s.shuttingDown.Load() {
                    return nil
                }
                logger.WithError(err).Warn("Failed to accept connection")
                continue
            }

            if s.config.MaxConnections > 0 && int(s.connCount.Load()) >= s.config.MaxConnections {
                logger.Warn("Connection limit reached, rejecting connection")
                conn.Close()
                continue
            }

            s.connections.Add(1)
            s.connCount.Add(1)
            go s.handleConnection(conn)
        }
    }
}

func (s *Server) Stop() error {
    s.shuttingDown.Store(true)
    close(s.shutdown)

    if s.listener != nil {
        s.listener.Close()
    }

    done := make(chan struct{})
    go func() {
        s.connections.Wait()
        close(done)
    }()

    select {
    case <-done:
        logger.Info("AGI server stopped gracefully")
    case <-time.After(s.config.ShutdownTimeout):
        logger.Warn("AGI server shutdown timeout, forcing close")
        s.forceCloseConnections()
    }

    return nil
}

func (s *Server) handleConnection(conn net.Conn) {
    defer func() {
        s.connections.Done()
        s.connCount.Add(-1)
        conn.Close()
    }()

    session := newSession(conn, s)

    s.mu.Lock()
    s.activeConns[session.id] = session
    s.mu.Unlock()

    defer func() {
        s.mu.Lock()
        delete(s.activeConns, session.id)
        s.mu.Unlock()
        session.cancel()
    }()

    conn.SetDeadline(time.Now().Add(s.config.ReadTimeout))

    s.metrics.SetGauge("agi_connections_active", float64(s.connCount.Load()), nil)
    defer s.metrics.SetGauge("agi_connections_active", float64(s.connCount.Load()-1), nil)

    if err := session.handle(); err != nil {
        if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
            logger.WithField("session_id", session.id).WithError(err).Warn("Session error")
        }
    }
}

func (s *Server) connectionMonitor() {
    ticker := time.NewTicker(30 * time.Second)
    defer ticker.Stop()

    for {
        select {
        case <-s.shutdown:
            return
        case <-ticker.C:
            s.checkIdleConnections()
        }
    }
}

func (s *Server) checkIdleConnections() {
    s.mu.Lock()
    defer s.mu.Unlock()

    now := time.Now()
    for id, session := range s.activeConns {
        if now.Sub(session.lastActive()) > s.config.IdleTimeout {
            logger.WithField("session_id", id).Info("Closing idle connection")
            session.conn.Close()
            session.cancel()
        }
    }
}

func (s *Server) forceCloseConnections() {
    s.mu.Lock()
    defer s.mu.Unlock()

    for id, session := range s.activeConns {
        logger.WithField("session_id", id).Info("Force closing connection")
        session.conn.Close()
        session.cancel()
    }
}

// handle parses the AGI environment, builds the call request from the
// channel's variables, runs route selection and reports the outcome
// back to the dialplan.
func (session *Session) handle() error {
    if err := session.readEnv(); err != nil {
        return errors.Wrap(err, errors.ErrLegIO, "failed to read AGI environment")
    }

    legID := session.env["agi_uniqueid"]
    if legID == "" {
        return errors.New(errors.ErrLegIO, "no uniqueid in AGI environment")
    }
    session.legID = legID

    ctx := context.WithValue(session.ctx, "request_id", legID)
    ctx = context.WithValue(ctx, "leg_id", legID)

    req := session.buildRequest(legID)
    ctx = context.WithValue(ctx, "profile", req.Profile)

    log := logger.WithContext(ctx)
    log.WithFields(map[string]interface{}{
        "caller":  req.Caller,
        "called":  req.Called,
        "frl":     req.FRL,
        "level":   req.Level.String(),
        "channel": session.env["agi_channel"],
    }).Info("Processing inbound call")

    start := time.Now()
    result := session.server.router.RouteCall(ctx, session, req)
    session.server.metrics.ObserveHistogram("agi_processing_time",
        time.Since(start).Seconds(), map[string]string{"action": "route_call"})

    session.setVariable("ARS_RESULT", string(result.Code))
    session.setVariable("ARS_ROUTE", result.Route)
    session.setVariable("ARS_FACILITY", result.Facility)
    session.setVariable("ARS_FRL", strconv.Itoa(result.FRL))
    session.setVariable("ARS_TCM", result.TCM)

    if session.server.finalizer != nil {
        // The session context dies with the socket; finalization gets
        // its own.
        go session.server.finalizer.Finalize(context.Background(), legID, req.Profile, start)
    }

    if result.Code != router.ResultSuccess && result.Code != router.ResultCallbackQueued {
        session.server.metrics.IncrementCounter("agi_requests_failed", map[string]string{
            "action": "route_call",
            "error":  string(result.Code),
        })
        return session.sendResponse(agiFailure)
    }

    log.WithFields(map[string]interface{}{
        "result": string(result.Code),
        "route":  result.Route,
    }).Info("Inbound call routed")

    return session.sendResponse(agiSuccess)
}

// buildRequest reads the routing parameters the dialplan set on the
// channel before invoking the AGI application.
func (session *Session) buildRequest(legID string) router.CallRequest {
    req := router.CallRequest{
        LegID:         legID,
        Profile:       session.getVariable("ARS_PROFILE"),
        Caller:        session.env["agi_callerid"],
        Called:        session.env["agi_extension"],
        AllowCallback: true,
    }
    if req.Profile == "" {
        req.Profile = session.server.config.DefaultProfile
    }

    if v := session.getVariable("ARS_FRL"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n >= models.FRLMin && n <= models.FRLMax {
            req.FRL = n
        }
    }
    if v := session.getVariable("ARS_LEVEL"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && models.Precedence(n).Valid() {
            req.Level = models.Precedence(n)
        }
    }
    if v := session.getVariable("ARS_ROUTES"); v != "" {
        req.Routes = strings.Split(v, ",")
    }
    if v := session.getVariable("ARS_OHQ_TIMEOUT"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 {
            req.OHQTimeout = time.Duration(n) * time.Second
        }
    }
    req.Remote = session.getVariable("ARS_REMOTE") == "yes"
    if session.getVariable("ARS_CALLBACK") == "no" {
        req.AllowCallback = false
    }

    // Call-back re-entry: the originator pre-supplies these so the
    // rung-back caller is not re-prompted.
    req.Extension = session.getVariable("ARS_CB_EXTENSION")
    req.UpgradeDone = session.getVariable("ARS_UPGRADE_DONE") == "yes"

    return req
}
