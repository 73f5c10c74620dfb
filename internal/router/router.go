package router

import (
    "context"
    "strconv"
    "sync"
    "time"

    "github.com/etncore/ars/internal/ledger"
    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/registry"
    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

// Causes that always indicate facility congestion, independent of the
// route's busy-is-facility flag. Kept separate from that flag: the
// flag only resolves the ambiguous destination-busy case.
var congestionCauses = map[int]bool{
    34: true, // no circuit/channel available
    38: true, // network out of order
    41: true, // temporary failure
    42: true, // switching equipment congestion
    44: true, // requested channel not available
    47: true, // resource unavailable
}

// Router walks a caller-or-profile-supplied route list, applying
// authorization, cost-tone, preemption and queuing policy.
type Router struct {
    routes   *registry.RouteRegistry
    profiles *registry.ProfileRegistry
    ledger   *ledger.Ledger

    validator AuthValidator
    recorder  FieldRecorder
    probe     OccupancyProbe
    origin    Originator
    clock     Clock
    metrics   MetricsInterface

    monMu    sync.Mutex
    monitors map[string]*Monitor

    config Config
}

// Config holds router tunables.
type Config struct {
    AuthPrompt            string
    AcceptTone            string
    ExpensiveTone         string
    SliceInterval         time.Duration
    MaxCallbacksPerCaller int
    OriginateBase         time.Duration
    OriginatePerDigit     time.Duration
}

// Options carries the collaborator implementations. Validator and
// Originator are required for upgrade and call-back support; the rest
// default to no-ops.
type Options struct {
    Validator AuthValidator
    Recorder  FieldRecorder
    Probe     OccupancyProbe
    Origin    Originator
    Clock     Clock
    Metrics   MetricsInterface
}

// NewRouter creates a router over the given registries and ledger.
func NewRouter(routes *registry.RouteRegistry, profiles *registry.ProfileRegistry, led *ledger.Ledger, config Config, opts Options) *Router {
    if config.AuthPrompt == "" {
        config.AuthPrompt = "auth-code"
    }
    if config.AcceptTone == "" {
        config.AcceptTone = "queue-offer"
    }
    if config.ExpensiveTone == "" {
        config.ExpensiveTone = "expensive-route"
    }
    if config.SliceInterval <= 0 {
        config.SliceInterval = 10 * time.Second
    }
    if config.OriginateBase <= 0 {
        config.OriginateBase = 15 * time.Second
    }
    if config.OriginatePerDigit <= 0 {
        config.OriginatePerDigit = 2 * time.Second
    }

    r := &Router{
        routes:    routes,
        profiles:  profiles,
        ledger:    led,
        validator: opts.Validator,
        recorder:  opts.Recorder,
        probe:     opts.Probe,
        origin:    opts.Origin,
        clock:     opts.Clock,
        metrics:   opts.Metrics,
        monitors:  make(map[string]*Monitor),
        config:    config,
    }

    if r.recorder == nil {
        r.recorder = nopRecorder{}
    }
    if r.clock == nil {
        r.clock = systemClock{}
    }
    if r.metrics == nil {
        r.metrics = nopMetrics{}
    }

    return r
}

// Ledger exposes the shared call ledger for the admin surface.
func (r *Router) Ledger() *ledger.Ledger {
    return r.ledger
}

// refreshGauges republishes the ledger depth gauges. Called whenever a
// record enters or leaves the ledger.
func (r *Router) refreshGauges() {
    active, queued := r.ledger.Counts()
    r.metrics.SetGauge("ars_active_calls", float64(active), nil)
    r.metrics.SetGauge("ars_queued_calls", float64(queued), nil)
}

// CallRequest describes one inbound call attempt.
type CallRequest struct {
    LegID      string
    Profile    string
    Caller     string
    Called     string
    FRL        int
    Routes     []string
    Level      models.Precedence
    Remote     bool
    OHQTimeout time.Duration

    // Call-back admission policy for this attempt. Extension is
    // pre-supplied on call-back re-entry; UpgradeDone suppresses the
    // one-shot auth prompt so a called-back caller is not re-prompted.
    AllowCallback bool
    Extension     string
    UpgradeDone   bool
}

// attempt is the per-call-attempt state machine.
type attempt struct {
    r       *Router
    leg     Leg
    req     CallRequest
    profile models.Profile
    routes  []string

    frl          int
    upgradeTried bool
    merToneDone  bool
}

// RouteCall runs the full multi-phase selection for one call attempt:
// a plain pass over the route list, an optional preemption pass, the
// off-hook queue, then the call-back queue.
func (r *Router) RouteCall(ctx context.Context, leg Leg, req CallRequest) Result {
    defer r.refreshGauges()

    log := logger.WithContext(ctx).WithFields(map[string]interface{}{
        "leg_id":  req.LegID,
        "profile": req.Profile,
        "caller":  req.Caller,
        "called":  req.Called,
    })

    profile, err := r.profiles.Lookup(req.Profile)
    if err != nil {
        log.Warn("No such profile")
        return Result{Code: ResultNoSuchProfile, FRL: req.FRL, TCM: models.TCM(req.FRL)}
    }

    routes := req.Routes
    if len(routes) == 0 {
        routes = profile.Routes
    }
    if len(routes) == 0 {
        return Result{Code: ResultNoRoutes, FRL: req.FRL, TCM: models.TCM(req.FRL)}
    }

    a := &attempt{
        r:            r,
        leg:          leg,
        req:          req,
        profile:      profile,
        routes:       routes,
        frl:          req.FRL,
        upgradeTried: req.UpgradeDone,
    }

    r.recorder.Record(req.LegID, "caller", req.Caller)
    r.recorder.Record(req.LegID, "called", req.Called)

    tallies := make(map[Disposition]int)

    // First pass: no preemption.
    for _, name := range routes {
        d := a.attemptRoute(ctx, name, models.PrecedenceNone)
        tallies[d]++
        if d == DispSuccess {
            return a.success(name, tallies)
        }
        if d.terminal() {
            return a.terminal(d, tallies)
        }
    }

    // Every route refused on authorization grounds: preemption and
    // queuing cannot help.
    if tallies[DispUnauthorized] == len(routes) {
        r.recorder.Record(req.LegID, "result", string(ResultUnauthorized))
        return Result{Code: ResultUnauthorized, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
    }

    // Second pass: with preemption, if a valid level was supplied.
    if req.Level > models.PrecedenceNone && req.Level.Valid() {
        for _, name := range routes {
            d := a.attemptRoute(ctx, name, req.Level)
            tallies[d]++
            if d == DispSuccess {
                return a.success(name, tallies)
            }
            if d.terminal() {
                return a.terminal(d, tallies)
            }
        }
    }

    // Off-hook queue.
    if req.OHQTimeout > 0 {
        if res, done := a.offHookQueue(ctx, tallies); done {
            return res
        }
    }

    // Call-back queue. Remote-origin calls are barred.
    if !req.Remote && req.AllowCallback && profile.CallbackEnabled() {
        return a.callbackQueue(ctx, tallies)
    }

    if tallies[DispPreemptionFailed] > 0 {
        r.recorder.Record(req.LegID, "result", string(ResultPreemptionFailed))
        return Result{Code: ResultPreemptionFailed, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
    }

    r.recorder.Record(req.LegID, "result", string(ResultUnroutable))
    return Result{Code: ResultUnroutable, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
}

func (a *attempt) success(route string, tallies map[Disposition]int) Result {
    rt, _ := a.r.routes.Lookup(route)
    a.r.recorder.Record(a.req.LegID, "result", string(ResultSuccess))
    a.r.recorder.Record(a.req.LegID, "route", route)
    a.r.recorder.Record(a.req.LegID, "facility", rt.Facility)
    return Result{
        Code:     ResultSuccess,
        Route:    route,
        Facility: rt.Facility,
        FRL:      a.frl,
        TCM:      models.TCM(a.frl),
        Tallies:  tallies,
    }
}

func (a *attempt) terminal(d Disposition, tallies map[Disposition]int) Result {
    code := ResultFailure
    switch d {
    case DispInvalidCode:
        code = ResultBadAuthCode
    case DispPreempted:
        code = ResultPreempted
    }
    a.r.recorder.Record(a.req.LegID, "result", string(code))
    return Result{Code: code, FRL: a.frl, TCM: models.TCM(a.frl), Tallies: tallies}
}

// attemptRoute runs the per-route algorithm and returns its
// disposition. level is PrecedenceNone on the first pass.
func (a *attempt) attemptRoute(ctx context.Context, name string, level models.Precedence) Disposition {
    log := logger.WithContext(ctx).WithField("route", name)

    route, err := a.r.routes.Lookup(name)
    if err != nil {
        log.Warn("Route in list not found, treating as failed")
        return DispFailure
    }

    // Time-of-day restriction excludes the route silently.
    if route.TimeRestriction != "" {
        tr, err := registry.ParseTimeRestriction(route.TimeRestriction)
        if err != nil {
            log.WithError(err).Error("Route carries invalid time restriction")
            return DispFailure
        }
        if !tr.Within(a.r.clock.Now()) {
            return DispUnavailable
        }
    }

    // One-shot FRL upgrade via authorization code.
    if route.MinFRL > a.frl && !a.upgradeTried && a.upgradePermitted() {
        if d, ok := a.tryUpgrade(ctx); !ok {
            return d
        }
    }

    if a.frl < route.MinFRL {
        return DispUnauthorized
    }

    // Cost-warning tone, once per call, on the first expensive route.
    if route.Expensive && a.profile.ExpensiveTone && !a.merToneDone {
        a.merToneDone = true
        res, err := a.leg.Play(ctx, a.r.config.ExpensiveTone)
        if err != nil || res == PlayHangup {
            return DispHangup
        }
    }

    // Preemption pass: only dial over an evicted call.
    if level > models.PrecedenceNone {
        switch a.r.Preempt(route.Facility, level) {
        case PreemptNoCandidates:
            return DispUnavailable
        case PreemptNotAuthorized:
            return DispPreemptionFailed
        }
    }

    rec := models.NewCallRecord(a.req.LegID, a.req.Profile)
    rec.Route = route.Name
    rec.Facility = route.Facility
    rec.Caller = a.req.Caller
    rec.Called = a.req.Called
    rec.Level = a.req.Level
    rec.FRL = a.frl
    rec.Leg = a.leg

    // Limit check and admission are one critical section.
    if !a.r.ledger.InsertActive(rec, route.Limit) {
        a.r.metrics.IncrementCounter("ars_route_at_limit", map[string]string{"route": route.Name})
        return DispUnavailable
    }

    a.r.metrics.IncrementCounter("ars_dial_attempts", map[string]string{"route": route.Name})
    res, dialErr := a.leg.Dial(ctx, route.DialTarget)

    if !a.r.ledger.Remove(rec) {
        // Removed by someone else: a bug, logged, call unwound as failed.
        logger.WithField("leg_id", rec.LegID).Error("Active record vanished before removal")
        a.r.metrics.IncrementCounter("ars_ledger_anomalies", nil)
        return DispFailure
    }

    // The arbiter marks under the ledger lock, so after a successful
    // Remove the flag is stable.
    if rec.Preempted {
        a.leg.ClearSoftDisconnect()
        return DispPreempted
    }

    if dialErr != nil {
        if errors.Is(dialErr, errors.ErrHangup) {
            return DispHangup
        }
        log.WithError(dialErr).Warn("Dial failed")
        a.r.ledger.WakeHead(route.Facility)
        return DispFailure
    }

    d := classifyDial(route, res)
    if d != DispUnavailable {
        // Trunk was not the bottleneck; a freed slot may serve the
        // head of this facility's wait list.
        a.r.ledger.WakeHead(route.Facility)
    }

    a.r.metrics.IncrementCounter("ars_route_dispositions", map[string]string{
        "route":       route.Name,
        "disposition": d.String(),
    })

    return d
}

func (a *attempt) upgradePermitted() bool {
    if !a.profile.UpgradeEnabled {
        return false
    }
    if a.req.Remote && !a.profile.RemoteUpgrade {
        return false
    }
    return true
}

// tryUpgrade prompts for an authorization code at most once per call.
// ok=false carries the disposition to return.
func (a *attempt) tryUpgrade(ctx context.Context) (Disposition, bool) {
    a.upgradeTried = true

    digits, err := a.leg.PromptDigits(ctx, a.r.config.AuthPrompt, a.profile.UpgradeDigits)
    if err != nil {
        if errors.Is(err, errors.ErrHangup) {
            return DispHangup, false
        }
        return DispUnauthorized, false
    }
    if digits == "" {
        return DispUnauthorized, false
    }

    frl, err := a.r.validator.Validate(ctx, a.profile.AuthValidator, digits, a.req.Remote)
    if err != nil {
        a.r.metrics.IncrementCounter("ars_auth_rejected", map[string]string{"profile": a.profile.Name})
        return DispInvalidCode, false
    }

    if frl > a.frl {
        a.frl = frl
    }
    a.r.recorder.Record(a.req.LegID, "auth_code", digits)
    a.r.recorder.Record(a.req.LegID, "frl", strconv.Itoa(a.frl))
    a.r.recorder.Record(a.req.LegID, "tcm", models.TCM(a.frl))
    return DispSuccess, true
}

// classifyDial maps a dial result onto a disposition. The fixed
// congestion-cause table applies regardless of the route's flag; the
// flag only decides the ambiguous destination-busy case.
func classifyDial(route models.Route, res DialResult) Disposition {
    if congestionCauses[res.Cause] {
        return DispUnavailable
    }

    switch res.Status {
    case DialConnected:
        return DispSuccess
    case DialCongestion:
        return DispUnavailable
    case DialBusy:
        if route.BusyIsFacility {
            return DispUnavailable
        }
        return DispFailure
    default:
        return DispFailure
    }
}
