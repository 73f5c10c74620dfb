package router

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/etncore/ars/internal/ledger"
    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/registry"
    "github.com/etncore/ars/pkg/errors"
)

// fakeLeg scripts the call-leg side of an attempt.
type fakeLeg struct {
    id string

    mu          sync.Mutex
    dialResults map[string]DialResult
    dialErrs    map[string]error
    dialCounts  map[string]int
    played      []string
    playResult  PlayResult
    digits      []string
    prompts     []string
    softCauses  []string
    onDial      func(target string)

    hangupCh chan struct{}
}

func newFakeLeg(id string) *fakeLeg {
    return &fakeLeg{
        id:          id,
        dialResults: make(map[string]DialResult),
        dialErrs:    make(map[string]error),
        dialCounts:  make(map[string]int),
        hangupCh:    make(chan struct{}),
    }
}

func (f *fakeLeg) ID() string { return f.id }

func (f *fakeLeg) Dial(ctx context.Context, target string) (DialResult, error) {
    f.mu.Lock()
    f.dialCounts[target]++
    hook := f.onDial
    res, ok := f.dialResults[target]
    err := f.dialErrs[target]
    f.mu.Unlock()

    if hook != nil {
        hook(target)
    }
    if err != nil {
        return DialResult{}, err
    }
    if !ok {
        return DialResult{Status: DialFailed}, nil
    }
    return res, nil
}

func (f *fakeLeg) Play(ctx context.Context, prompt string) (PlayResult, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.played = append(f.played, prompt)
    return f.playResult, nil
}

func (f *fakeLeg) PromptDigits(ctx context.Context, prompt string, maxLen int) (string, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.prompts = append(f.prompts, prompt)
    if len(f.digits) == 0 {
        return "", nil
    }
    d := f.digits[0]
    f.digits = f.digits[1:]
    return d, nil
}

func (f *fakeLeg) SoftDisconnect(cause string) {
    f.mu.Lock()
    f.softCauses = append(f.softCauses, cause)
    f.mu.Unlock()
}

func (f *fakeLeg) ClearSoftDisconnect() {}

func (f *fakeLeg) Hangup() <-chan struct{} { return f.hangupCh }

func (f *fakeLeg) dialCount(target string) int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.dialCounts[target]
}

func (f *fakeLeg) promptCount() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return len(f.prompts)
}

func (f *fakeLeg) playedTones() []string {
    f.mu.Lock()
    defer f.mu.Unlock()
    return append([]string(nil), f.played...)
}

// stubValidator grants a fixed FRL for one known code.
type stubValidator struct {
    code string
    frl  int
}

func (v stubValidator) Validate(ctx context.Context, validator, code string, remote bool) (int, error) {
    if code == v.code {
        return v.frl, nil
    }
    return 0, errors.New(errors.ErrBadAuthCode, "authorization code rejected")
}

// stubRecorder captures recorded call-detail fields.
type stubRecorder struct {
    mu     sync.Mutex
    fields map[string]map[string]string
}

func newStubRecorder() *stubRecorder {
    return &stubRecorder{fields: make(map[string]map[string]string)}
}

func (s *stubRecorder) Record(legID, field, value string) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.fields[legID] == nil {
        s.fields[legID] = make(map[string]string)
    }
    s.fields[legID][field] = value
}

func (s *stubRecorder) get(legID, field string) string {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.fields[legID][field]
}

// stubOriginator records origination requests.
type stubOriginator struct {
    mu   sync.Mutex
    reqs []OriginateRequest
    ch   chan OriginateRequest
}

func newStubOriginator() *stubOriginator {
    return &stubOriginator{ch: make(chan OriginateRequest, 8)}
}

func (o *stubOriginator) Originate(ctx context.Context, req OriginateRequest) error {
    o.mu.Lock()
    o.reqs = append(o.reqs, req)
    o.mu.Unlock()
    o.ch <- req
    return nil
}

func hangupErr() error {
    return errors.New(errors.ErrHangup, "caller hung up")
}

// fixedClock pins time-of-day checks.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type testEnv struct {
    routes   *registry.RouteRegistry
    profiles *registry.ProfileRegistry
    ledger   *ledger.Ledger
    router   *Router
    origin   *stubOriginator
}

func newTestEnv(t *testing.T, routes []models.Route, profiles []models.Profile, cfg Config, opts Options) *testEnv {
    t.Helper()

    rr := registry.NewRouteRegistry()
    for _, r := range routes {
        if err := rr.Upsert(r); err != nil {
            t.Fatalf("route %s: %v", r.Name, err)
        }
    }
    pr := registry.NewProfileRegistry()
    for _, p := range profiles {
        if err := pr.Upsert(p); err != nil {
            t.Fatalf("profile %s: %v", p.Name, err)
        }
    }

    led := ledger.New()
    origin := newStubOriginator()
    if opts.Origin == nil {
        opts.Origin = origin
    }
    if opts.Clock == nil {
        opts.Clock = fixedClock{t: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
    }

    return &testEnv{
        routes:   rr,
        profiles: pr,
        ledger:   led,
        router:   NewRouter(rr, pr, led, cfg, opts),
        origin:   origin,
    }
}

func basicRoute(name, facility string) models.Route {
    return models.Route{
        Name:       name,
        Facility:   facility,
        Class:      models.FacilityTieLine,
        DialTarget: "trunk/" + name,
    }
}

func basicProfile(name string, routes ...string) models.Profile {
    return models.Profile{
        Name:   name,
        Routes: routes,
    }
}
