package router

import (
    "context"
    "testing"

    "github.com/etncore/ars/internal/models"
)

func TestRouteCallFirstRouteConnects(t *testing.T) {
    env := newTestEnv(t,
        []models.Route{basicRoute("r1", "f1"), basicRoute("r2", "f2")},
        []models.Profile{basicProfile("net", "r1", "r2")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", Caller: "2001", Called: "3001",
    })

    if res.Code != ResultSuccess {
        t.Fatalf("code = %s, want success", res.Code)
    }
    if res.Route != "r1" || res.Facility != "f1" {
        t.Fatalf("route/facility = %s/%s", res.Route, res.Facility)
    }
    if leg.dialCount("trunk/r2") != 0 {
        t.Fatal("second route dialed despite first connecting")
    }
    if env.ledger.Len() != 0 {
        t.Fatalf("ledger not empty after call: %d", env.ledger.Len())
    }
}

func TestRouteCallRecordsEndpoints(t *testing.T) {
    rec := newStubRecorder()
    env := newTestEnv(t,
        []models.Route{basicRoute("r1", "f1")},
        []models.Profile{basicProfile("net", "r1")},
        Config{}, Options{Recorder: rec})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", Caller: "2001", Called: "915551000",
    })

    if res.Code != ResultSuccess {
        t.Fatalf("code = %s, want success", res.Code)
    }
    // The endpoints land in the detail record even though the dial path
    // never touches them.
    if got := rec.get("leg-1", "caller"); got != "2001" {
        t.Fatalf("caller field = %q, want 2001", got)
    }
    if got := rec.get("leg-1", "called"); got != "915551000" {
        t.Fatalf("called field = %q, want 915551000", got)
    }
    if got := rec.get("leg-1", "result"); got != string(ResultSuccess) {
        t.Fatalf("result field = %q", got)
    }
}

func TestRouteCallFallsThroughOnCongestion(t *testing.T) {
    env := newTestEnv(t,
        []models.Route{basicRoute("r1", "f1"), basicRoute("r2", "f2")},
        []models.Profile{basicProfile("net", "r1", "r2")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialCongestion}
    leg.dialResults["trunk/r2"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net",
    })

    if res.Code != ResultSuccess || res.Route != "r2" {
        t.Fatalf("code/route = %s/%s, want success on r2", res.Code, res.Route)
    }
    if leg.dialCount("trunk/r1") != 1 {
        t.Fatal("first route not attempted before fallback")
    }
}

func TestRouteCallRequestRoutesOverrideProfile(t *testing.T) {
    env := newTestEnv(t,
        []models.Route{basicRoute("r1", "f1"), basicRoute("r2", "f2")},
        []models.Profile{basicProfile("net", "r1")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r2"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", Routes: []string{"r2"},
    })

    if res.Code != ResultSuccess || res.Route != "r2" {
        t.Fatalf("code/route = %s/%s, want success on r2", res.Code, res.Route)
    }
    if leg.dialCount("trunk/r1") != 0 {
        t.Fatal("profile route dialed despite caller-supplied list")
    }
}

func TestBusyClassificationPerRouteFlag(t *testing.T) {
    facilityBusy := basicRoute("r1", "f1")
    facilityBusy.BusyIsFacility = true
    destBusy := basicRoute("r2", "f2")

    env := newTestEnv(t,
        []models.Route{facilityBusy, destBusy},
        []models.Profile{
            basicProfile("fb", "r1"),
            basicProfile("db", "r2"),
        },
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialBusy, Cause: 17}
    leg.dialResults["trunk/r2"] = DialResult{Status: DialBusy, Cause: 17}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "a", Profile: "fb"})
    if res.Tallies[DispUnavailable] != 1 {
        t.Fatalf("busy-is-facility route: tallies = %v, want one unavailable", res.Tallies)
    }

    res = env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "b", Profile: "db"})
    if res.Tallies[DispFailure] != 1 {
        t.Fatalf("destination-busy route: tallies = %v, want one failure", res.Tallies)
    }
}

func TestCongestionCauseOverridesBusyStatus(t *testing.T) {
    // Cause 34 (no circuit) is congestion even when the switch reports
    // a busy status and the route treats busy as the destination's.
    env := newTestEnv(t,
        []models.Route{basicRoute("r1", "f1")},
        []models.Profile{basicProfile("net", "r1")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialBusy, Cause: 34}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "a", Profile: "net"})
    if res.Tallies[DispUnavailable] != 1 {
        t.Fatalf("tallies = %v, want one unavailable", res.Tallies)
    }
}

func TestFRLBelowMinimumUnauthorized(t *testing.T) {
    restricted := basicRoute("r1", "f1")
    restricted.MinFRL = 5

    env := newTestEnv(t,
        []models.Route{restricted},
        []models.Profile{basicProfile("net", "r1")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", FRL: 2,
    })

    if res.Code != ResultUnauthorized {
        t.Fatalf("code = %s, want unauthorized", res.Code)
    }
    if leg.dialCount("trunk/r1") != 0 {
        t.Fatal("restricted route was dialed")
    }
}

func upgradeProfile(routes ...string) models.Profile {
    p := basicProfile("net", routes...)
    p.UpgradeEnabled = true
    p.UpgradeDigits = 6
    p.AuthValidator = "main"
    return p
}

func TestAuthUpgradeGrantsAccess(t *testing.T) {
    restricted := basicRoute("r1", "f1")
    restricted.MinFRL = 5

    env := newTestEnv(t,
        []models.Route{restricted},
        []models.Profile{upgradeProfile("r1")},
        Config{}, Options{Validator: stubValidator{code: "123456", frl: 6}})

    leg := newFakeLeg("leg-1")
    leg.digits = []string{"123456"}
    leg.dialResults["trunk/r1"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", FRL: 2,
    })

    if res.Code != ResultSuccess {
        t.Fatalf("code = %s, want success", res.Code)
    }
    if res.FRL != 6 {
        t.Fatalf("result FRL = %d, want upgraded 6", res.FRL)
    }
    if res.TCM != "6" {
        t.Fatalf("TCM = %q, want \"6\"", res.TCM)
    }
    if leg.promptCount() != 1 {
        t.Fatalf("prompted %d times, want 1", leg.promptCount())
    }
}

func TestAuthUpgradePromptedOncePerCall(t *testing.T) {
    r1 := basicRoute("r1", "f1")
    r1.MinFRL = 5
    r2 := basicRoute("r2", "f2")
    r2.MinFRL = 5

    env := newTestEnv(t,
        []models.Route{r1, r2},
        []models.Profile{upgradeProfile("r1", "r2")},
        Config{}, Options{Validator: stubValidator{code: "123456", frl: 3}})

    leg := newFakeLeg("leg-1")
    // Code valid but grants too little; both routes stay unauthorized.
    leg.digits = []string{"123456", "123456"}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", FRL: 0,
    })

    if res.Code != ResultUnauthorized {
        t.Fatalf("code = %s, want unauthorized", res.Code)
    }
    if leg.promptCount() != 1 {
        t.Fatalf("prompted %d times, want exactly 1", leg.promptCount())
    }
}

func TestAuthUpgradeBadCodeTerminal(t *testing.T) {
    r1 := basicRoute("r1", "f1")
    r1.MinFRL = 5
    r2 := basicRoute("r2", "f2")

    env := newTestEnv(t,
        []models.Route{r1, r2},
        []models.Profile{upgradeProfile("r1", "r2")},
        Config{}, Options{Validator: stubValidator{code: "123456", frl: 6}})

    leg := newFakeLeg("leg-1")
    leg.digits = []string{"999999"}
    leg.dialResults["trunk/r2"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", FRL: 0,
    })

    if res.Code != ResultBadAuthCode {
        t.Fatalf("code = %s, want bad-auth-code", res.Code)
    }
    if leg.dialCount("trunk/r2") != 0 {
        t.Fatal("walk continued past an invalid authorization code")
    }
}

func TestRemoteCallerUpgradeBarred(t *testing.T) {
    r1 := basicRoute("r1", "f1")
    r1.MinFRL = 5

    profile := upgradeProfile("r1")
    profile.RemoteUpgrade = false

    env := newTestEnv(t,
        []models.Route{r1},
        []models.Profile{profile},
        Config{}, Options{Validator: stubValidator{code: "123456", frl: 6}})

    leg := newFakeLeg("leg-1")
    leg.digits = []string{"123456"}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", FRL: 0, Remote: true,
    })

    if res.Code != ResultUnauthorized {
        t.Fatalf("code = %s, want unauthorized", res.Code)
    }
    if leg.promptCount() != 0 {
        t.Fatal("remote caller was prompted for a code")
    }
}

func TestExpensiveToneOncePerCall(t *testing.T) {
    r1 := basicRoute("r1", "f1")
    r1.Expensive = true
    r2 := basicRoute("r2", "f2")
    r2.Expensive = true

    profile := basicProfile("net", "r1", "r2")
    profile.ExpensiveTone = true

    env := newTestEnv(t,
        []models.Route{r1, r2},
        []models.Profile{profile},
        Config{ExpensiveTone: "mer-tone"}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialCongestion}
    leg.dialResults["trunk/r2"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net",
    })

    if res.Code != ResultSuccess {
        t.Fatalf("code = %s, want success", res.Code)
    }

    tones := 0
    for _, p := range leg.playedTones() {
        if p == "mer-tone" {
            tones++
        }
    }
    if tones != 1 {
        t.Fatalf("expensive tone played %d times, want exactly 1", tones)
    }
}

func TestExpensiveToneSuppressedByProfile(t *testing.T) {
    r1 := basicRoute("r1", "f1")
    r1.Expensive = true

    env := newTestEnv(t,
        []models.Route{r1},
        []models.Profile{basicProfile("net", "r1")},
        Config{ExpensiveTone: "mer-tone"}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialConnected}

    env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "a", Profile: "net"})

    if len(leg.playedTones()) != 0 {
        t.Fatalf("tone played for profile without expensive-tone option: %v", leg.playedTones())
    }
}

func TestNoSuchProfile(t *testing.T) {
    env := newTestEnv(t, nil, nil, Config{}, Options{})
    leg := newFakeLeg("leg-1")

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "ghost",
    })
    if res.Code != ResultNoSuchProfile {
        t.Fatalf("code = %s, want no-such-profile", res.Code)
    }
}

func TestTimeRestrictionExcludesRoute(t *testing.T) {
    closed := basicRoute("r1", "f1")
    closed.TimeRestriction = "22:00-23:00" // clock pinned at 10:00
    open := basicRoute("r2", "f2")

    env := newTestEnv(t,
        []models.Route{closed, open},
        []models.Profile{basicProfile("net", "r1", "r2")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r2"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "a", Profile: "net"})

    if res.Code != ResultSuccess || res.Route != "r2" {
        t.Fatalf("code/route = %s/%s, want success on r2", res.Code, res.Route)
    }
    if leg.dialCount("trunk/r1") != 0 {
        t.Fatal("time-restricted route was dialed")
    }
}

func TestFacilityLimitRefusesAdmission(t *testing.T) {
    limited := basicRoute("r1", "f1")
    limited.Limit = 1

    env := newTestEnv(t,
        []models.Route{limited},
        []models.Profile{basicProfile("net", "r1")},
        Config{}, Options{})

    // Occupy the single slot.
    occupant := models.NewCallRecord("occupant", "net")
    occupant.Route = "r1"
    occupant.Facility = "f1"
    if !env.ledger.InsertActive(occupant, 1) {
        t.Fatal("setup insert failed")
    }

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "a", Profile: "net"})

    if res.Code != ResultUnroutable {
        t.Fatalf("code = %s, want unroutable", res.Code)
    }
    if leg.dialCount("trunk/r1") != 0 {
        t.Fatal("dial attempted over a full facility")
    }
}

func TestPreemptionPassEvictsAndConnects(t *testing.T) {
    limited := basicRoute("r1", "f1")
    limited.Limit = 1

    env := newTestEnv(t,
        []models.Route{limited},
        []models.Profile{basicProfile("net", "r1")},
        Config{}, Options{})

    // A routine-precedence occupant whose leg unwinds on disconnect,
    // freeing its slot the way a live call's routing loop would.
    occupant := models.NewCallRecord("occupant", "net")
    occupant.Route = "r1"
    occupant.Facility = "f1"
    victimLeg := newFakeLeg("occupant")
    occupant.Leg = disconnectFunc(func(cause string) {
        victimLeg.SoftDisconnect(cause)
        env.ledger.Remove(occupant)
    })
    if !env.ledger.InsertActive(occupant, 1) {
        t.Fatal("setup insert failed")
    }

    leg := newFakeLeg("leg-1")
    leg.dialResults["trunk/r1"] = DialResult{Status: DialConnected}

    res := env.router.RouteCall(context.Background(), leg, CallRequest{
        LegID: "leg-1", Profile: "net", Level: models.PrecedenceImmediate,
    })

    if res.Code != ResultSuccess {
        t.Fatalf("code = %s, want success after preemption", res.Code)
    }
    victimLeg.mu.Lock()
    causes := victimLeg.softCauses
    victimLeg.mu.Unlock()
    if len(causes) != 1 || causes[0] != "preempted" {
        t.Fatalf("victim disconnect causes = %v", causes)
    }
}

type disconnectFunc func(cause string)

func (f disconnectFunc) SoftDisconnect(cause string) { f(cause) }

func TestHangupDuringDialTerminatesWalk(t *testing.T) {
    env := newTestEnv(t,
        []models.Route{basicRoute("r1", "f1"), basicRoute("r2", "f2")},
        []models.Profile{basicProfile("net", "r1", "r2")},
        Config{}, Options{})

    leg := newFakeLeg("leg-1")
    leg.dialErrs["trunk/r1"] = hangupErr()

    res := env.router.RouteCall(context.Background(), leg, CallRequest{LegID: "a", Profile: "net"})

    if res.Code != ResultFailure {
        t.Fatalf("code = %s, want failure on hangup", res.Code)
    }
    if leg.dialCount("trunk/r2") != 0 {
        t.Fatal("walk continued after the caller hung up")
    }
    if env.ledger.Len() != 0 {
        t.Fatal("ledger record leaked after hangup")
    }
}
