package router

// Disposition is the per-route outcome of attemptRoute.
type Disposition int

const (
    DispSuccess Disposition = iota
    DispUnavailable
    DispUnauthorized
    DispInvalidCode
    DispPreemptionFailed
    DispPreempted
    DispHangup
    DispFailure
)

func (d Disposition) String() string {
    switch d {
    case DispSuccess:
        return "success"
    case DispUnavailable:
        return "unavailable"
    case DispUnauthorized:
        return "unauthorized"
    case DispInvalidCode:
        return "invalid-code"
    case DispPreemptionFailed:
        return "preemption-failed"
    case DispPreempted:
        return "preempted"
    case DispHangup:
        return "hangup"
    default:
        return "failure"
    }
}

// terminal dispositions abort the route walk immediately.
func (d Disposition) terminal() bool {
    switch d {
    case DispInvalidCode, DispPreempted, DispHangup:
        return true
    default:
        return false
    }
}

// ResultCode is the single terminal outcome of a call attempt; the
// caller side branches on it deterministically.
type ResultCode string

const (
    ResultSuccess          ResultCode = "success"
    ResultCallbackQueued   ResultCode = "callback-queued"
    ResultNoSuchProfile    ResultCode = "no-such-profile"
    ResultNoRoutes         ResultCode = "no-routes"
    ResultUnroutable       ResultCode = "unroutable"
    ResultUnauthorized     ResultCode = "unauthorized"
    ResultBadAuthCode      ResultCode = "bad-auth-code"
    ResultOHQTimeout       ResultCode = "off-hook-queue-timed-out"
    ResultCallbackFailed   ResultCode = "call-back-failed"
    ResultPreempted        ResultCode = "preempted"
    ResultPreemptionFailed ResultCode = "preemption-failed"
    ResultFailure          ResultCode = "failure"
)

// Result is the terminal outcome of RouteCall.
type Result struct {
    Code     ResultCode          `json:"code"`
    Route    string              `json:"route,omitempty"`
    Facility string              `json:"facility,omitempty"`
    FRL      int                 `json:"frl"`
    TCM      string              `json:"tcm"`
    Tallies  map[Disposition]int `json:"-"`
}
