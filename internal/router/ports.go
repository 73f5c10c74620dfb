package router

import (
    "context"
    "time"
)

// DialStatus classifies the outcome of a dial attempt.
type DialStatus int

const (
    DialConnected DialStatus = iota
    DialBusy
    DialCongestion
    DialFailed
)

// DialResult carries the dial status and, for failures, the signaling
// cause code reported by the facility.
type DialResult struct {
    Status DialStatus
    Cause  int
}

// PlayResult classifies the outcome of a tone or announcement.
type PlayResult int

const (
    PlayCompleted PlayResult = iota
    PlayInterrupted
    PlayHangup
)

// Occupancy is the device-occupancy probe's answer.
type Occupancy int

const (
    OccupancyUnknown Occupancy = iota
    OccupancyIdle
    OccupancyInUse
)

// Leg is the call-leg collaborator: every blocking operation the
// router performs against the caller's leg goes through it. Dial may
// block for the whole conversation.
type Leg interface {
    ID() string
    Dial(ctx context.Context, target string) (DialResult, error)
    Play(ctx context.Context, prompt string) (PlayResult, error)
    PromptDigits(ctx context.Context, prompt string, maxLen int) (string, error)
    SoftDisconnect(cause string)
    ClearSoftDisconnect()
    Hangup() <-chan struct{}
}

// AuthValidator delegates authorization-code validation to the
// profile's external subroutine. Returns the granted FRL, or an error
// with code ErrBadAuthCode when the code is rejected.
type AuthValidator interface {
    Validate(ctx context.Context, validator, code string, remote bool) (int, error)
}

// FieldRecorder writes call-detail fields best-effort; it must never
// block the routing path.
type FieldRecorder interface {
    Record(legID, field, value string)
}

// OccupancyProbe is the optional facility-saturation hint.
type OccupancyProbe interface {
    Occupancy(ctx context.Context, probe string) Occupancy
}

// Clock abstracts time for time-of-day restrictions and timers.
type Clock interface {
    Now() time.Time
}

// OriginateRequest describes a call-back connection to be placed when
// a queued entry gets its turn.
type OriginateRequest struct {
    Extension string
    Context   string
    Source    string
    Route     string
    FRL       int
    Priority  int
    Timeout   time.Duration
}

// Originator places call-back connections downstream.
type Originator interface {
    Originate(ctx context.Context, req OriginateRequest) error
}

// MetricsInterface defines metrics operations
type MetricsInterface interface {
    IncrementCounter(name string, labels map[string]string)
    ObserveHistogram(name string, value float64, labels map[string]string)
    SetGauge(name string, value float64, labels map[string]string)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type nopMetrics struct{}

func (nopMetrics) IncrementCounter(string, map[string]string)          {}
func (nopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (nopMetrics) SetGauge(string, float64, map[string]string)         {}

type nopRecorder struct{}

func (nopRecorder) Record(string, string, string) {}
