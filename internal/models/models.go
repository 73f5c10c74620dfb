package models

import (
    "time"
)

// Facility classes
type FacilityClass string

const (
    FacilityTieLine         FacilityClass = "tie-line"
    FacilityForeignExchange FacilityClass = "foreign-exchange"
    FacilityWideArea        FacilityClass = "wide-area"
)

// Precedence levels for preemption. None is the floor; every active
// call carries one and a call may only evict calls at or below the
// level it requests.
type Precedence int

const (
    PrecedenceNone Precedence = iota
    PrecedencePriority
    PrecedenceImmediate
    PrecedenceFlash
    PrecedenceFlashOverride
)

func (p Precedence) String() string {
    switch p {
    case PrecedencePriority:
        return "priority"
    case PrecedenceImmediate:
        return "immediate"
    case PrecedenceFlash:
        return "flash"
    case PrecedenceFlashOverride:
        return "flash-override"
    default:
        return "none"
    }
}

func (p Precedence) Valid() bool {
    return p >= PrecedenceNone && p <= PrecedenceFlashOverride
}

// Queue priorities
const (
    PriorityMin = 0
    PriorityMax = 3
)

// FRL bounds
const (
    FRLMin = 0
    FRLMax = 7
)

// Route describes one trunk-group route. Immutable once installed in
// the registry; a reload replaces the whole descriptor.
type Route struct {
    Name            string        `json:"name" mapstructure:"name"`
    Facility        string        `json:"facility" mapstructure:"facility"`
    Class           FacilityClass `json:"class" mapstructure:"class"`
    DialTarget      string        `json:"dial_target" mapstructure:"dial_target"`
    MinFRL          int           `json:"min_frl" mapstructure:"min_frl"`
    Expensive       bool          `json:"expensive" mapstructure:"expensive"`
    BusyIsFacility  bool          `json:"busy_is_facility" mapstructure:"busy_is_facility"`
    Limit           int           `json:"limit" mapstructure:"limit"`
    QueueThreshold  int           `json:"queue_threshold" mapstructure:"queue_threshold"`
    OccupancyProbe  string        `json:"occupancy_probe,omitempty" mapstructure:"occupancy_probe"`
    TimeRestriction string        `json:"time_restriction,omitempty" mapstructure:"time_restriction"`
}

// QueueForbidden reports whether off-hook queuing is disabled for the
// route (negative threshold).
func (r *Route) QueueForbidden() bool {
    return r.QueueThreshold < 0
}

// Profile is a CCSA network profile: the default route list plus the
// authorization and queuing policy applied to calls using it.
type Profile struct {
    Name             string        `json:"name" mapstructure:"name"`
    Routes           []string      `json:"routes" mapstructure:"routes"`
    ExpensiveTone    bool          `json:"expensive_tone" mapstructure:"expensive_tone"`
    UpgradeEnabled   bool          `json:"upgrade_enabled" mapstructure:"upgrade_enabled"`
    UpgradeDigits    int           `json:"upgrade_digits" mapstructure:"upgrade_digits"`
    RemoteUpgrade    bool          `json:"remote_upgrade" mapstructure:"remote_upgrade"`
    AuthValidator    string        `json:"auth_validator,omitempty" mapstructure:"auth_validator"`
    PromoteTimer     time.Duration `json:"promote_timer" mapstructure:"promote_timer"`
    AdvanceTimer     time.Duration `json:"advance_timer" mapstructure:"advance_timer"`
    CallbackSource   string        `json:"callback_source,omitempty" mapstructure:"callback_source"`
    CallbackContext  string        `json:"callback_context,omitempty" mapstructure:"callback_context"`
    HoldAnnouncement string        `json:"hold_announcement,omitempty" mapstructure:"hold_announcement"`
    ExtensionPrompt  string        `json:"extension_prompt,omitempty" mapstructure:"extension_prompt"`
}

// CallbackEnabled reports whether the profile admits call-back queue
// entries at all.
func (p *Profile) CallbackEnabled() bool {
    return p.CallbackContext != ""
}

// CallRecord is a ledger entry: an active call occupying a facility or
// a queued call waiting for one. All fields except the wakeup channel
// are guarded by the ledger lock once the record is inserted.
type CallRecord struct {
    LegID     string     `json:"leg_id"`
    Profile   string     `json:"profile"`
    Route     string     `json:"route"`
    Facility  string     `json:"facility"`
    NextRoute string     `json:"next_route,omitempty"`
    Caller    string     `json:"caller"`
    Called    string     `json:"called"`
    Queued    bool       `json:"queued"`
    Callback  bool       `json:"callback"`
    Level     Precedence `json:"level"`
    Priority  int        `json:"priority"`
    Aborted   bool       `json:"aborted"`
    Preempted bool       `json:"preempted"`
    FRL       int        `json:"frl"`
    Extension string     `json:"extension,omitempty"`
    CreatedAt time.Time  `json:"created_at"`

    // Leg lets the preemption arbiter soft-disconnect an active call
    // it has marked. Nil for queued records.
    Leg SoftDisconnector `json:"-"`

    wakeup chan struct{}
}

// SoftDisconnector is the asynchronous disconnect signal to a call
// leg; the evicted call's own routing loop observes the preempted
// mark and unwinds.
type SoftDisconnector interface {
    SoftDisconnect(cause string)
}

// NewCallRecord creates a record with its single-slot wakeup channel.
func NewCallRecord(legID, profile string) *CallRecord {
    return &CallRecord{
        LegID:     legID,
        Profile:   profile,
        CreatedAt: time.Now(),
        wakeup:    make(chan struct{}, 1),
    }
}

// Wakeup returns the channel a waiter blocks on. One waiter per record.
func (c *CallRecord) Wakeup() <-chan struct{} {
    return c.wakeup
}

// Signal posts a wakeup token. Never blocks; if nobody is listening
// and a token is already pending the signal is coalesced.
func (c *CallRecord) Signal() {
    select {
    case c.wakeup <- struct{}{}:
    default:
    }
}

// DrainWakeup discards any pending token so a record leaving the
// ledger cannot hand a stale turn to a later waiter.
func (c *CallRecord) DrainWakeup() {
    select {
    case <-c.wakeup:
    default:
    }
}

// TCM encodes an FRL as the single travelling-class-mark digit.
func TCM(frl int) string {
    if frl < FRLMin {
        frl = FRLMin
    }
    if frl > FRLMax {
        frl = FRLMax
    }
    return string(rune('0' + frl))
}

// CallSnapshot is a copied-out view of a ledger record for admin
// listings; safe to use outside the ledger lock.
type CallSnapshot struct {
    LegID     string     `json:"leg_id"`
    Profile   string     `json:"profile"`
    Route     string     `json:"route"`
    Facility  string     `json:"facility"`
    Caller    string     `json:"caller"`
    Called    string     `json:"called"`
    Queued    bool       `json:"queued"`
    Callback  bool       `json:"callback"`
    Level     Precedence `json:"level"`
    Priority  int        `json:"priority"`
    FRL       int        `json:"frl"`
    Extension string     `json:"extension,omitempty"`
    Elapsed   float64    `json:"elapsed_seconds"`
}
