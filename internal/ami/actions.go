package ami

import (
    "context"
    "fmt"
    "time"

    "github.com/etncore/ars/internal/router"
    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

// Originate places a call-back connection: it rings the waiting
// station, and when answered, re-enters the dialplan with the routing
// parameters pre-set so the caller is not re-prompted.
func (m *Manager) Originate(ctx context.Context, req router.OriginateRequest) error {
    action := Action{
        Action: "Originate",
        Fields: map[string]string{
            "Channel":  fmt.Sprintf("Local/%s@%s", req.Extension, req.Context),
            "Context":  req.Context,
            "Exten":    req.Extension,
            "Priority": "1",
            "CallerID": req.Source,
            "Timeout":  fmt.Sprintf("%d", req.Timeout.Milliseconds()),
            "Variable": originateVariables(req),
            "Async":    "false",
        },
    }

    response, err := m.SendAction(action)
    if err != nil {
        return err
    }

    if response["Response"] != "Success" {
        msg := response["Message"]
        if msg == "" {
            msg = "originate failed"
        }
        return errors.New(errors.ErrAMIConnection, msg)
    }

    logger.WithField("extension", req.Extension).WithField("route", req.Route).
        Info("Call-back connection originated")
    return nil
}

// originateVariables pins the rung-back call's routing state onto the
// channel: reserved route, queue priority and effective FRL carry
// over, and the re-entry can neither re-prompt nor re-queue.
func originateVariables(req router.OriginateRequest) string {
    return fmt.Sprintf(
        "ARS_ROUTES=%s,ARS_FRL=%d,ARS_PRIORITY=%d,ARS_CB_EXTENSION=%s,ARS_UPGRADE_DONE=yes,ARS_CALLBACK=no",
        req.Route, req.FRL, req.Priority, req.Extension)
}

// SoftHangup tears a channel down with a preemption cause so the
// victim's leg hears the preempt treatment before the drop.
func (m *Manager) SoftHangup(channel, cause string) error {
    action := Action{
        Action: "Hangup",
        Fields: map[string]string{
            "Channel": channel,
            "Cause":   "8", // preemption
        },
    }

    response, err := m.SendAction(action)
    if err != nil {
        return err
    }

    if response["Response"] != "Success" {
        return errors.New(errors.ErrAMIConnection, "failed to hang up channel")
    }

    logger.WithField("channel", channel).WithField("cause", cause).Info("Channel soft-disconnected")
    return nil
}

// Occupancy implements the facility occupancy probe by reading the
// switch's device state for the route's probe hint.
func (m *Manager) Occupancy(ctx context.Context, probe string) router.Occupancy {
    if !m.IsConnected() {
        return router.OccupancyUnknown
    }

    action := Action{
        Action: "Getvar",
        Fields: map[string]string{
            "Variable": fmt.Sprintf("DEVICE_STATE(%s)", probe),
        },
    }

    response, err := m.SendAction(action)
    if err != nil || response["Response"] != "Success" {
        return router.OccupancyUnknown
    }

    switch response["Value"] {
    case "INUSE", "BUSY", "RINGINUSE":
        return router.OccupancyInUse
    case "NOT_INUSE", "IDLE":
        return router.OccupancyIdle
    default:
        return router.OccupancyUnknown
    }
}

// ShowChannels lists the switch's active channels for the admin
// surface.
func (m *Manager) ShowChannels() ([]map[string]string, error) {
    response, err := m.SendAction(Action{Action: "CoreShowChannels"})
    if err != nil {
        return nil, err
    }
    if response["Response"] != "Success" {
        return nil, errors.New(errors.ErrAMIConnection, "failed to list channels")
    }

    collected := make(chan Event, 256)
    complete := make(chan struct{}, 1)

    handler := func(event Event) {
        switch event["Event"] {
        case "CoreShowChannel":
            select {
            case collected <- event:
            default:
            }
        case "CoreShowChannelsComplete":
            select {
            case complete <- struct{}{}:
            default:
            }
        }
    }

    removeChannel := m.RegisterEventHandler("CoreShowChannel", handler)
    removeComplete := m.RegisterEventHandler("CoreShowChannelsComplete", handler)
    defer removeChannel()
    defer removeComplete()

    timeout := time.After(5 * time.Second)
    var channels []map[string]string
    for {
        select {
        case ev := <-collected:
            channels = append(channels, ev)
        case <-complete:
            return channels, nil
        case <-timeout:
            return channels, nil
        case <-m.shutdown:
            return channels, nil
        }
    }
}
