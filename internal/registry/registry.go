package registry

import (
    "sync"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/pkg/errors"
)

// RouteRegistry maps route names to immutable descriptors. Readers
// proceed concurrently; a reload holds the single writer section per
// upsert, so a lookup never sees a half-written descriptor.
type RouteRegistry struct {
    mu     sync.RWMutex
    routes map[string]models.Route
}

func NewRouteRegistry() *RouteRegistry {
    return &RouteRegistry{routes: make(map[string]models.Route)}
}

// Upsert validates and installs a descriptor. A record failing
// mandatory-field validation is skipped, leaving any prior version of
// the same name intact.
func (rr *RouteRegistry) Upsert(route models.Route) error {
    if err := validateRoute(route); err != nil {
        return err
    }

    rr.mu.Lock()
    rr.routes[route.Name] = route
    rr.mu.Unlock()
    return nil
}

func (rr *RouteRegistry) Lookup(name string) (models.Route, error) {
    rr.mu.RLock()
    route, ok := rr.routes[name]
    rr.mu.RUnlock()

    if !ok {
        return models.Route{}, errors.New(errors.ErrRouteNotFound, "route not found").
            WithContext("route", name)
    }
    return route, nil
}

func (rr *RouteRegistry) List() []models.Route {
    rr.mu.RLock()
    defer rr.mu.RUnlock()

    out := make([]models.Route, 0, len(rr.routes))
    for _, r := range rr.routes {
        out = append(out, r)
    }
    return out
}

func (rr *RouteRegistry) Delete(name string) bool {
    rr.mu.Lock()
    defer rr.mu.Unlock()

    if _, ok := rr.routes[name]; !ok {
        return false
    }
    delete(rr.routes, name)
    return true
}

func validateRoute(route models.Route) error {
    if route.Name == "" {
        return errors.New(errors.ErrConfiguration, "route name is required")
    }
    if route.Facility == "" {
        return errors.New(errors.ErrConfiguration, "route facility is required").
            WithContext("route", route.Name)
    }
    if route.DialTarget == "" {
        return errors.New(errors.ErrConfiguration, "route dial target is required").
            WithContext("route", route.Name)
    }
    if route.MinFRL < models.FRLMin || route.MinFRL > models.FRLMax {
        return errors.New(errors.ErrConfiguration, "route min_frl out of range").
            WithContext("route", route.Name).
            WithContext("min_frl", route.MinFRL)
    }
    if route.Limit < 0 {
        return errors.New(errors.ErrConfiguration, "route limit must be >= 0").
            WithContext("route", route.Name)
    }
    if route.TimeRestriction != "" {
        if _, err := ParseTimeRestriction(route.TimeRestriction); err != nil {
            return errors.Wrap(err, errors.ErrConfiguration, "route time restriction invalid").
                WithContext("route", route.Name)
        }
    }
    return nil
}

// ProfileRegistry maps network names to CCSA profiles.
type ProfileRegistry struct {
    mu       sync.RWMutex
    profiles map[string]models.Profile
}

func NewProfileRegistry() *ProfileRegistry {
    return &ProfileRegistry{profiles: make(map[string]models.Profile)}
}

func (pr *ProfileRegistry) Upsert(profile models.Profile) error {
    if err := validateProfile(profile); err != nil {
        return err
    }

    pr.mu.Lock()
    pr.profiles[profile.Name] = profile
    pr.mu.Unlock()
    return nil
}

func (pr *ProfileRegistry) Lookup(name string) (models.Profile, error) {
    pr.mu.RLock()
    profile, ok := pr.profiles[name]
    pr.mu.RUnlock()

    if !ok {
        return models.Profile{}, errors.New(errors.ErrProfileNotFound, "profile not found").
            WithContext("profile", name)
    }
    return profile, nil
}

func (pr *ProfileRegistry) List() []models.Profile {
    pr.mu.RLock()
    defer pr.mu.RUnlock()

    out := make([]models.Profile, 0, len(pr.profiles))
    for _, p := range pr.profiles {
        out = append(out, p)
    }
    return out
}

func (pr *ProfileRegistry) Delete(name string) bool {
    pr.mu.Lock()
    defer pr.mu.Unlock()

    if _, ok := pr.profiles[name]; !ok {
        return false
    }
    delete(pr.profiles, name)
    return true
}

func validateProfile(profile models.Profile) error {
    if profile.Name == "" {
        return errors.New(errors.ErrConfiguration, "profile name is required")
    }
    if len(profile.Routes) == 0 {
        return errors.New(errors.ErrConfiguration, "profile has no routes").
            WithContext("profile", profile.Name)
    }
    if profile.UpgradeEnabled && profile.UpgradeDigits <= 0 {
        return errors.New(errors.ErrConfiguration, "upgrade enabled without digit length").
            WithContext("profile", profile.Name)
    }
    if profile.PromoteTimer < 0 || profile.AdvanceTimer < 0 {
        return errors.New(errors.ErrConfiguration, "profile timers must be >= 0").
            WithContext("profile", profile.Name)
    }
    return nil
}
