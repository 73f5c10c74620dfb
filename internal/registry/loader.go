package registry

import (
    "fmt"

    "github.com/mitchellh/mapstructure"
    "github.com/spf13/viper"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/pkg/logger"
)

// Load materializes both registries from the viper tree ("routes" and
// "profiles" maps). Unknown fields are reported, not fatal; an entry
// failing validation is skipped and any prior version of that name is
// retained.
func Load(v *viper.Viper, rr *RouteRegistry, pr *ProfileRegistry) (int, int) {
    installedRoutes := 0
    for name := range v.GetStringMap("routes") {
        var route models.Route
        md, err := decodeEntry(v, "routes."+name, &route)
        if err != nil {
            logger.WithError(err).WithField("route", name).Error("Failed to decode route, skipping")
            continue
        }
        reportUnknownFields("route", name, md)

        if route.Name == "" {
            route.Name = name
        }

        if err := rr.Upsert(route); err != nil {
            logger.WithError(err).WithField("route", name).Error("Invalid route skipped, prior version retained")
            continue
        }
        installedRoutes++
    }

    installedProfiles := 0
    for name := range v.GetStringMap("profiles") {
        var profile models.Profile
        md, err := decodeEntry(v, "profiles."+name, &profile)
        if err != nil {
            logger.WithError(err).WithField("profile", name).Error("Failed to decode profile, skipping")
            continue
        }
        reportUnknownFields("profile", name, md)

        if profile.Name == "" {
            profile.Name = name
        }

        if err := pr.Upsert(profile); err != nil {
            logger.WithError(err).WithField("profile", name).Error("Invalid profile skipped, prior version retained")
            continue
        }
        installedProfiles++
    }

    logger.WithField("routes", installedRoutes).
        WithField("profiles", installedProfiles).
        Info("Registries loaded")

    return installedRoutes, installedProfiles
}

// LoadAuthSets materializes the authorization-code registry from the
// "auth_validators" map, with the same skip-and-retain policy.
func LoadAuthSets(v *viper.Viper, ar *AuthRegistry) int {
    installed := 0
    for name := range v.GetStringMap("auth_validators") {
        var set AuthCodeSet
        md, err := decodeEntry(v, "auth_validators."+name, &set)
        if err != nil {
            logger.WithError(err).WithField("validator", name).Error("Failed to decode auth code set, skipping")
            continue
        }
        reportUnknownFields("validator", name, md)

        if set.Name == "" {
            set.Name = name
        }

        if err := ar.Upsert(set); err != nil {
            logger.WithError(err).WithField("validator", name).Error("Invalid auth code set skipped, prior version retained")
            continue
        }
        installed++
    }
    return installed
}

func decodeEntry(v *viper.Viper, key string, out interface{}) (*mapstructure.Metadata, error) {
    md := &mapstructure.Metadata{}
    err := v.UnmarshalKey(key, out, func(dc *mapstructure.DecoderConfig) {
        dc.Metadata = md
    })
    if err != nil {
        return nil, fmt.Errorf("decode %s: %w", key, err)
    }
    return md, nil
}

func reportUnknownFields(kind, name string, md *mapstructure.Metadata) {
    for _, key := range md.Unused {
        logger.WithField(kind, name).WithField("field", key).Warn("Unknown configuration field ignored")
    }
}
