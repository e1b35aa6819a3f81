package main

import (
	"errors"
	"log/slog"

	"github.com/kstaniek/i2c-can-bridge/internal/device"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
	"github.com/kstaniek/i2c-can-bridge/internal/store"
)

// settingsLoader is satisfied by store.File.
type settingsLoader interface {
	Load() (device.Settings, error)
}

// resolveSettings merges the persisted image with the configuration. Flags
// fill in a missing or corrupt image; explicitly set flags override the image.
func resolveSettings(cfg *appConfig, st settingsLoader, l *slog.Logger) device.Settings {
	s := device.DefaultSettings()
	s.Revision = regmap.Revision(cfg.revision)
	s.Address = byte(cfg.address)
	if b, err := regmap.BitrateFor(cfg.canBitrate); err == nil {
		s.Bitrate = b
	}
	if st == nil {
		return s
	}
	loaded, err := st.Load()
	switch {
	case err == nil:
		l.Info("settings_loaded", "address", loaded.Address, "bitrate", loaded.Bitrate.String(), "revision", loaded.Revision.String())
	case errors.Is(err, store.ErrNotFound):
		l.Info("settings_default")
		return s
	default:
		l.Warn("settings_load_failed", "error", err)
		return s
	}
	if cfg.isExplicit("revision") {
		loaded.Revision = s.Revision
	}
	if cfg.isExplicit("address") {
		loaded.Address = s.Address
	}
	if cfg.isExplicit("can-bitrate") {
		loaded.Bitrate = s.Bitrate
	}
	return loaded
}
