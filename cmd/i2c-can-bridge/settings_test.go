package main

import (
	"path/filepath"
	"testing"

	"github.com/kstaniek/i2c-can-bridge/internal/device"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
	"github.com/kstaniek/i2c-can-bridge/internal/store"
)

type fakeLoader struct {
	s   device.Settings
	err error
}

func (f fakeLoader) Load() (device.Settings, error) { return f.s, f.err }

func TestResolveSettings(t *testing.T) {
	persisted := device.DefaultSettings()
	persisted.Address = 0x40
	persisted.Bitrate = regmap.Bitrate125K
	persisted.Filters.Masks[0].ID = 0x7FF

	cases := []struct {
		name     string
		explicit []string
		loader   settingsLoader
		addr     byte
		bitrate  regmap.Bitrate
		rev      regmap.Revision
	}{
		{"noStore", nil, nil, 0x30, regmap.Bitrate250K, regmap.Rev2},
		{"notFound", nil, fakeLoader{err: store.ErrNotFound}, 0x30, regmap.Bitrate250K, regmap.Rev2},
		{"corrupt", nil, fakeLoader{err: store.ErrCorrupt}, 0x30, regmap.Bitrate250K, regmap.Rev2},
		{"persistedWins", nil, fakeLoader{s: persisted}, 0x40, regmap.Bitrate125K, regmap.Rev1},
		{"explicitAddress", []string{"address"}, fakeLoader{s: persisted}, 0x30, regmap.Bitrate125K, regmap.Rev1},
		{"explicitAll", []string{"address", "can-bitrate", "revision"}, fakeLoader{s: persisted}, 0x30, regmap.Bitrate250K, regmap.Rev2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.address, cfg.canBitrate, cfg.revision = 0x30, 250000, 2
			cfg.explicit = map[string]struct{}{}
			for _, n := range tc.explicit {
				cfg.explicit[n] = struct{}{}
			}
			got := resolveSettings(cfg, tc.loader, testLogger())
			if got.Address != tc.addr || got.Bitrate != tc.bitrate || got.Revision != tc.rev {
				t.Fatalf("got addr=0x%X bitrate=%v rev=%v", got.Address, got.Bitrate, got.Revision)
			}
		})
	}
}

func TestInitDevicePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")
	cfg := validConfig()
	cfg.settingsPath = path
	h := initHub(cfg, testLogger())
	dev, ctrl, err := initDevice(cfg, h, testLogger())
	if err != nil {
		t.Fatalf("initDevice: %v", err)
	}
	if ctrl.Bitrate() != regmap.Bitrate500K {
		t.Fatalf("controller bitrate %v", ctrl.Bitrate())
	}
	// two-step address change through the register interface
	if err := dev.Receive([]byte{regmap.RegI2CAddressSet, regmap.Rev1.ConfirmMagic()}); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := dev.Receive([]byte{regmap.RegI2CAddress, 0x41}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.NewFile(path).Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	dev2, _, err := initDevice(cfg, initHub(cfg, testLogger()), testLogger())
	if err != nil {
		t.Fatalf("initDevice again: %v", err)
	}
	if dev2.Address() != 0x41 {
		t.Fatalf("address after restart 0x%X want 0x41", dev2.Address())
	}
}

func TestInitDeviceBadPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.bufPolicy = "bogus"
	if _, _, err := initDevice(cfg, initHub(cfg, testLogger()), testLogger()); err == nil {
		t.Fatalf("expected error")
	}
}
