// Package store persists device settings, standing in for the bridge's
// EEPROM. The image is a small CBOR record written atomically.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/kstaniek/i2c-can-bridge/internal/device"
	"github.com/kstaniek/i2c-can-bridge/internal/filter"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

// imageVersion is bumped when the record layout changes.
const imageVersion = 1

var (
	// ErrNotFound is returned by Load when no image exists yet.
	ErrNotFound = errors.New("store: no settings image")
	// ErrCorrupt is returned for undecodable or out-of-range images.
	ErrCorrupt = errors.New("store: corrupt settings image")
)

type rule struct {
	Ext bool   `cbor:"1,keyasint"`
	ID  uint32 `cbor:"2,keyasint"`
}

type image struct {
	Version  int     `cbor:"1,keyasint"`
	Address  uint8   `cbor:"2,keyasint"`
	Bitrate  uint8   `cbor:"3,keyasint"`
	Revision uint8   `cbor:"4,keyasint"`
	Masks    [2]rule `cbor:"5,keyasint"`
	Filters  [6]rule `cbor:"6,keyasint"`
}

// File stores settings in a single file. Implements device.Persister.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a store at path.
func NewFile(path string) *File { return &File{path: path} }

// Path returns the image location.
func (f *File) Path() string { return f.path }

// Save writes s to a temporary file and renames it over the image.
func (f *File) Save(s device.Settings) error {
	b, err := Marshal(s)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// Load reads the image. ErrNotFound when missing.
func (f *File) Load() (device.Settings, error) {
	f.mu.Lock()
	b, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return device.Settings{}, ErrNotFound
	}
	if err != nil {
		return device.Settings{}, fmt.Errorf("store: read: %w", err)
	}
	return Unmarshal(b)
}

// Marshal encodes s as a CBOR image.
func Marshal(s device.Settings) ([]byte, error) {
	img := image{
		Version:  imageVersion,
		Address:  s.Address,
		Bitrate:  uint8(s.Bitrate),
		Revision: uint8(s.Revision),
	}
	for i, r := range s.Filters.Masks {
		img.Masks[i] = rule{Ext: r.Extended, ID: r.ID}
	}
	for i, r := range s.Filters.Filters {
		img.Filters[i] = rule{Ext: r.Extended, ID: r.ID}
	}
	return cbor.Marshal(img)
}

// Unmarshal decodes and validates an image.
func Unmarshal(b []byte) (device.Settings, error) {
	var img image
	dec := cbor.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&img); err != nil {
		return device.Settings{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if img.Version != imageVersion {
		return device.Settings{}, fmt.Errorf("%w: version %d", ErrCorrupt, img.Version)
	}
	s := device.Settings{
		Address:  img.Address,
		Bitrate:  regmap.Bitrate(img.Bitrate),
		Revision: regmap.Revision(img.Revision),
	}
	for i, r := range img.Masks {
		s.Filters.Masks[i] = filter.Rule{Extended: r.Ext, ID: r.ID}
	}
	for i, r := range img.Filters {
		s.Filters.Filters[i] = filter.Rule{Extended: r.Ext, ID: r.ID}
	}
	if err := s.Validate(); err != nil {
		return device.Settings{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}
