// Package filter implements MCP2515-style acceptance masks and filters.
//
// Receive buffer 0 is guarded by mask 0 and filters 0-1, receive buffer 1 by
// mask 1 and filters 2-5. A frame is accepted when any filter of either
// buffer matches under that buffer's mask and the filter's extended flag
// equals the frame's. A zero mask matches every frame of either format.
//
// Masks follow the chip's register layout: an extended mask holds the 11
// standard-ID bits in its top bits (28..18), so standard frames are compared
// under mask>>18. A standard mask only covers those top bits of an extended
// identifier, leaving the 18 low bits don't-care.
package filter

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

// ErrInvalidRule is returned when a mask/filter payload cannot be parsed.
var ErrInvalidRule = errors.New("filter: invalid rule")

// Rule is one mask or filter value.
type Rule struct {
	Extended bool
	ID       uint32
}

// ParseRule decodes a register payload [ext, id3, id2, id1, id0].
func ParseRule(p []byte) (Rule, error) {
	if len(p) != regmap.RuleSize {
		return Rule{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidRule, len(p), regmap.RuleSize)
	}
	if p[0] > 1 {
		return Rule{}, fmt.Errorf("%w: ext flag 0x%02X", ErrInvalidRule, p[0])
	}
	r := Rule{Extended: p[0] == 1, ID: binary.BigEndian.Uint32(p[1:])}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (r Rule) limit() uint32 {
	if r.Extended {
		return can.EFFMask
	}
	return can.SFFMask
}

// Valid reports whether ID fits the width implied by Extended.
func (r Rule) Valid() bool { return r.ID <= r.limit() }

// Validate is Valid with an ErrInvalidRule describing the violation.
func (r Rule) Validate() error {
	if !r.Valid() {
		return fmt.Errorf("%w: id 0x%X exceeds 0x%X", ErrInvalidRule, r.ID, r.limit())
	}
	return nil
}

// Bytes returns the register payload for r.
func (r Rule) Bytes() []byte {
	b := make([]byte, regmap.RuleSize)
	if r.Extended {
		b[0] = 1
	}
	binary.BigEndian.PutUint32(b[1:], r.ID)
	return b
}

// Set holds both masks and all filters.
type Set struct {
	Masks   [2]Rule
	Filters [regmap.MaskFilterSize]Rule
}

// Validate checks every mask and filter.
func (s *Set) Validate() error {
	for i, r := range s.Masks {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("mask%d: %w", i, err)
		}
	}
	for i, r := range s.Filters {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("filt%d: %w", i, err)
		}
	}
	return nil
}

// AcceptAll reports whether both masks are zero.
func (s *Set) AcceptAll() bool { return s.Masks[0].ID == 0 && s.Masks[1].ID == 0 }

// Accept reports whether f passes the acceptance logic.
func (s *Set) Accept(f can.Frame) bool {
	if s.AcceptAll() {
		return true
	}
	return s.match(0, s.Filters[0:2], f) || s.match(1, s.Filters[2:6], f)
}

// sidShift positions the standard ID inside an extended mask.
const sidShift = 18

func (s *Set) match(buf int, filters []Rule, f can.Frame) bool {
	m := s.Masks[buf]
	if m.ID == 0 {
		return true
	}
	mask := m.ID
	switch {
	case m.Extended && !f.Extended:
		mask >>= sidShift
	case !m.Extended && f.Extended:
		mask <<= sidShift
	}
	for _, flt := range filters {
		if flt.Extended != f.Extended {
			continue
		}
		if f.ID&mask == flt.ID&mask {
			return true
		}
	}
	return false
}
