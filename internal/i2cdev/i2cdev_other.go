//go:build !linux

// Package i2cdev masters a real I2C bus through the Linux i2c-dev driver.
package i2cdev

import "errors"

// ErrUnsupported is returned on platforms without i2c-dev.
var ErrUnsupported = errors.New("i2cdev: only supported on linux")

// Dev is unavailable on this platform.
type Dev struct{}

func Open(string) (*Dev, error)                 { return nil, ErrUnsupported }
func (d *Dev) Tx(addr uint8, w, r []byte) error { return ErrUnsupported }
func (d *Dev) Close() error                     { return nil }
