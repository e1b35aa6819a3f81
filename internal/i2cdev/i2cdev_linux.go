//go:build linux

// Package i2cdev masters a real I2C bus through the Linux i2c-dev driver.
package i2cdev

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

// Dev is an open /dev/i2c-N adapter. Safe for concurrent use.
type Dev struct {
	mu   sync.Mutex
	f    *os.File
	addr int
}

// Open opens the adapter at path, e.g. /dev/i2c-1.
func Open(path string) (*Dev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Dev{f: f, addr: -1}, nil
}

// Tx writes w then reads len(r) bytes from the slave at addr. The two halves
// are separate bus transactions (stop between them).
func (d *Dev) Tx(addr uint8, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(addr) != d.addr {
		if err := unix.IoctlSetInt(int(d.f.Fd()), i2cSlave, int(addr)); err != nil {
			return fmt.Errorf("i2c select 0x%02X: %w", addr, err)
		}
		d.addr = int(addr)
	}
	if len(w) > 0 {
		if _, err := d.f.Write(w); err != nil {
			return fmt.Errorf("i2c write 0x%02X: %w", addr, err)
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(d.f, r); err != nil {
			return fmt.Errorf("i2c read 0x%02X: %w", addr, err)
		}
	}
	return nil
}

// Close releases the adapter.
func (d *Dev) Close() error { return d.f.Close() }
