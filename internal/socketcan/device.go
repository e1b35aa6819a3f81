//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
)

// ErrErrorFrame is returned by ReadFrame for controller error frames.
var ErrErrorFrame = errors.New("socketcan: error frame")

type Device struct {
	fd int
}

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// older kernels may not know this option
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	return unpack(buf[:], fr)
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	pack(buf[:], fr)
	_, err := unix.Write(d.fd, buf[:])
	return err
}

// struct can_frame (linux/can.h), host byte order (little-endian on the
// targets we ship):
//
//	can_id  u32  [0:4]  EFF/RTR/ERR flags in the top bits
//	can_dlc u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func unpack(buf []byte, fr *can.Frame) error {
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&unix.CAN_ERR_FLAG != 0 {
		return ErrErrorFrame
	}
	*fr = can.Frame{}
	fr.Extended = raw&unix.CAN_EFF_FLAG != 0
	fr.Remote = raw&unix.CAN_RTR_FLAG != 0
	if fr.Extended {
		fr.ID = raw & unix.CAN_EFF_MASK
	} else {
		fr.ID = raw & unix.CAN_SFF_MASK
	}
	dlc := int(buf[4])
	if dlc > can.DataSize {
		dlc = can.DataSize
	}
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

func pack(buf []byte, fr can.Frame) {
	var raw uint32
	if fr.Extended {
		raw = fr.ID&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG
	} else {
		raw = fr.ID & unix.CAN_SFF_MASK
	}
	if fr.Remote {
		raw |= unix.CAN_RTR_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], raw)
	buf[4] = fr.Len
	copy(buf[8:], fr.Payload())
}
