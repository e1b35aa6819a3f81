package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/filter"
	"github.com/kstaniek/i2c-can-bridge/internal/host"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

var errUsage = errors.New("usage error")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// run executes one command against c and prints the result to w.
func run(c *host.Client, args []string, w io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "count":
		n, err := c.FramesCount()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, n)
	case "recv":
		limit := 255
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n <= 0 {
				return usageErr("recv: bad count %q", rest[0])
			}
			limit = n
		}
		frames, err := c.ReceiveAll(limit)
		for _, f := range frames {
			fmt.Fprintln(w, formatFrame(f))
		}
		return err
	case "send":
		if len(rest) != 1 {
			return usageErr("send <id>#<data>")
		}
		f, err := parseFrame(rest[0])
		if err != nil {
			return usageErr("send: %v", err)
		}
		return c.SendFrame(f)
	case "baud":
		if len(rest) == 0 {
			b, err := c.Bitrate()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, b.BitsPerSecond())
			return nil
		}
		bps, err := strconv.Atoi(rest[0])
		if err != nil {
			return usageErr("baud: %v", err)
		}
		b, err := regmap.BitrateFor(bps)
		if err != nil {
			return usageErr("baud: %v", err)
		}
		return c.SetBitrate(b)
	case "addr":
		if len(rest) != 1 {
			return usageErr("addr <new>")
		}
		a, err := strconv.ParseUint(rest[0], 0, 8)
		if err != nil {
			return usageErr("addr: %v", err)
		}
		if err := c.ChangeAddress(uint8(a)); err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%02X\n", c.Address())
	case "mask", "filter":
		return ruleCmd(c, cmd, rest, w)
	default:
		return usageErr("unknown command %q", cmd)
	}
	return nil
}

func ruleCmd(c *host.Client, cmd string, args []string, w io.Writer) error {
	if len(args) == 0 || len(args) > 2 {
		return usageErr("%s <index> [rule]", cmd)
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return usageErr("%s: bad index %q", cmd, args[0])
	}
	get, set := c.Mask, c.SetMask
	if cmd == "filter" {
		get, set = c.Filter, c.SetFilter
	}
	if len(args) == 1 {
		r, err := get(i)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, formatRule(r))
		return nil
	}
	r, err := parseRule(args[1])
	if err != nil {
		return usageErr("%s: %v", cmd, err)
	}
	return set(i, r)
}

// parseFrame accepts the candump notation <id>#<hex data> or <id>#R. IDs
// with more than three hex digits are extended.
func parseFrame(s string) (can.Frame, error) {
	idStr, dataStr, ok := strings.Cut(s, "#")
	if !ok || idStr == "" {
		return can.Frame{}, fmt.Errorf("missing '#' in %q", s)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("bad id %q", idStr)
	}
	if id > can.EFFMask {
		return can.Frame{}, fmt.Errorf("id 0x%X out of range", id)
	}
	var f can.Frame
	if strings.EqualFold(dataStr, "R") {
		f = can.New(uint32(id))
		f.Remote = true
	} else {
		data, err := hex.DecodeString(strings.ReplaceAll(dataStr, ".", ""))
		if err != nil {
			return can.Frame{}, fmt.Errorf("bad data %q", dataStr)
		}
		if len(data) > can.DataSize {
			return can.Frame{}, fmt.Errorf("data longer than %d bytes", can.DataSize)
		}
		f = can.New(uint32(id), data...)
	}
	f.Extended = len(idStr) > 3 || id > can.SFFMask
	if !f.ValidID() {
		return can.Frame{}, fmt.Errorf("id 0x%X out of range", id)
	}
	return f, nil
}

func formatFrame(f can.Frame) string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	if f.Remote {
		return fmt.Sprintf("%-8s  [%d]  remote", id, f.Len)
	}
	return fmt.Sprintf("%-8s  [%d]  % X", id, f.Len, f.Payload())
}

// parseRule accepts std:<hex-id> or ext:<hex-id>.
func parseRule(s string) (filter.Rule, error) {
	kind, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return filter.Rule{}, fmt.Errorf("rule %q: want std:<id> or ext:<id>", s)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return filter.Rule{}, fmt.Errorf("rule %q: bad id", s)
	}
	switch kind {
	case "std":
		if id > can.SFFMask {
			return filter.Rule{}, fmt.Errorf("rule %q: standard id out of range", s)
		}
		return filter.Rule{ID: uint32(id)}, nil
	case "ext":
		if id > can.EFFMask {
			return filter.Rule{}, fmt.Errorf("rule %q: extended id out of range", s)
		}
		return filter.Rule{Extended: true, ID: uint32(id)}, nil
	default:
		return filter.Rule{}, fmt.Errorf("rule %q: want std:<id> or ext:<id>", s)
	}
}

func formatRule(r filter.Rule) string {
	if r.Extended {
		return fmt.Sprintf("ext:%08X", r.ID)
	}
	return fmt.Sprintf("std:%03X", r.ID)
}
