// Command i2c-can-ctl masters an i2c-can bridge, either over the register
// link of i2c-can-bridge or through a Linux /dev/i2c-N adapter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/host"
	"github.com/kstaniek/i2c-can-bridge/internal/i2cdev"
	"github.com/kstaniek/i2c-can-bridge/internal/logging"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
	"github.com/kstaniek/i2c-can-bridge/internal/wire"
)

const usage = `usage: i2c-can-ctl [flags] <command> [args]

commands:
  count                  number of unread frames
  recv [max]             read and print buffered frames (default: all)
  send <id>#<data>       transmit a frame (revision 2), e.g. 123#0102 or 18FF0001#R
  baud [bit/s]           read or set the CAN bit rate
  addr <new>             move the bridge to a new slave address
  mask <0-1> [rule]      read or set a mask; rule is std:<hex-id> or ext:<hex-id>
  filter <0-5> [rule]    read or set a filter

flags:
`

type busCloser interface {
	host.Bus
	io.Closer
}

func main() {
	link := flag.String("link", "", "Register link address of i2c-can-bridge (host:port)")
	dev := flag.String("i2c", "", "I2C adapter device (e.g., /dev/i2c-1)")
	addr := flag.Int("addr", int(regmap.DefaultAddress), "Bridge slave address")
	rev := flag.Int("revision", 1, "Register protocol revision: 1|2")
	timeout := flag.Duration("timeout", 3*time.Second, "Link dial/handshake timeout")
	logLevel := flag.String("log-level", "warn", "Log level: debug|info|warn|error")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	logging.Set(logging.New("text", logging.ParseLevel(*logLevel), os.Stderr).With("app", "i2c-can-ctl"))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if !regmap.Revision(*rev).Valid() || *addr < 0 || *addr > 0xFF || !regmap.ValidAddress(byte(*addr)) {
		fmt.Fprintln(os.Stderr, "invalid -revision or -addr")
		os.Exit(2)
	}
	bus, err := openBus(*link, *dev, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()

	c := host.New(bus, byte(*addr), regmap.Revision(*rev))
	if err := run(c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func openBus(link, dev string, timeout time.Duration) (busCloser, error) {
	switch {
	case link != "" && dev != "":
		return nil, errors.New("use either -link or -i2c, not both")
	case link != "":
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return wire.Dial(ctx, link, timeout)
	case dev != "":
		return i2cdev.Open(dev)
	default:
		return nil, errors.New("one of -link or -i2c is required")
	}
}
