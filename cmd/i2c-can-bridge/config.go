package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

type appConfig struct {
	// device
	revision     int
	address      int
	canBitrate   int
	bufCapacity  int
	bufPolicy    string
	settingsPath string

	// CAN backend
	backend      string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	canIf        string
	loopback     bool

	// register link
	listenAddr   string
	maxClients   int
	handshakeTO  time.Duration
	clientReadTO time.Duration
	mdnsEnable   bool
	mdnsName     string

	// taps
	hubBuffer    int
	hubPolicy    string
	mqttBroker   string
	mqttTopic    string
	mqttUser     string
	mqttPassword string
	mqttTLS      bool

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration

	// explicitly set flags or env overrides; these win over the settings image
	explicit map[string]struct{}
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	revision := flag.Int("revision", 1, "Register protocol revision: 1 (16-byte frames) | 2 (14-byte frames, send register)")
	address := flag.Int("address", int(regmap.DefaultAddress), "I2C slave address (0x08..0x77)")
	canBitrate := flag.Int("can-bitrate", regmap.DefaultBitrate.BitsPerSecond(), "CAN bit rate in bit/s")
	bufCap := flag.Int("buffer", 32, "Receive buffer capacity (frames)")
	bufPolicy := flag.String("buffer-policy", "evict-oldest", "Full receive buffer policy: evict-oldest|reject")
	settingsPath := flag.String("settings", "", "Settings image path (empty disables persistence)")
	backend := flag.String("backend", "socketcan", "CAN backend: serial|socketcan|none")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --backend=serial)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	loopback := flag.Bool("loopback", false, "Loop transmitted frames back to the receive path (when --backend=none)")
	listen := flag.String("listen", ":20100", "Register link TCP listen address")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous register link masters (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Master handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the register link")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default i2c-can-bridge-<hostname>)")
	hubBuf := flag.Int("hub-buffer", 512, "Per-tap hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Tap backpressure policy: drop|kick")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL for the frame tap (empty disables)")
	mqttTopic := flag.String("mqtt-topic", "i2ccan", "MQTT topic prefix")
	mqttUser := flag.String("mqtt-user", "", "MQTT username")
	mqttPassword := flag.String("mqtt-password", "", "MQTT password")
	mqttTLS := flag.Bool("mqtt-tls", false, "Use TLS for the MQTT connection")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.revision = *revision
	cfg.address = *address
	cfg.canBitrate = *canBitrate
	cfg.bufCapacity = *bufCap
	cfg.bufPolicy = *bufPolicy
	cfg.settingsPath = *settingsPath
	cfg.backend = *backend
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.canIf = *canIf
	cfg.loopback = *loopback
	cfg.listenAddr = *listen
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.mqttBroker = *mqttBroker
	cfg.mqttTopic = *mqttTopic
	cfg.mqttUser = *mqttUser
	cfg.mqttPassword = *mqttPassword
	cfg.mqttTLS = *mqttTLS
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.explicit = setFlags

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// isExplicit reports whether the named flag was set on the command line or
// through its environment variable.
func (c *appConfig) isExplicit(name string) bool {
	_, ok := c.explicit[name]
	return ok
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "socketcan", "none":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	switch c.bufPolicy {
	case "evict-oldest", "evict", "reject":
	default:
		return fmt.Errorf("invalid buffer-policy: %s", c.bufPolicy)
	}
	if !regmap.Revision(c.revision).Valid() {
		return fmt.Errorf("invalid revision: %d", c.revision)
	}
	if c.address < 0 || c.address > 0xFF || !regmap.ValidAddress(byte(c.address)) {
		return fmt.Errorf("address must be 0x%02X..0x%02X (got 0x%X)", regmap.MinAddress, regmap.MaxAddress, c.address)
	}
	if _, err := regmap.BitrateFor(c.canBitrate); err != nil {
		return fmt.Errorf("invalid can-bitrate: %w", err)
	}
	if c.bufCapacity <= 0 {
		return fmt.Errorf("buffer must be > 0 (got %d)", c.bufCapacity)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.mqttBroker != "" && c.mqttTopic == "" {
		return fmt.Errorf("mqtt-topic must not be empty")
	}
	return nil
}

// applyEnvOverrides maps I2CCAN_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Duration accepts Go time.ParseDuration format; integers accept 0x prefixes.
// Applied overrides are recorded in set so they count as explicit.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, k string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(k)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return "", false
		}
		set[flagName] = struct{}{}
		return v, true
	}
	fail := func(k string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", k, err)
		}
	}
	str := func(flagName, k string, dst *string) {
		if v, ok := get(flagName, k); ok {
			*dst = v
		}
	}
	num := func(flagName, k string, dst *int) {
		if v, ok := get(flagName, k); ok {
			n, err := strconv.ParseInt(v, 0, 0)
			if err != nil {
				fail(k, err)
				return
			}
			*dst = int(n)
		}
	}
	dur := func(flagName, k string, dst *time.Duration) {
		if v, ok := get(flagName, k); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(k, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(flagName, k string, dst *bool) {
		if v, ok := get(flagName, k); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(k, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	num("revision", "I2CCAN_REVISION", &c.revision)
	num("address", "I2CCAN_ADDRESS", &c.address)
	num("can-bitrate", "I2CCAN_CAN_BITRATE", &c.canBitrate)
	num("buffer", "I2CCAN_BUFFER", &c.bufCapacity)
	str("buffer-policy", "I2CCAN_BUFFER_POLICY", &c.bufPolicy)
	str("settings", "I2CCAN_SETTINGS", &c.settingsPath)
	str("backend", "I2CCAN_BACKEND", &c.backend)
	str("serial", "I2CCAN_SERIAL", &c.serialDev)
	num("baud", "I2CCAN_BAUD", &c.baud)
	dur("serial-read-timeout", "I2CCAN_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("can-if", "I2CCAN_IF", &c.canIf)
	boolean("loopback", "I2CCAN_LOOPBACK", &c.loopback)
	str("listen", "I2CCAN_LISTEN", &c.listenAddr)
	num("max-clients", "I2CCAN_MAX_CLIENTS", &c.maxClients)
	dur("handshake-timeout", "I2CCAN_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "I2CCAN_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	boolean("mdns-enable", "I2CCAN_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "I2CCAN_MDNS_NAME", &c.mdnsName)
	num("hub-buffer", "I2CCAN_HUB_BUFFER", &c.hubBuffer)
	str("hub-policy", "I2CCAN_HUB_POLICY", &c.hubPolicy)
	str("mqtt-broker", "I2CCAN_MQTT_BROKER", &c.mqttBroker)
	str("mqtt-topic", "I2CCAN_MQTT_TOPIC", &c.mqttTopic)
	str("mqtt-user", "I2CCAN_MQTT_USER", &c.mqttUser)
	str("mqtt-password", "I2CCAN_MQTT_PASSWORD", &c.mqttPassword)
	boolean("mqtt-tls", "I2CCAN_MQTT_TLS", &c.mqttTLS)
	str("log-format", "I2CCAN_LOG_FORMAT", &c.logFormat)
	str("log-level", "I2CCAN_LOG_LEVEL", &c.logLevel)
	str("metrics-addr", "I2CCAN_METRICS", &c.metricsAddr)
	dur("log-metrics-interval", "I2CCAN_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	return firstErr
}
