package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/frame"
	"github.com/kstaniek/go-fp-driver/internal/transport"
)

const envPrefix = "FP_DRIVER_"

type appConfig struct {
	configFile string

	input        string
	tcpAddr      string
	serialDev    string
	baud         int
	formats      []string
	nmeaStrict   bool
	layouts      []string
	compactSync  string
	pollInterval time.Duration
	dialTimeout  time.Duration

	listenAddr   string
	hubBuffer    int
	hubPolicy    string
	maxClients   int
	handshakeTO  time.Duration
	clientReadTO time.Duration
	mdnsEnable   bool
	mdnsName     string

	wsCANIf string
	wsCANID uint
	wsQueue int

	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	logRecords      bool

	listPorts   bool
	showVersion bool
}

// newFlagSet binds every option to cfg. Flag names double as config file
// keys and, upper-cased with '-' replaced by '_', as FP_DRIVER_* variables.
func newFlagSet(cfg *appConfig, formats, layouts *string) *flag.FlagSet {
	fs := flag.NewFlagSet("fp-driver", flag.ContinueOnError)
	fs.StringVar(&cfg.configFile, "config", "", "Config file (.yaml, .yml or .toml)")
	fs.StringVar(&cfg.input, "input", "tcp", "Sensor connection: tcp|serial")
	fs.StringVar(&cfg.tcpAddr, "tcp-addr", "10.0.1.1:21000", "Sensor TCP address (ipv4:port)")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path")
	fs.IntVar(&cfg.baud, "baud", transport.DefaultBaud, "Serial baud rate (unsupported rates fall back to 115200)")
	fs.StringVar(formats, "formats", "ODOMETRY,LLH,CORRIMU,TF,TEXT", "Comma separated output categories")
	fs.BoolVar(&cfg.nmeaStrict, "nmea-strict", false, "Drop ascii sentences whose checksum does not match")
	fs.StringVar(layouts, "binary-layouts", "long,short", "Binary header conventions in priority order: long|short|compact")
	fs.StringVar(&cfg.compactSync, "compact-sync", "AA4413", "Sync marker (6 hex digits) of the compact binary layout")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", 10*time.Millisecond, "Sensor read cycle interval")
	fs.DurationVar(&cfg.dialTimeout, "dial-timeout", 5*time.Second, "TCP connect timeout")
	fs.StringVar(&cfg.listenAddr, "listen", ":21100", "Record stream listen address; empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", 512, "Per-client hub buffer (records)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous stream clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the record stream over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default fp-driver-<hostname>)")
	fs.StringVar(&cfg.wsCANIf, "ws-can-if", "", "SocketCAN interface carrying wheel speeds; empty disables")
	fs.UintVar(&cfg.wsCANID, "ws-can-id", 0x100, "CAN id of wheel-speed frames")
	fs.IntVar(&cfg.wsQueue, "ws-queue", 64, "Wheel-speed input queue size")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.logRecords, "log-records", false, "Log every emitted record at info level")
	fs.BoolVar(&cfg.listPorts, "list-ports", false, "List serial ports and exit")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	return fs
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// loadConfig resolves options in increasing precedence: defaults, config
// file, environment, explicitly passed flags.
func loadConfig(args []string, lookupEnv func(string) (string, bool), out io.Writer) (*appConfig, error) {
	cfg := &appConfig{}
	var formats, layouts string
	fs := newFlagSet(cfg, &formats, &layouts)
	if out != nil {
		fs.SetOutput(out)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// The config file location itself may come from the environment.
	if !set["config"] {
		if v, ok := lookupEnv(envName("config")); ok && strings.TrimSpace(v) != "" {
			cfg.configFile = strings.TrimSpace(v)
		}
	}
	if cfg.configFile != "" {
		vals, err := readConfigFile(cfg.configFile)
		if err != nil {
			return nil, err
		}
		for k, v := range vals {
			if k == "config" || set[k] {
				continue
			}
			if fs.Lookup(k) == nil {
				return nil, fmt.Errorf("%s: unknown key %q", cfg.configFile, k)
			}
			if err := fs.Set(k, v); err != nil {
				return nil, fmt.Errorf("%s: invalid %s: %w", cfg.configFile, k, err)
			}
		}
	}
	if err := applyEnvOverrides(fs, set, lookupEnv); err != nil {
		return nil, err
	}
	cfg.formats = splitList(formats)
	cfg.layouts = splitList(layouts)
	return cfg, nil
}

// applyEnvOverrides maps FP_DRIVER_* variables onto flags that were not
// explicitly set. Empty values are ignored. The first parse error wins.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]bool, lookupEnv func(string) (string, bool)) error {
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] || f.Name == "config" {
			return
		}
		v, ok := lookupEnv(envName(f.Name))
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName(f.Name), err)
		}
	})
	return firstErr
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// transportParams derives the sensor endpoint. It assumes validate passed.
func (c *appConfig) transportParams() transport.Params {
	p := transport.Params{Kind: transport.Kind(c.input), Device: c.serialDev, Baud: c.baud, DialTimeout: c.dialTimeout}
	if host, port, err := net.SplitHostPort(c.tcpAddr); err == nil {
		p.Host = host
		p.Port, _ = strconv.Atoi(port)
	}
	return p
}

// binaryLayouts resolves the configured binary header conventions.
func (c *appConfig) binaryLayouts() ([]frame.Layout, error) {
	sync, err := frame.ParseSync(c.compactSync)
	if err != nil {
		return nil, fmt.Errorf("invalid compact-sync: %w", err)
	}
	return frame.ParseLayouts(c.layouts, sync)
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values and
// ranges. Baud rates are not checked; an unsupported rate falls back at
// open time.
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
	switch c.input {
	case "tcp":
		if _, _, err := net.SplitHostPort(c.tcpAddr); err != nil {
			return fmt.Errorf("invalid tcp-addr %q: %w", c.tcpAddr, err)
		}
	case "serial":
	default:
		return fmt.Errorf("invalid input: %s", c.input)
	}
	if err := c.transportParams().Validate(); err != nil {
		return err
	}
	if len(c.formats) == 0 {
		return errors.New("formats must name at least one category")
	}
	known := 0
	for _, f := range c.formats {
		if _, ok := convert.ParseCategory(f); ok {
			known++
		}
	}
	if known == 0 {
		return fmt.Errorf("formats %v contain no known category", c.formats)
	}
	if _, err := c.binaryLayouts(); err != nil {
		return err
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
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
	if c.wsQueue <= 0 {
		return fmt.Errorf("ws-queue must be > 0 (got %d)", c.wsQueue)
	}
	if c.wsCANID > 0x1FFFFFFF {
		return fmt.Errorf("ws-can-id %#x exceeds 29 bits", c.wsCANID)
	}
	return nil
}
