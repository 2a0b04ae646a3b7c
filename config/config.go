// Package config holds the command line surface: flag definitions,
// PLEEZER_* environment mirrors, the secrets file, and the stable
// device identity.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/pflag"
)

// productName seeds the device id and names the device by default.
const productName = "pleezer"

// envPrefix prefixes the environment mirror of every flag.
const envPrefix = "PLEEZER_"

// Config is the resolved runtime configuration.
type Config struct {
	SecretsPath string
	StatePath   string

	DeviceName string
	Device     string // audio device selector; "?" lists and exits
	DeviceType string

	NoInterruptions bool
	InitialVolume   float64 // percent, negative disables
	Eavesdrop       bool

	NormalizeVolume bool
	Loudness        bool
	DitherBits      float64
	NoiseShaping    int
	MaxRAMMiB       int64

	Bind    string // local IP for outgoing connections
	Status  string // status endpoint address, empty disables
	Control string // local control socket path, empty disables
	Hook    string

	Quiet   bool
	Verbose int
}

// Default returns the configuration before flags and environment are
// applied.
func Default() *Config {
	name := productName
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		name = productName + "@" + hostname
	}
	return &Config{
		SecretsPath:   "secrets.toml",
		StatePath:     "pleezer.db",
		DeviceName:    name,
		DeviceType:    "web",
		InitialVolume: -1,
		DitherBits:    16,
		NoiseShaping:  2,
		Bind:          "0.0.0.0",
	}
}

// BindFlags registers all flags on the given set, backed by c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.SecretsPath, "secrets", "s", c.SecretsPath, "path of the secrets file")
	fs.StringVar(&c.StatePath, "state", c.StatePath, "path of the state database")
	fs.StringVarP(&c.DeviceName, "name", "n", c.DeviceName, "device name shown to controllers")
	fs.StringVarP(&c.Device, "device", "d", c.Device, "audio output device (\"?\" lists devices)")
	fs.StringVar(&c.DeviceType, "device-type", c.DeviceType, "device type shown to controllers")
	fs.BoolVar(&c.NoInterruptions, "no-interruptions", c.NoInterruptions, "refuse controller takeovers")
	fs.Float64Var(&c.InitialVolume, "initial-volume", c.InitialVolume, "volume percent applied on connect, negative disables")
	fs.BoolVar(&c.Eavesdrop, "eavesdrop", c.Eavesdrop, "log the websocket without being discoverable")
	fs.BoolVar(&c.NormalizeVolume, "normalize-volume", c.NormalizeVolume, "normalize playback volume")
	fs.BoolVar(&c.Loudness, "loudness", c.Loudness, "equal-loudness compensation at low volume")
	fs.Float64Var(&c.DitherBits, "dither-bits", c.DitherBits, "output word length for dithering, 0 disables")
	fs.IntVar(&c.NoiseShaping, "noise-shaping", c.NoiseShaping, "noise shaping profile 0-7")
	fs.Int64Var(&c.MaxRAMMiB, "max-ram", c.MaxRAMMiB, "MiB of RAM for download buffers, 0 uses temp files")
	fs.StringVar(&c.Bind, "bind", c.Bind, "IP address to bind outgoing connections to")
	fs.StringVar(&c.Status, "status", c.Status, "address of the status endpoint, empty disables")
	fs.StringVar(&c.Control, "control", c.Control, "path of the local control socket, empty disables")
	fs.StringVar(&c.Hook, "hook", c.Hook, "script to run on events")
	fs.BoolVarP(&c.Quiet, "quiet", "q", c.Quiet, "only log warnings and errors")
	fs.CountVarP(&c.Verbose, "verbose", "v", "debug logging, twice for trace")
}

// ApplyEnv fills flags the command line left untouched from their
// PLEEZER_* mirrors.
func (c *Config) ApplyEnv(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		value, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		if setErr := fs.Set(f.Name, value); setErr != nil {
			err = fmt.Errorf("config: %s: %w", name, setErr)
		}
	})
	return err
}

// Validate rejects values the player cannot work with.
func (c *Config) Validate() error {
	if c.InitialVolume > 100 {
		return fmt.Errorf("config: initial volume %v exceeds 100%%", c.InitialVolume)
	}
	if c.DitherBits < 0 || c.DitherBits > 32 {
		return fmt.Errorf("config: dither bits %v out of range", c.DitherBits)
	}
	if c.NoiseShaping < 0 || c.NoiseShaping > 7 {
		return fmt.Errorf("config: noise shaping profile %d out of range", c.NoiseShaping)
	}
	if c.MaxRAMMiB < 0 {
		return fmt.Errorf("config: max ram must not be negative")
	}
	if c.Bind != "" && net.ParseIP(c.Bind) == nil {
		return fmt.Errorf("config: bind %q is not an IP address", c.Bind)
	}
	if c.Hook != "" {
		info, err := os.Stat(c.Hook)
		if err != nil {
			return fmt.Errorf("config: hook: %w", err)
		}
		if info.IsDir() || info.Mode()&0o111 == 0 {
			return fmt.Errorf("config: hook %s is not executable", c.Hook)
		}
	}
	return nil
}

// InitialVolumeFraction converts the percent flag to the fraction the
// session applies, keeping negative as disabled.
func (c *Config) InitialVolumeFraction() float64 {
	if c.InitialVolume < 0 {
		return -1
	}
	return c.InitialVolume / 100
}

// MaxRAM returns the download buffer budget in bytes.
func (c *Config) MaxRAM() int64 {
	return c.MaxRAMMiB << 20
}

// LocalAddr returns the interface address outgoing connections bind
// to, or nil when any interface will do.
func (c *Config) LocalAddr() *net.TCPAddr {
	ip := net.ParseIP(c.Bind)
	if ip == nil || ip.IsUnspecified() {
		return nil
	}
	return &net.TCPAddr{IP: ip}
}

// DeviceID derives a stable identity from the host: the same machine
// always announces the same device, so controllers keep recognizing it.
func DeviceID() string {
	hostID, err := host.HostID()
	if err != nil || hostID == "" {
		return uuid.NewString()
	}
	namespace, err := uuid.Parse(hostID)
	if err != nil {
		namespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(hostID))
	}
	return uuid.NewSHA1(namespace, []byte(productName)).String()
}
