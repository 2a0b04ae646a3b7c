package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func newFlagSet(c *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.BindFlags(fs)
	return fs
}

func TestFlagsOverrideDefaults(t *testing.T) {
	c := Default()
	fs := newFlagSet(c)

	args := []string{
		"--name", "Kitchen",
		"--initial-volume", "30",
		"--no-interruptions",
		"--max-ram", "64",
		"-vv",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.DeviceName != "Kitchen" {
		t.Errorf("name = %q", c.DeviceName)
	}
	if c.InitialVolume != 30 {
		t.Errorf("initial volume = %v", c.InitialVolume)
	}
	if !c.NoInterruptions {
		t.Error("no-interruptions not set")
	}
	if c.MaxRAM() != 64<<20 {
		t.Errorf("max ram = %d bytes", c.MaxRAM())
	}
	if c.Verbose != 2 {
		t.Errorf("verbose = %d", c.Verbose)
	}
}

func TestEnvFillsUnsetFlags(t *testing.T) {
	t.Setenv("PLEEZER_NAME", "From Env")
	t.Setenv("PLEEZER_DITHER_BITS", "20.5")

	c := Default()
	fs := newFlagSet(c)
	if err := fs.Parse([]string{"--dither-bits", "24"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.ApplyEnv(fs); err != nil {
		t.Fatalf("env: %v", err)
	}

	if c.DeviceName != "From Env" {
		t.Errorf("name = %q, want the environment value", c.DeviceName)
	}
	// The explicit flag wins over the environment.
	if c.DitherBits != 24 {
		t.Errorf("dither bits = %v, want 24", c.DitherBits)
	}
}

func TestEnvRejectsBadValues(t *testing.T) {
	t.Setenv("PLEEZER_NOISE_SHAPING", "loud")

	c := Default()
	fs := newFlagSet(c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.ApplyEnv(fs); err == nil {
		t.Fatal("bad env value accepted")
	}
}

func TestValidate(t *testing.T) {
	hook := filepath.Join(t.TempDir(), "hook.sh")
	if err := os.WriteFile(hook, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"volume above 100", func(c *Config) { c.InitialVolume = 120 }, true},
		{"negative volume disabled", func(c *Config) { c.InitialVolume = -1 }, false},
		{"dither out of range", func(c *Config) { c.DitherBits = 40 }, true},
		{"shaping out of range", func(c *Config) { c.NoiseShaping = 8 }, true},
		{"negative ram", func(c *Config) { c.MaxRAMMiB = -1 }, true},
		{"executable hook", func(c *Config) { c.Hook = hook }, false},
		{"missing hook", func(c *Config) { c.Hook = hook + ".gone" }, true},
		{"bind address", func(c *Config) { c.Bind = "192.168.1.20" }, false},
		{"bind not an ip", func(c *Config) { c.Bind = "eth0" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestInitialVolumeFraction(t *testing.T) {
	c := Default()
	if c.InitialVolumeFraction() >= 0 {
		t.Error("default initial volume should be disabled")
	}
	c.InitialVolume = 45
	if got := c.InitialVolumeFraction(); got != 0.45 {
		t.Errorf("fraction = %v, want 0.45", got)
	}
}

func TestLocalAddr(t *testing.T) {
	c := Default()
	if got := c.LocalAddr(); got != nil {
		t.Errorf("default bind resolved to %v, want any interface", got)
	}

	c.Bind = "192.168.1.20"
	got := c.LocalAddr()
	if got == nil || got.IP.String() != "192.168.1.20" {
		t.Errorf("local addr = %v, want 192.168.1.20", got)
	}
	if got.Port != 0 {
		t.Errorf("local addr pins port %d, want an ephemeral port", got.Port)
	}
}

func TestDeviceIDStable(t *testing.T) {
	a := DeviceID()
	b := DeviceID()
	if a == "" || a != b {
		t.Fatalf("device id not stable: %q vs %q", a, b)
	}
}

func writeSecrets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSecrets(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			"arl login",
			"arl = \"token\"\nbf_secret = \"0123456789abcdef\"\n",
			false,
		},
		{
			"email login",
			"email = \"a@b.c\"\npassword = \"pw\"\nbf_secret = \"0123456789abcdef\"\n",
			false,
		},
		{
			"no credentials",
			"bf_secret = \"0123456789abcdef\"\n",
			true,
		},
		{
			"missing bf_secret",
			"arl = \"token\"\n",
			true,
		},
		{
			"short bf_secret",
			"arl = \"token\"\nbf_secret = \"short\"\n",
			true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSecrets(t, tc.body)
			_, err := LoadSecrets(path)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}
