// Package bootcfg decodes the Multiboot v1 command line (spec §6) plus an
// optional on-disk YAML sidecar into a typed, validated, rationalized
// Options struct, the way the teacher's cfg package decodes CLI flags and a
// YAML config file into its Config struct (cfg/config.go, cfg/decode_hook.go,
// cfg/rationalize.go, cfg/validate.go).
package bootcfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Module describes one Multiboot module entry (spec §6): {mod_start, mod_end,
// cmdline, reserved}.
type Module struct {
	Name      string
	StartPage uint32
	EndPage   uint32
}

// Options is the decoded, rationalized view of the boot configuration,
// consumed by C1 (ring selectors are fixed regardless) and primarily by C3
// (memory map) and C13 (init path, quiet flag).
type Options struct {
	MemLowerKiB uint32
	MemUpperKiB uint32
	CmdLine     string `mapstructure:"-"`

	Quiet    bool   `mapstructure:"quiet"`
	LogLevel string `mapstructure:"loglevel"`
	Root     string `mapstructure:"root"`
	Init     string `mapstructure:"init"`

	Modules []Module `mapstructure:"-"`
}

// maxCmdLine mirrors spec §6: the cmdline string is copied into a ≤256-byte
// buffer.
const maxCmdLine = 256

// Decode parses a raw Multiboot cmdline (space-separated key=value tokens,
// e.g. "quiet loglevel=debug root=ramfs init=/bin/sh") and an optional YAML
// sidecar (used for host-side test boots where there is no real
// bootloader), merges them with the cmdline taking precedence, then
// rationalizes and validates the result.
func Decode(cmdline string, yamlSidecar []byte, mods []Module) (Options, error) {
	if len(cmdline) > maxCmdLine {
		cmdline = cmdline[:maxCmdLine]
	}

	raw := map[string]interface{}{}
	if len(yamlSidecar) > 0 {
		if err := yaml.Unmarshal(yamlSidecar, &raw); err != nil {
			return Options{}, fmt.Errorf("bootcfg: parsing yaml sidecar: %w", err)
		}
	}
	for k, v := range parseCmdline(cmdline) {
		raw[k] = v
	}

	v := viper.New()
	for k, val := range raw {
		v.Set(k, val)
	}

	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Options{}, err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return Options{}, fmt.Errorf("bootcfg: decoding: %w", err)
	}

	opts.CmdLine = cmdline
	opts.Modules = mods

	rationalize(&opts)
	if err := validate(&opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// parseCmdline tokenizes a Multiboot-style cmdline into key[=value] pairs, a
// bare key meaning boolean true — the same shape pflag gives to a command's
// own flag set, reused here without pulling in a full FlagSet since the
// cmdline is not argv (no "--" convention, no positional args).
func parseCmdline(cmdline string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, tok := range strings.Fields(cmdline) {
		if eq := strings.IndexByte(tok, '='); eq >= 0 {
			key, val := tok[:eq], tok[eq+1:]
			if b, err := strconv.ParseBool(val); err == nil {
				out[key] = b
				continue
			}
			out[key] = val
		} else {
			out[tok] = true
		}
	}
	return out
}

// rationalize fills in defaults and resolves cross-field dependencies,
// mirroring cfg.Rationalize.
func rationalize(o *Options) {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.Root == "" {
		o.Root = "ramfs"
	}
	if o.Init == "" {
		o.Init = "/bin/sh"
	}
	if o.Quiet {
		o.LogLevel = "warn"
	}
}

// validate rejects boot configurations the rest of the kernel cannot act on,
// mirroring cfg.Validate's shape (a list of independent field checks).
func validate(o *Options) error {
	switch strings.ToLower(o.LogLevel) {
	case "debug", "info", "warn", "fatal":
	default:
		return fmt.Errorf("bootcfg: invalid loglevel %q", o.LogLevel)
	}
	if o.Root != "ramfs" {
		return fmt.Errorf("bootcfg: unsupported root driver %q (only ramfs is registered)", o.Root)
	}
	if !strings.HasPrefix(o.Init, "/") {
		return fmt.Errorf("bootcfg: init path %q must be absolute", o.Init)
	}
	return nil
}

// PflagSet returns a *pflag.FlagSet pre-populated with the same options, for
// host-side tooling that overrides boot options from argv instead of a
// simulated cmdline. cmd/kernel does not use it; it takes -cmdline instead.
func PflagSet() (*pflag.FlagSet, *Options) {
	fs := pflag.NewFlagSet("bootcfg", pflag.ContinueOnError)
	o := &Options{}
	fs.BoolVar(&o.Quiet, "quiet", false, "suppress non-warning boot log output")
	fs.StringVar(&o.LogLevel, "loglevel", "info", "debug|info|warn|fatal")
	fs.StringVar(&o.Root, "root", "ramfs", "root filesystem driver name")
	fs.StringVar(&o.Init, "init", "/bin/sh", "absolute path of the init program")
	return fs, o
}
