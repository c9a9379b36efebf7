package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "archdbg"
	configDirHidden string = ".archdbg"
	configFile      string = "config.yml"
)

// Wait strategies for the SIGCHLD relay.
const (
	WaitPipe   = "pipe"
	WaitDirect = "direct"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// ZerosAreFilling makes the architecture processors treat "00 00"
	// encodings as padding.
	ZerosAreFilling bool `yaml:"zeros-are-filling"`

	// MinStringLength is the minimum number of printable characters a
	// string argument needs before it is rendered as text.
	MinStringLength *int `yaml:"min-string-length,omitempty"`
	// MaxStringLength is the maximum number of bytes read for a string argument.
	MaxStringLength *int `yaml:"max-string-length,omitempty"`

	// DisassemblyFlavor is one of intel, gnu or go.
	DisassemblyFlavor string `yaml:"disassembly-flavor,omitempty"`

	// WaitStrategy selects how child state changes are observed, either
	// "pipe" or "direct".
	WaitStrategy string `yaml:"wait-strategy,omitempty"`
	// WaitTimeout is the default timeout in milliseconds used by the
	// terminal when waiting for the inferior to stop. Zero waits forever.
	WaitTimeout int `yaml:"wait-timeout-ms"`

	// PrototypesFile names a YAML file of additional function prototypes
	// used to render call arguments.
	PrototypesFile string `yaml:"prototypes-file,omitempty"`
	// SyscallAnnotations enables the SYSCALL: annotation.
	SyscallAnnotations *bool `yaml:"syscall-annotations,omitempty"`

	// Color is one of auto, always or never.
	Color string `yaml:"color,omitempty"`

	// ListingCacheSize is the number of decoded instructions kept by the
	// disassembly listing.
	ListingCacheSize int `yaml:"listing-cache-size,omitempty"`
}

// MinString returns the configured minimum string length or its default.
func (c *Config) MinString() int {
	if c == nil || c.MinStringLength == nil {
		return 4
	}
	return *c.MinStringLength
}

// MaxString returns the configured maximum string length or its default.
func (c *Config) MaxString() int {
	if c == nil || c.MaxStringLength == nil {
		return 256
	}
	return *c.MaxStringLength
}

// Syscalls reports whether syscall annotations are enabled.
func (c *Config) Syscalls() bool {
	if c == nil || c.SyscallAnnotations == nil {
		return true
	}
	return *c.SyscallAnnotations
}

// Validate checks enumerated options.
func (c *Config) Validate() error {
	switch c.WaitStrategy {
	case "", WaitPipe, WaitDirect:
	default:
		return fmt.Errorf("invalid wait-strategy %q", c.WaitStrategy)
	}
	switch c.DisassemblyFlavor {
	case "", "intel", "gnu", "go":
	default:
		return fmt.Errorf("invalid disassembly-flavor %q", c.DisassemblyFlavor)
	}
	switch c.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("invalid color %q", c.Color)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("invalid wait-timeout-ms %d", c.WaitTimeout)
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return &Config{}, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the archdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Treat "00 00" byte pairs as padding when classifying instructions.
# zeros-are-filling: true

# Minimum number of printable characters before a char* argument is shown as a string.
# min-string-length: 4

# Maximum number of bytes read for a char* argument.
# max-string-length: 256

# Disassembly syntax: intel, gnu or go.
# disassembly-flavor: intel

# How child state changes are observed: pipe (self-pipe) or direct.
# wait-strategy: pipe

# Milliseconds to wait for the inferior to stop after continue; 0 waits forever.
wait-timeout-ms: 0

# Additional function prototypes used to render call arguments.
# prototypes-file: ~/.archdbg/prototypes.yml

# Show SYSCALL: annotations.
# syscall-annotations: true

# Colored output: auto, always or never.
# color: auto

# Number of decoded instructions cached by the listing.
# listing-cache-size: 4096
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return path.Join(configPath, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDirHidden, file), nil
}
