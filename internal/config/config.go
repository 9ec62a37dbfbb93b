// Package config loads command line tool settings from an optional config
// file, FASTBOOT_* environment variables and the Android build environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/moffa90/go-fastboot/protocol"
)

const (
	// AppName is the application name used for config files
	AppName = "gofastboot"

	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "FASTBOOT"
)

// AppConfig holds the application configuration
type AppConfig struct {
	// Core settings
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Device is the target, "tcp:host[:port]" or "udp:host[:port]"
	Device string `mapstructure:"device"`

	// ProductOut is the directory flashall reads images from
	ProductOut string `mapstructure:"product_out"`

	// Slot is the default slot for flash, erase and format
	Slot string `mapstructure:"slot"`

	// SuperTemplate is an optional super_empty.img
	SuperTemplate string `mapstructure:"super_template"`

	Transfer struct {
		ReadTimeout          time.Duration `mapstructure:"read_timeout"`
		ChunkSize            int           `mapstructure:"chunk_size"`
		Retries              int           `mapstructure:"retries"`
		SparseLimit          int64         `mapstructure:"sparse_limit"`
		RawResparseThreshold int64         `mapstructure:"raw_resparse_threshold"`
	} `mapstructure:"transfer"`
}

var (
	// Instance is the loaded configuration
	Instance AppConfig

	// ConfigFile is the config file in use, empty when none was found
	ConfigFile string

	v        *viper.Viper
	initOnce sync.Once
)

// Initialize loads the global configuration once. cfgFile may be empty to
// search the current directory and $HOME/.config/gofastboot.
func Initialize(cfgFile string) error {
	var err error
	initOnce.Do(func() {
		v = New()
		err = Load(v, cfgFile, &Instance)
		ConfigFile = v.ConfigFileUsed()
	})
	return err
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// the Android build environment takes effect unless FASTBOOT_* is set
	_ = v.BindEnv("product_out", EnvPrefix+"_PRODUCT_OUT", "ANDROID_PRODUCT_OUT")
	_ = v.BindEnv("device", EnvPrefix+"_DEVICE", "ANDROID_SERIAL")
	return v
}

// Load reads cfgFile, or the default config file if present, into out.
func Load(v *viper.Viper, cfgFile string, out *AppConfig) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + AppName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	return nil
}

// BindFlag makes flag override key in the global configuration.
func BindFlag(key string, flag *pflag.Flag) error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}
	return v.BindPFlag(key, flag)
}

// Refresh re-reads the global configuration after flags were bound.
func Refresh() error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}
	if err := v.Unmarshal(&Instance); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")
	v.SetDefault("device", "")
	v.SetDefault("product_out", "")
	v.SetDefault("slot", "")
	v.SetDefault("super_template", "")

	v.SetDefault("transfer.read_timeout", protocol.DefaultReadTimeout)
	v.SetDefault("transfer.chunk_size", protocol.DefaultTransferChunkSize)
	v.SetDefault("transfer.retries", protocol.DefaultRetries)
	v.SetDefault("transfer.sparse_limit", protocol.DefaultMaxDownloadSize)
	v.SetDefault("transfer.raw_resparse_threshold", 0)
}
