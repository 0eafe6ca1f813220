// Package config loads cipherkit settings from flags, CIPHERKIT_*
// environment variables and an optional YAML file, in that order of
// precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// Keys understood by Load. Flags bound with viper.BindPFlag must use the
// same names.
const (
	HomeKey         = "home"
	DirectoryKey    = "directory"
	AddressKey      = "address"
	LogLevelKey     = "logLevel"
	LogFileKey      = "log"
	PassphraseKey   = "passphrase"
	OneTimeKey      = "engine.one_time_prekeys"
	ThresholdKey    = "engine.replenish_threshold"
	RotationKey     = "engine.signed_prekey_rotation"
	GraceKey        = "engine.signed_prekey_grace"
	MaxSkipKey      = "engine.max_skipped_keys"
	GroupMaxSkipKey = "engine.group_max_skipped_keys"
	MaxJumpKey      = "engine.max_forward_jump"
	HandshakeKey    = "engine.handshake_timeout"
	MaxFailuresKey  = "engine.max_decrypt_failures"

	envPrefix  = "CIPHERKIT"
	configName = "config"
	homeDir    = ".cipherkit"
)

// Engine holds the protocol tunables.
type Engine struct {
	OneTimePreKeys       int
	ReplenishThreshold   int
	SignedPreKeyRotation time.Duration
	SignedPreKeyGrace    time.Duration
	MaxSkippedKeys       int
	GroupMaxSkippedKeys  int
	MaxForwardJump       int
	HandshakeTimeout     time.Duration
	MaxDecryptFailures   int
}

// Config is everything the CLI needs to open a device.
type Config struct {
	Home         string
	DirectoryURL string
	Address      string
	Passphrase   string
	LogLevel     uint
	LogFile      string
	Engine       Engine
}

// DefaultEngine returns the stock tunables.
func DefaultEngine() Engine {
	return Engine{
		OneTimePreKeys:       100,
		ReplenishThreshold:   20,
		SignedPreKeyRotation: 7 * 24 * time.Hour,
		SignedPreKeyGrace:    72 * time.Hour,
		MaxSkippedKeys:       500,
		GroupMaxSkippedKeys:  500,
		MaxForwardJump:       2000,
		HandshakeTimeout:     10 * time.Second,
		MaxDecryptFailures:   5,
	}
}

// DefaultHome is $HOME/.cipherkit, or ./.cipherkit when no home directory
// is known.
func DefaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return homeDir
	}
	return filepath.Join(dir, homeDir)
}

// SetDefaults registers defaults and the environment binding on v.
func SetDefaults(v *viper.Viper) {
	e := DefaultEngine()
	v.SetDefault(HomeKey, DefaultHome())
	v.SetDefault(LogLevelKey, 0)
	v.SetDefault(LogFileKey, "-")
	v.SetDefault(OneTimeKey, e.OneTimePreKeys)
	v.SetDefault(ThresholdKey, e.ReplenishThreshold)
	v.SetDefault(RotationKey, e.SignedPreKeyRotation)
	v.SetDefault(GraceKey, e.SignedPreKeyGrace)
	v.SetDefault(MaxSkipKey, e.MaxSkippedKeys)
	v.SetDefault(GroupMaxSkipKey, e.GroupMaxSkippedKeys)
	v.SetDefault(MaxJumpKey, e.MaxForwardJump)
	v.SetDefault(HandshakeKey, e.HandshakeTimeout)
	v.SetDefault(MaxFailuresKey, e.MaxDecryptFailures)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile merges a YAML config file into v. An explicit path must exist;
// otherwise config.yaml under home is used when present.
func ReadFile(v *viper.Viper, path, home string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(home)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	jww.DEBUG.Printf("config: loaded %s", v.ConfigFileUsed())
	return nil
}

// Load reads the settings out of v and validates them.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Home:         v.GetString(HomeKey),
		DirectoryURL: v.GetString(DirectoryKey),
		Address:      v.GetString(AddressKey),
		Passphrase:   v.GetString(PassphraseKey),
		LogLevel:     v.GetUint(LogLevelKey),
		LogFile:      v.GetString(LogFileKey),
		Engine: Engine{
			OneTimePreKeys:       v.GetInt(OneTimeKey),
			ReplenishThreshold:   v.GetInt(ThresholdKey),
			SignedPreKeyRotation: v.GetDuration(RotationKey),
			SignedPreKeyGrace:    v.GetDuration(GraceKey),
			MaxSkippedKeys:       v.GetInt(MaxSkipKey),
			GroupMaxSkippedKeys:  v.GetInt(GroupMaxSkipKey),
			MaxForwardJump:       v.GetInt(MaxJumpKey),
			HandshakeTimeout:     v.GetDuration(HandshakeKey),
			MaxDecryptFailures:   v.GetInt(MaxFailuresKey),
		},
	}
	return cfg, cfg.Engine.Validate()
}

// Validate rejects non-positive tunables and a threshold above the pool
// size.
func (e Engine) Validate() error {
	ints := []struct {
		key string
		val int
	}{
		{OneTimeKey, e.OneTimePreKeys},
		{ThresholdKey, e.ReplenishThreshold},
		{MaxSkipKey, e.MaxSkippedKeys},
		{GroupMaxSkipKey, e.GroupMaxSkippedKeys},
		{MaxJumpKey, e.MaxForwardJump},
		{MaxFailuresKey, e.MaxDecryptFailures},
	}
	for _, c := range ints {
		if c.val <= 0 {
			return errors.Errorf("%s must be positive, got %d", c.key, c.val)
		}
	}
	durations := []struct {
		key string
		val time.Duration
	}{
		{RotationKey, e.SignedPreKeyRotation},
		{GraceKey, e.SignedPreKeyGrace},
		{HandshakeKey, e.HandshakeTimeout},
	}
	for _, c := range durations {
		if c.val <= 0 {
			return errors.Errorf("%s must be positive, got %s", c.key, c.val)
		}
	}
	if e.ReplenishThreshold > e.OneTimePreKeys {
		return errors.Errorf("%s (%d) exceeds %s (%d)",
			ThresholdKey, e.ReplenishThreshold, OneTimeKey, e.OneTimePreKeys)
	}
	return nil
}
