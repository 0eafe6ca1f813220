package app

import (
	"net/http"

	"github.com/pkg/errors"

	"cipherkit/internal/config"
	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/ratchet"
	"cipherkit/internal/protocol/senderkey"
	prekeysvc "cipherkit/internal/services/prekey"
	sessionsvc "cipherkit/internal/services/session"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home         string         // state directory, e.g. $HOME/.cipherkit
	DirectoryURL string         // directory base URL; empty means offline
	Self         domain.Address // zero means use the registered address
	Passphrase   string
	Engine       config.Engine
	HTTP         *http.Client // optional; defaults to http.DefaultClient
}

// FromSettings converts loaded settings into wiring options.
func FromSettings(s config.Config) (Config, error) {
	cfg := Config{
		Home:         s.Home,
		DirectoryURL: s.DirectoryURL,
		Passphrase:   s.Passphrase,
		Engine:       s.Engine,
	}
	if s.Address != "" {
		addr, err := domain.ParseAddress(s.Address)
		if err != nil {
			return Config{}, errors.Wrapf(err, "address %q", s.Address)
		}
		cfg.Self = addr
	}
	return cfg, nil
}

func prekeyConfig(e config.Engine) prekeysvc.Config {
	return prekeysvc.Config{
		OneTimePreKeys:     e.OneTimePreKeys,
		ReplenishThreshold: e.ReplenishThreshold,
		RotationInterval:   e.SignedPreKeyRotation,
		GracePeriod:        e.SignedPreKeyGrace,
	}
}

func sessionConfig(e config.Engine) sessionsvc.Config {
	return sessionsvc.Config{
		HandshakeTimeout:   e.HandshakeTimeout,
		MaxDecryptFailures: e.MaxDecryptFailures,
		Limits:             ratchet.Limits{MaxSkip: e.MaxSkippedKeys, MaxJump: e.MaxForwardJump},
	}
}

func groupLimits(e config.Engine) senderkey.Limits {
	return senderkey.Limits{MaxSkip: e.GroupMaxSkippedKeys, MaxJump: e.MaxForwardJump}
}
