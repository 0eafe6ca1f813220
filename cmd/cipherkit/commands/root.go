package commands

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"cipherkit/internal/app"
	"cipherkit/internal/config"
	"cipherkit/internal/domain"
)

const configFlag = "config"

var (
	v      = viper.New()
	device *app.App
)

// Execute builds the command tree and runs it until completion or an
// interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRoot().ExecuteContext(ctx)
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "cipherkit",
		Short:        "End-to-end encrypted messaging engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return open(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String(config.HomeKey, config.DefaultHome(), "state directory")
	pf.String(configFlag, "", "config file (default $HOME/.cipherkit/config.yaml)")
	pf.StringP(config.PassphraseKey, "p", "", "passphrase protecting the local store")
	pf.String(config.DirectoryKey, "", "directory base URL, e.g. http://127.0.0.1:8080")
	pf.String(config.AddressKey, "", "this device's address as user.device")
	pf.UintP(config.LogLevelKey, "v", 0, "verbosity: 0 info, 1 debug, 2 trace")
	pf.String(config.LogFileKey, "-", "log file, - for stdout")
	for _, key := range []string{
		config.HomeKey, config.PassphraseKey, config.DirectoryKey,
		config.AddressKey, config.LogLevelKey, config.LogFileKey,
	} {
		bindPersistentFlag(key, root)
	}

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		rotateCmd(),
		startSessionCmd(),
		safetyNumberCmd(),
		verifyCmd(),
		resetCmd(),
		sendCmd(),
		recvCmd(),
		groupCmd(),
		backupCmd(),
	)
	return root
}

func bindPersistentFlag(key string, cmd *cobra.Command) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(key)); err != nil {
		jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", key, err)
	}
}

// open loads settings and wires the device.
func open(cmd *cobra.Command) error {
	config.SetDefaults(v)
	path, _ := cmd.Flags().GetString(configFlag)
	if err := config.ReadFile(v, path, v.GetString(config.HomeKey)); err != nil {
		return err
	}
	settings, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := initLog(settings.LogLevel, settings.LogFile); err != nil {
		return err
	}
	cfg, err := app.FromSettings(settings)
	if err != nil {
		return err
	}
	if cfg.Passphrase == "" {
		return errors.New("passphrase required (-p or CIPHERKIT_PASSPHRASE)")
	}
	w, err := app.NewWire(cfg)
	if err != nil {
		return err
	}
	device = app.New(w)
	return nil
}

func parsePeer(s string) (domain.Address, error) {
	addr, err := domain.ParseAddress(s)
	if err != nil {
		return domain.Address{}, errors.Wrap(err, "peer")
	}
	return addr, nil
}
