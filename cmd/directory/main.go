package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"cipherkit/internal/directory/server"
)

const (
	addrKey        = "addr"
	databaseKey    = "database"
	fetchLimitKey  = "fetch_limit"
	fetchWindowKey = "fetch_window"
	logLevelKey    = "log_level"
)

func settings() *viper.Viper {
	v := viper.New()
	def := server.DefaultOptions()
	v.SetDefault(addrKey, ":8080")
	v.SetDefault(databaseKey, "directory.db")
	v.SetDefault(fetchLimitKey, def.FetchLimit)
	v.SetDefault(fetchWindowKey, def.FetchWindow)
	v.SetDefault(logLevelKey, 0)
	v.SetEnvPrefix("DIRECTORY")
	v.AutomaticEnv()
	return v
}

func setLogLevel(level int) {
	switch {
	case level > 1:
		jww.SetStdoutThreshold(jww.LevelTrace)
	case level == 1:
		jww.SetStdoutThreshold(jww.LevelDebug)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		jww.WARN.Printf("directory: .env: %v", err)
	}
	v := settings()
	setLogLevel(v.GetInt(logLevelKey))

	st, err := server.Open(v.GetString(databaseKey))
	if err != nil {
		jww.FATAL.Fatalf("directory: %v", err)
	}
	opts := server.DefaultOptions()
	opts.FetchLimit = v.GetInt(fetchLimitKey)
	opts.FetchWindow = v.GetDuration(fetchWindowKey)

	srv := &http.Server{
		Addr:              v.GetString(addrKey),
		Handler:           server.NewRouter(st, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			jww.ERROR.Printf("directory: shutdown: %v", err)
		}
	}()

	jww.INFO.Printf("directory listening on %s (db %s)", srv.Addr, v.GetString(databaseKey))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		jww.FATAL.Fatalf("directory: %v", err)
	}
}
