package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/marketsense/internal/profile"
	"github.com/hrygo/marketsense/server"
	"github.com/hrygo/marketsense/store"
	"github.com/hrygo/marketsense/store/db"
)

// version is set at build time.
var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "marketsense",
	Short: "Grounded answers about marketplace keyword research data.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("secret", "", "secret used to sign access tokens")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "secret"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("marketsense")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, ingestCmd)
}

// loadProfile builds the profile from flags, MARKETSENSE_* variables and
// an optional .env file.
func loadProfile() (*profile.Profile, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	p := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Secret:  viper.GetString("secret"),
		Version: version,
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Secret == "" {
		p.Secret = "marketsense-dev-secret"
		slog.Warn("no secret configured, using the development secret")
	}
	return p, nil
}

// openStore opens and migrates the database named by p.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func runServe(ctx context.Context) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if !p.IsDev() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s, err := openStore(ctx, p)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(ctx, p, s)
	if err != nil {
		s.Close()
		return err
	}
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown(ctx)
		return err
	}
	printGreetings(p)

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		srv.Shutdown(context.Background())
		cancel()
	}()

	<-ctx.Done()
	return nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("marketsense %s started at %s\n", p.Version, time.Now().Format(time.RFC3339))
	fmt.Printf("mode: %s, driver: %s, listening on %s:%d\n", p.Mode, p.Driver, p.Addr, p.Port)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
