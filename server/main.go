package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/sdk"
)

var rootCmd = &cobra.Command{
	Use:   "duochat-server",
	Short: "One-to-one chat server (REST + websocket)",
	RunE:  runServer,
}

// envConfig carries the settings that can come from the environment;
// flags below override whatever it resolves.
type envConfig struct {
	Addr      string   `env:"DUOCHAT_ADDR" envDefault:":8095"`
	DBPath    string   `env:"DUOCHAT_DB" envDefault:"duochat.db"`
	DataPath  string   `env:"DUOCHAT_DATA"`
	Name      string   `env:"DUOCHAT_NAME" envDefault:"duo-chat"`
	RelayURLs []string `env:"RELAY" envSeparator:","`
}

var (
	flagAddr      string
	flagDBPath    string
	flagDataPath  string
	flagName      string
	flagRelayURLs []string
)

func init() {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse environment")
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&flagDBPath, "db", cfg.DBPath, "SQLite database path")
	flags.StringVar(&flagDataPath, "data-path", cfg.DataPath, "optional directory to persist session tokens via PebbleDB")
	flags.StringVar(&flagName, "name", cfg.Name, "backend display name")
	flags.StringSliceVar(&flagRelayURLs, "server-url", cfg.RelayURLs, "optional portal relay base URL(s); repeat or comma-separated (from env RELAY if set)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute server command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(flagDBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	sessions, err := openSessionStore(flagDataPath)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("open session store: %w", err)
	}
	gw := newGateway(st)
	handler := newRouter(st, sessions, gw)

	// Optional exposure through portal relays, sharing one credential.
	// A failure mid-setup tears down everything opened so far in the same
	// order the shutdown path uses.
	var clients []*sdk.RDClient
	var listeners []net.Listener
	teardown := func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range clients {
			_ = c.Close()
		}
		if err := sessions.Close(); err != nil {
			log.Warn().Err(err).Msg("[server] session store close error")
		}
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("[server] store close error")
		}
	}
	if len(flagRelayURLs) > 0 {
		cred := sdk.NewCredential()
		for _, u := range flagRelayURLs {
			if u == "" {
				continue
			}
			client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = []string{u} })
			if err != nil {
				log.Error().Err(err).Str("url", u).Msg("new relay client failed")
				continue
			}
			clients = append(clients, client)
			ln, err := client.Listen(cred, flagName, []string{"http/1.1"})
			if err != nil {
				teardown()
				return fmt.Errorf("relay listen (%s): %w", u, err)
			}
			listeners = append(listeners, ln)
		}
	}
	for i, ln := range listeners {
		idx := i
		go func() {
			if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Int("listener", idx).Msg("[server] relay http error")
			}
		}()
	}

	httpSrv := &http.Server{Addr: flagAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
	log.Info().Msgf("[server] serving at http://%s", flagAddr)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[server] http stopped")
		}
	}()

	// Unified shutdown watcher
	go func() {
		<-ctx.Done()
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range clients {
			_ = c.Close()
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("[server] http server shutdown error")
		}
	}()

	<-ctx.Done()
	gw.closeAll()
	gw.wait()
	if err := sessions.Close(); err != nil {
		log.Warn().Err(err).Msg("[server] session store close error")
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("[server] store close error")
	}
	log.Info().Msg("[server] shutdown complete")
	return nil
}
