package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	eduquest "github.com/Mehalmpradeep/EduQuest"
	"github.com/Mehalmpradeep/EduQuest/admin"
	"github.com/Mehalmpradeep/EduQuest/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	portFlag       int
	originFlag     string
	addrFlag       string
	hostFlag       string
	versionTagFlag string
	adminAddrFlag  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the origin through the caching agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cmd, &config)
		if err := config.Validate(); err != nil {
			return err
		}
		if logFilenameFlag == "" && config.LogFile != "" {
			if err := setupLogging(config.LogFile); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, config)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&originFlag, "origin", "", "Origin URL to fetch from (overrides addr and host)")
	flags.StringVar(&addrFlag, "addr", "", "Origin IP address to fetch from")
	flags.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flags.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flags.StringVar(&versionTagFlag, "version-tag", "", "Agent version, i.e. the cache to use (overrides config)")
	flags.StringVar(&adminAddrFlag, "admin-addr", "", "Address of the admin endpoints, empty to disable them (overrides config)")
}

func applyServeFlags(cmd *cobra.Command, config *eduquest.Config) {
	if originFlag != "" {
		config.Origin = originFlag
	} else if addrFlag != "" {
		config.Origin = "https://" + addrFlag
	}
	if hostFlag != "" {
		config.OriginHost = hostFlag
	}
	if cmd.Flags().Changed("port") {
		config.Port = portFlag
	}
	if versionTagFlag != "" {
		config.Version = versionTagFlag
	}
	if cmd.Flags().Changed("admin-addr") {
		config.AdminAddr = adminAddrFlag
	}
}

func serve(ctx context.Context, config eduquest.Config) error {
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		return fmt.Errorf("could not parse origin url: %w", err)
	}
	storage, err := openStorage(config.DB)
	if err != nil {
		return err
	}
	defer storage.Close()

	network := eduquest.NewNetwork(eduquest.NetworkConfig{
		OriginURL:  *originURL,
		OriginHost: config.OriginHost,
	})
	newAgent := func() *eduquest.Agent {
		return eduquest.CreateAgent(eduquest.AgentConfig{
			Version:            config.Version,
			CachePrefix:        config.CachePrefix,
			Manifest:           config.Manifest,
			Storage:            storage,
			Network:            network,
			DisableSkipWaiting: config.DisableSkipWaiting,
		})
	}
	reg := eduquest.NewRegistration(eduquest.RegistrationConfig{Network: network})
	if err := reg.Register(ctx, newAgent()); err != nil {
		// clients are passed through to the origin until an update succeeds
		log.Warn().Err(err).Str("adminAddr", config.AdminAddr).Msg("Serving without agent, retry with POST /.agent/update")
	}

	appHandler, adminHandler := newHandlers(reg, storage, newAgent)
	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: appHandler,
	}}
	if config.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:    config.AdminAddr,
			Handler: adminHandler,
		})
		log.Info().Msgf("Serving admin endpoints on %s", config.AdminAddr)
	} else {
		log.Info().Msg("Admin endpoints disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("addr", server.Addr).Msg("Could not shut down server")
			}
		}
		return nil
	})

	log.Info().Msgf("Serving port %v from %s (with hostname '%s')", config.Port, originURL.String(), config.OriginHost)
	return g.Wait()
}

// newHandlers returns the handler for the clients and the handler for the admin endpoints.
// The admin endpoints are not reachable through the client handler.
func newHandlers(reg *eduquest.Registration, storage *cache.Storage, newAgent func() *eduquest.Agent) (http.Handler, http.Handler) {
	app := chi.NewRouter()
	app.Use(hlog.NewHandler(log.Logger))
	app.Use(hlog.RequestIDHandler("req", ""))
	app.Handle("/*", reg)

	adm := chi.NewRouter()
	adm.Use(hlog.NewHandler(log.Logger))
	adm.Use(hlog.RequestIDHandler("req", ""))
	adm.Mount("/.agent", admin.NewRouter(admin.Config{
		Registration: reg,
		Storage:      storage,
		NewAgent:     newAgent,
	}))
	return app, adm
}
