package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/cartvault/internal/api"
	"github.com/tanq16/cartvault/internal/cliui"
	"github.com/tanq16/cartvault/internal/config"
	"github.com/tanq16/cartvault/internal/engine"
	"github.com/tanq16/cartvault/internal/logging"
	"github.com/tanq16/cartvault/internal/store"
)

var (
	serveConfigPath string
	serveDebug      bool
	serveJSONLogs   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download engine and its Control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		logging.Init(serveDebug, serveJSONLogs)
		log := logging.Component("engine")

		st, err := store.Open(cfg.StateDBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		eng := engine.New(cfg, st, log)
		go eng.Run()
		defer eng.Shutdown()

		srv := &http.Server{
			Addr:    cfg.ControlAddr,
			Handler: api.NewServer(eng),
		}

		serveErrCh := make(chan error, 1)
		go func() {
			serveErrCh <- srv.ListenAndServe()
		}()
		cliui.PrintSuccess("cartvaultd listening on " + cfg.ControlAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-serveErrCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "Emit structured JSON logs instead of the console writer")
}
