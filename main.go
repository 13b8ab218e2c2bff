package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ecombot/internal/app"
	"ecombot/internal/config"
	"ecombot/internal/logging"
	"ecombot/internal/service/rag"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "ecombot",
		Short:         "Product Q&A assistant for an e-commerce catalogue",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default $ECOMBOT_CONFIG or config.yaml)")
	root.AddCommand(newServeCmd(&cfgPath), newAskCmd(&cfgPath))
	return root
}

func setup(ctx context.Context, cfgPath string) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(ctx, cfg, logger, app.Deps{})
	if err != nil {
		logger.Sync()
		return nil, nil, fmt.Errorf("build app: %w", err)
	}
	return a, logger, nil
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat page and JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, logger, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			gin.SetMode(gin.ReleaseMode)
			router, err := a.Router()
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: a.Config.Server.Address, Handler: router}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server stopped: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			return nil
		},
	}
}

func newAskCmd(cfgPath *string) *cobra.Command {
	var (
		sessionID   string
		showSources bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer a.Close()

			resp, err := a.Chat.Invoke(cmd.Context(), rag.Request{
				Input:     strings.Join(args, " "),
				SessionID: sessionID,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			if showSources {
				for i, src := range resp.Sources {
					fmt.Fprintf(out, "[%d] %s (score %.3f)\n", i+1, src.ID, src.Score)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "cli_user", "session id whose history is used")
	cmd.Flags().BoolVar(&showSources, "sources", false, "print the passages the answer was based on")
	return cmd
}
