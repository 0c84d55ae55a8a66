package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/HDI-Project/FeatureFactory/internal/metrics"
	"github.com/HDI-Project/FeatureFactory/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the contributor session API over HTTP",
		Long: `Serve the contributor session API over HTTP.

Contributors open a session with POST /api/session {"user", "token", "problem"}
and then register, cross-validate and discover features. Prometheus metrics are
served on /metrics.

The server.session_secret key (FEATUREFACTORY_SERVER__SESSION_SECRET) must be
set to at least 16 bytes. Contributors are authenticated by the tokens in
server.tokens, or by server.user_header when an authenticating proxy sets it.
Set server.secure_cookies when the API is reached over HTTPS.`,
		Example: `  FEATUREFACTORY_SERVER__SESSION_SECRET=$(openssl rand -hex 16) featurefactory serve --addr :8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			cfg := cmdCtx.Cfg

			if err := cfg.ValidateServer(); err != nil {
				return usageErrorf("%v", err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			coord, err := cmdCtx.Coordinator(cmd.Context(), Stack{Observer: m, OnAttempt: m.OnAttempt})
			if err != nil {
				return err
			}

			srv, err := server.New(server.Config{
				Coordinator:   coord,
				Addr:          cfg.Server.Addr,
				SessionSecret: cfg.Server.SessionSecret,
				SecureCookies: cfg.Server.SecureCookies,
				UserHeader:    cfg.Server.UserHeader,
				Tokens:        cfg.Server.Tokens,
				RateLimit:     cfg.Server.RateLimit,
				RateBurst:     cfg.Server.RateBurst,
				Gatherer:      reg,
				Logger:        cmdCtx.Logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmdCtx.Renderer.Printf("Serving the session API on %s\n", cfg.Server.Addr)
			cmdCtx.Renderer.Muted("Press Ctrl+C to stop")
			if err := srv.Serve(ctx); err != nil {
				return err
			}
			cmdCtx.Logger.Info("session API stopped")
			return nil
		},
	}
	return cmd
}
