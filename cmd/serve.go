package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/anchor-ui/anchor/internal/config"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/server"
	"github.com/anchor-ui/anchor/internal/widgets"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve [page]",
	Aliases: []string{"s"},
	Short:   "Serve a hydrated host page with live reload",
	Long: `Serve hydrates the given host page with the registered widgets and serves
the result. Edits to the page are picked up automatically and pushed to
connected browsers over a websocket.

Examples:
  anchor serve page.html               Serve page.html on the configured port
  anchor serve page.html --port 9000   Serve on port 9000
  anchor serve page.html --open        Open the browser after startup`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to serve on (overrides config)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Bool("open", false, "Open browser after startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if open, _ := cmd.Flags().GetBool("open"); open {
		cfg.Server.Open = true
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	reg := registry.NewRegistry()
	widgets.RegisterBuiltins(reg)

	collector := diagnostics.NewCollector()
	reporter := diagnostics.Tee(collector, diagnostics.NewLogReporter(logger))

	srv := server.New(cfg, reg, reporter, logger, args[0])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Open {
		go openBrowser(fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port))
	}

	return srv.Start(ctx)
}

func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		err = exec.Command("xdg-open", url).Start()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open browser: %v\n", err)
	}
}
