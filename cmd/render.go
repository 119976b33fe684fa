package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/anchor-ui/anchor/internal/config"
	"github.com/anchor-ui/anchor/internal/diagnostics"
	"github.com/anchor-ui/anchor/internal/dom"
	"github.com/anchor-ui/anchor/internal/logging"
	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/runtime"
	"github.com/anchor-ui/anchor/internal/widgets"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:     "render [page]",
	Aliases: []string{"r"},
	Short:   "Hydrate a host page once and print the result",
	Long: `Render parses the host page, mounts every widget it references, and writes
the hydrated HTML to stdout. Failed widgets render their fallback in place;
mount-point problems are reported on stderr.

Examples:
  anchor render page.html              Print hydrated HTML
  anchor render page.html --strict     Exit non-zero if any widget failed`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().Bool("strict", false, "Exit with an error if any widget failed to mount")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading page %s: %w", args[0], err)
	}
	doc, err := dom.Parse(bytes.NewReader(data),
		dom.WithWidgetAttr(cfg.Engine.WidgetAttr),
		dom.WithPropsAttr(cfg.Engine.PropsAttr),
	)
	if err != nil {
		return fmt.Errorf("parsing page %s: %w", args[0], err)
	}

	reg := registry.NewRegistry()
	widgets.RegisterBuiltins(reg)

	collector := diagnostics.NewCollector()
	reporter := diagnostics.Tee(collector, diagnostics.NewLogReporter(logger))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt := runtime.New(doc, reg, reporter, logger)
	rt.Scan(ctx, nil)
	rt.Wait()
	defer rt.UnmountAll()

	page, err := doc.HTML()
	if err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	fmt.Fprintln(os.Stdout, page)

	if strict, _ := cmd.Flags().GetBool("strict"); strict && collector.HasErrors() {
		failures := 0
		for _, rec := range collector.Records() {
			if rec.Severity == diagnostics.SeverityError {
				failures++
			}
		}
		return fmt.Errorf("%d widget errors during hydration", failures)
	}
	return nil
}
