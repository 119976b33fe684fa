package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/anchor-ui/anchor/internal/registry"
	"github.com/anchor-ui/anchor/internal/widgets"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List registered widgets",
	Long: `List every widget registered with the engine.

Examples:
  anchor list                     # List widgets in table format
  anchor list -f json             # Output as JSON
  anchor list --format yaml       # Output as YAML`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (table, json, yaml)")
	AddFlagValidation(listCmd, "format", ValidateFormat([]string{"table", "json", "yaml"}))
}

func runList(cmd *cobra.Command, args []string) error {
	reg := registry.NewRegistry()
	widgets.RegisterBuiltins(reg)

	names := reg.Names()
	if len(names) == 0 {
		fmt.Println("No widgets registered.")
		return nil
	}

	switch strings.ToLower(listFormat) {
	case "json":
		return outputListJSON(names)
	case "yaml":
		return outputListYAML(names)
	case "table":
		return outputListTable(names)
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", listFormat)
	}
}

func outputListJSON(names []string) error {
	output := make([]map[string]string, len(names))
	for i, name := range names {
		output[i] = map[string]string{"name": name}
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func outputListYAML(names []string) error {
	output := make([]map[string]string, len(names))
	for i, name := range names {
		output[i] = map[string]string{"name": name}
	}
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	return encoder.Encode(output)
}

func outputListTable(names []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME")
	fmt.Fprintln(w, strings.Repeat("-", 4))
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	fmt.Fprintf(w, "\nTotal: %d widgets\n", len(names))
	return nil
}
