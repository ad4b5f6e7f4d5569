package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/MeKo-Tech/invocr/internal/catalog"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product catalog database",
	Long: `Manage the SQLite product catalog used to match invoice lines.

Examples:
  invocr catalog import products.yaml --db catalog.db
  invocr catalog list --db catalog.db
  invocr catalog list --db catalog.db --json`,
}

var catalogImportCmd = &cobra.Command{
	Use:          "import FILE",
	Short:        "Replace the catalog database with a YAML or JSON catalog file",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCatalogStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		products, err := catalog.FileSource{Path: args[0]}.Load(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.Import(cmd.Context(), products); err != nil {
			return fmt.Errorf("importing catalog: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d products\n", len(products))
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List the products in the catalog database",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCatalogStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		products, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(products)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tNAME\tUNIT\tALIASES")
		for _, p := range products {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.UnitCategory, strings.Join(p.Aliases, ", "))
		}
		return tw.Flush()
	},
}

func openCatalogStore(cmd *cobra.Command) (*catalog.Store, error) {
	path := GetConfig().Catalog.DB
	if cmd.Flags().Changed("db") {
		path, _ = cmd.Flags().GetString("db")
	}
	if path == "" {
		return nil, errors.New("no catalog database given (use --db or catalog.db in the config)")
	}
	return catalog.OpenStore(path)
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd, catalogListCmd)

	catalogCmd.PersistentFlags().String("db", "", "catalog SQLite database path")
	catalogListCmd.Flags().Bool("json", false, "print the catalog as JSON")
}
