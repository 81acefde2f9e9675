package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matt-riley/yomu/internal/importer"
)

var errInvalidCatalog = errors.New("catalog has invalid entries")

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog seed file without touching the database",
		Long:  "Validates every benefit in a YAML or CSV catalog with the same rules the API applies.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			return reportCatalog(cmd.OutOrStdout(), catalog)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Catalog file (.yaml, .yml or .csv)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func loadCatalog(path string) (importer.Catalog, error) {
	parser, err := importer.ForFile(path)
	if err != nil {
		return importer.Catalog{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return importer.Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	catalog, err := parser.Parse(f)
	if err != nil {
		return importer.Catalog{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return catalog, nil
}

// reportCatalog prints every row error and fails when there is at least one.
func reportCatalog(w io.Writer, catalog importer.Catalog) error {
	rowErrors := importer.ValidateCatalog(catalog)
	for _, rowErr := range rowErrors {
		fmt.Fprintln(w, rowErr.Error())
	}
	if len(rowErrors) > 0 {
		return fmt.Errorf("%w: %d problem(s)", errInvalidCatalog, len(rowErrors))
	}
	fmt.Fprintf(w, "OK: %d brand(s), %d benefit(s)\n", len(catalog.Brands), len(catalog.Benefits))
	return nil
}
