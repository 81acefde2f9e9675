package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matt-riley/yomu/internal/importer"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

type catalogWriter interface {
	ListBrands(ctx context.Context) ([]repository.Brand, error)
	CreateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	CreateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
}

type seedResult struct {
	BrandsCreated   int
	BrandsReused    int
	BenefitsCreated int
}

func newSeedCmd(opts *globalOptions) *cobra.Command {
	var (
		file   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load brands and benefits from a catalog file",
		Long: "Validates the catalog, then creates its brands and benefits. Brands that already " +
			"exist with the same name are reused. Nothing is written when any row is invalid.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := reportCatalog(out, catalog); err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintln(out, "Dry run: nothing written.")
				return nil
			}

			return withService(cmd.Context(), opts, func(svc *service.Service) error {
				result, err := seedCatalog(cmd.Context(), svc, catalog)
				if err != nil {
					return err
				}
				printSeedResult(out, result)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Catalog file (.yaml, .yml or .csv)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// seedCatalog writes a validated catalog. Benefits reference brands by seed
// key, which is mapped to the stored brand id here.
func seedCatalog(ctx context.Context, w catalogWriter, catalog importer.Catalog) (seedResult, error) {
	var result seedResult

	existing, err := w.ListBrands(ctx)
	if err != nil {
		return result, fmt.Errorf("list brands: %w", err)
	}
	byName := make(map[string]string, len(existing))
	for _, brand := range existing {
		byName[strings.ToLower(brand.Name)] = brand.ID
	}

	brandIDs := make(map[string]string, len(catalog.Brands))
	for _, seed := range catalog.Brands {
		if id, ok := byName[strings.ToLower(seed.Name)]; ok {
			brandIDs[seed.Key] = id
			result.BrandsReused++
			continue
		}
		created, err := w.CreateBrand(ctx, repository.Brand{
			Name:        seed.Name,
			Category:    seed.Category,
			Website:     seed.Website,
			LogoURL:     seed.LogoURL,
			Description: seed.Description,
		})
		if err != nil {
			return result, fmt.Errorf("create brand %q: %w", seed.Name, err)
		}
		brandIDs[seed.Key] = created.ID
		byName[strings.ToLower(seed.Name)] = created.ID
		result.BrandsCreated++
	}

	for _, seed := range catalog.Benefits {
		record := seed.Record()
		record.BrandID = brandIDs[seed.Brand]
		if _, err := w.CreateBenefit(ctx, service.BenefitInput{PromoCode: seed.PromoCode, BenefitRecord: record}); err != nil {
			return result, fmt.Errorf("create benefit %q: %w", seed.Title, err)
		}
		result.BenefitsCreated++
	}

	return result, nil
}

func printSeedResult(w io.Writer, result seedResult) {
	fmt.Fprintf(w, "Brands: %d created, %d reused\n", result.BrandsCreated, result.BrandsReused)
	fmt.Fprintf(w, "Benefits: %d created\n", result.BenefitsCreated)
}
