// Package importer reads catalog seeds and user lists from files.
package importer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/matt-riley/yomu/internal/core"
)

type BrandSeed struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category,omitempty"`
	Website     string `yaml:"website,omitempty"`
	LogoURL     string `yaml:"logo_url,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// BenefitSeed references its brand by the brand's seed key.
type BenefitSeed struct {
	Brand                string `yaml:"brand"`
	Title                string `yaml:"title"`
	Description          string `yaml:"description"`
	RedemptionMethod     string `yaml:"redemption_method"`
	PromoCode            string `yaml:"promo_code,omitempty"`
	ValidityType         string `yaml:"validity_type"`
	ValidityDurationDays any    `yaml:"validity_duration_days,omitempty"`
	Line                 int    `yaml:"-"`
}

type Catalog struct {
	Brands   []BrandSeed   `yaml:"brands"`
	Benefits []BenefitSeed `yaml:"benefits"`
}

func (s BenefitSeed) Record() core.BenefitRecord {
	return core.BenefitRecord{
		Title:                s.Title,
		Description:          s.Description,
		BrandID:              s.Brand,
		RedemptionMethod:     s.RedemptionMethod,
		ValidityType:         s.ValidityType,
		ValidityDurationDays: s.ValidityDurationDays,
	}
}

type CatalogParser interface {
	Parse(r io.Reader) (Catalog, error)
}

// ForFile picks a parser from the file extension.
func ForFile(filename string) (CatalogParser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return &YAMLParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported catalog format %q (use .yaml, .yml or .csv)", filepath.Ext(filename))
	}
}

// RowError collects every problem found with one benefit seed.
type RowError struct {
	Line   int
	Title  string
	Errors []string
}

func (e RowError) Error() string {
	where := fmt.Sprintf("benefit %q", e.Title)
	if e.Line > 0 {
		where = fmt.Sprintf("line %d (%s)", e.Line, where)
	}
	return fmt.Sprintf("%s: %s", where, strings.Join(e.Errors, "; "))
}

// ValidateCatalog checks every benefit with the same rules the API applies,
// and that each benefit refers to a brand declared in the catalog.
func ValidateCatalog(catalog Catalog) []RowError {
	brands := make(map[string]bool, len(catalog.Brands))
	var rowErrors []RowError
	for _, brand := range catalog.Brands {
		if brand.Key == "" || brand.Name == "" {
			rowErrors = append(rowErrors, RowError{Title: brand.Name, Errors: []string{"brand key and name are required"}})
			continue
		}
		brands[brand.Key] = true
	}

	for i, seed := range catalog.Benefits {
		verdict := core.Validate(seed.Record())
		errs := verdict.Errors
		if seed.Brand != "" && !brands[seed.Brand] {
			errs = append(errs, fmt.Sprintf("unknown brand %q", seed.Brand))
		}
		if len(errs) == 0 {
			continue
		}
		line := seed.Line
		if line == 0 {
			line = i + 1
		}
		rowErrors = append(rowErrors, RowError{Line: line, Title: seed.Title, Errors: errs})
	}
	return rowErrors
}
