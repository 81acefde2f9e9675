package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVParser reads a flat list of benefits. Brands are derived from the brand
// column, using the value as both key and name.
// Expected columns: brand, title, description, redemption_method,
// validity_type, validity_duration_days, promo_code
type CSVParser struct{}

var requiredColumns = []string{"brand", "title", "description", "redemption_method", "validity_type"}

func (p *CSVParser) Parse(r io.Reader) (Catalog, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Catalog{}, fmt.Errorf("reading CSV header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return Catalog{}, fmt.Errorf("missing required column: %s", col)
		}
	}

	var catalog Catalog
	seen := make(map[string]bool)
	lineNum := 1
	for {
		lineNum++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Catalog{}, fmt.Errorf("line %d: %w", lineNum, err)
		}

		seed := BenefitSeed{
			Brand:                getColumn(record, colIndex, "brand"),
			Title:                getColumn(record, colIndex, "title"),
			Description:          getColumn(record, colIndex, "description"),
			RedemptionMethod:     getColumn(record, colIndex, "redemption_method"),
			PromoCode:            getColumn(record, colIndex, "promo_code"),
			ValidityType:         getColumn(record, colIndex, "validity_type"),
			ValidityDurationDays: parseDuration(getColumn(record, colIndex, "validity_duration_days")),
			Line:                 lineNum,
		}
		catalog.Benefits = append(catalog.Benefits, seed)

		if seed.Brand != "" && !seen[seed.Brand] {
			seen[seed.Brand] = true
			catalog.Brands = append(catalog.Brands, BrandSeed{Key: seed.Brand, Name: seed.Brand})
		}
	}

	return catalog, nil
}

// parseDuration keeps unparseable text as a string so validation reports it.
func parseDuration(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

func getColumn(record []string, colIndex map[string]int, col string) string {
	if idx, ok := colIndex[col]; ok && idx < len(record) {
		return record[idx]
	}
	return ""
}
