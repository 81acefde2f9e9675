package importer

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type YAMLParser struct{}

func (p *YAMLParser) Parse(r io.Reader) (Catalog, error) {
	var doc struct {
		Brands   []BrandSeed `yaml:"brands"`
		Benefits []yaml.Node `yaml:"benefits"`
	}

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("parsing catalog YAML: %w", err)
	}

	catalog := Catalog{Brands: doc.Brands}
	for _, node := range doc.Benefits {
		var seed BenefitSeed
		if err := node.Decode(&seed); err != nil {
			return Catalog{}, fmt.Errorf("line %d: %w", node.Line, err)
		}
		seed.Line = node.Line
		catalog.Benefits = append(catalog.Benefits, seed)
	}
	return catalog, nil
}
