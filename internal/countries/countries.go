// Package countries maps provider operator brands to countries. The table is
// a swappable data asset used only as the last resort of the country
// resolution chain; a wrong cosmetic label is preferable to blocking
// delivery.
package countries

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed operators.yaml
var operatorsYAML []byte

// Country is a resolved code/name pair.
type Country struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Default is returned when no table entry matches a slug.
var Default = Country{Code: "US", Name: "United States"}

// Table maps an operator brand prefix to its country.
type Table map[string]Country

// LoadDefault parses the embedded operator table.
func LoadDefault() (Table, error) {
	return Parse(operatorsYAML)
}

// Parse decodes a YAML operator table so deployments can inject their own.
func Parse(data []byte) (Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse operator table: %w", err)
	}
	return table, nil
}

// validitySuffix trims the package variant from a slug:
// "eu-connect-in-7days-1gb" -> "eu-connect", "merhaba-7days-1gb" -> "merhaba".
var validitySuffix = regexp.MustCompile(`(-in)?-\d+.*$`)

// OperatorPrefix extracts the operator brand from a package slug.
func OperatorPrefix(slug string) string {
	return validitySuffix.ReplaceAllString(strings.TrimSpace(slug), "")
}

// Resolve finds the country for a package slug. The operator prefix is tried
// as an exact key first; a substring scan covers slugs with uncommon variant
// formats. ok is false when the default fallback was used.
func (t Table) Resolve(slug string) (Country, bool) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" || t == nil {
		return Default, false
	}

	if c, found := t[OperatorPrefix(slug)]; found {
		return c, true
	}

	for prefix, c := range t {
		if strings.Contains(slug, prefix) {
			return c, true
		}
	}

	return Default, false
}
