package commitment

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier is one row of the published tier-count table. Table order matters:
// earlier tiers are dealt first over the shuffled list.
type Tier struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

// LoadTiers reads a YAML tier table: a sequence of mappings with name and
// count keys, in deal order.
func LoadTiers(r io.Reader) ([]Tier, error) {
	var tiers []Tier
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tiers); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("tier table is empty")
		}
		return nil, fmt.Errorf("decoding tier table: %w", err)
	}
	return tiers, nil
}

// ParseTiers parses the compact form "A:3,B:7".
func ParseTiers(s string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, count, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("tier %q: expected name:count", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return nil, fmt.Errorf("tier %q: invalid count: %w", part, err)
		}
		tiers = append(tiers, Tier{Name: strings.TrimSpace(name), Count: n})
	}
	if len(tiers) == 0 {
		return nil, errors.New("tier table is empty")
	}
	return tiers, nil
}

// ValidateTiers checks that the table is well formed and covers exactly total units.
func ValidateTiers(tiers []Tier, total int) error {
	if len(tiers) == 0 {
		return errors.New("tier table is empty")
	}
	seen := make(map[string]bool, len(tiers))
	sum := 0
	for _, t := range tiers {
		if strings.TrimSpace(t.Name) == "" {
			return errors.New("tier name is required")
		}
		if hasControl(t.Name) {
			return fmt.Errorf("tier %q: name contains a control character", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
		if t.Count <= 0 {
			return fmt.Errorf("tier %q: count must be positive", t.Name)
		}
		sum += t.Count
	}
	if sum != total {
		return fmt.Errorf("tier counts sum to %d, want %d", sum, total)
	}
	return nil
}
