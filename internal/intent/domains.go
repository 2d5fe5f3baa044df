package intent

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DomainItem is one categorical code with its human label.
type DomainItem struct {
	Code  int    `mapstructure:"code"`
	Label string `mapstructure:"label"`
}

// Domains maps a domain name to its code/label list. Filters declared with an
// "enum:<domain>" coercion resolve their values through these tables.
type Domains map[string][]DomainItem

// LoadDomains merges every top-level `domains:` block found in the YAML files
// under dir. Later files win on duplicate domain names.
func LoadDomains(dir string) (Domains, error) {
	paths, err := intentFiles(dir)
	if err != nil {
		return nil, err
	}

	out := make(Domains)
	for _, path := range paths {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("domain file %s: %w", filepath.Base(path), err)
		}
		block := v.Get("domains")
		if block == nil {
			continue
		}
		var decoded map[string][]DomainItem
		if err := mapstructure.WeakDecode(block, &decoded); err != nil {
			return nil, fmt.Errorf("domain file %s: %w", filepath.Base(path), err)
		}
		for name, items := range decoded {
			out[name] = items
		}
	}
	return out, nil
}

// Coerce accepts either a code or a case-insensitive label and returns the
// numeric code. The boolean result is false when the domain does not know the
// value.
func (d Domains) Coerce(domain string, value any) (int, bool) {
	items, ok := d[domain]
	if !ok {
		return 0, false
	}
	needle := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
	for _, item := range items {
		if fmt.Sprint(item.Code) == needle || strings.ToLower(item.Label) == needle {
			return item.Code, true
		}
	}
	return 0, false
}
