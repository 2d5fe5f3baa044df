package intent

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// reservedKeys are file-level keys that are context for macro substitution,
// never intents themselves.
var reservedKeys = map[string]struct{}{
	"namespace": {},
	"version":   {},
	"timezone":  {},
	"locale":    {},
	"comments":  {},
	"tables":    {},
	"domains":   {},
}

var macroPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// resolveMacros performs the one-pass load-time token substitution. Only keys
// present in the file context are replaced; unknown tokens stay untouched so
// they never collide with runtime parameter binding, which always uses bound
// placeholders.
func resolveMacros(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = resolveMacros(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveMacros(item, ctx)
		}
		return out
	case string:
		return macroPattern.ReplaceAllStringFunc(v, func(token string) string {
			key := strings.TrimSpace(macroPattern.FindStringSubmatch(token)[1])
			if repl, ok := lookupContext(ctx, key); ok {
				return fmt.Sprint(repl)
			}
			return token
		})
	default:
		return value
	}
}

func lookupContext(ctx map[string]any, key string) (any, bool) {
	current := any(ctx)
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	switch current.(type) {
	case map[string]any, []any:
		return nil, false
	}
	return current, true
}

// LoadDir reads every *.yaml/*.yml file under dir and builds the catalog.
// Intent keys are namespace-qualified ("namespace.name"); the namespace
// defaults to the file's base name. Files may declare intents either as an
// `intents:` list or as top-level named blocks.
func LoadDir(dir string) (*Catalog, error) {
	paths, err := intentFiles(dir)
	if err != nil {
		return nil, err
	}

	specs := make(map[string]*Spec)
	for _, path := range paths {
		if err := loadFile(path, specs); err != nil {
			return nil, fmt.Errorf("intent file %s: %w", filepath.Base(path), err)
		}
	}
	return NewCatalog(specs)
}

func intentFiles(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

func loadFile(path string, specs map[string]*Spec) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	raw := v.AllSettings()

	namespace, _ := raw["namespace"].(string)
	if namespace == "" {
		namespace = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	register := func(name string, block map[string]any) error {
		key := namespace + "." + name
		resolved, _ := resolveMacros(block, raw).(map[string]any)
		spec, err := decodeSpec(resolved)
		if err != nil {
			return fmt.Errorf("intent %q: %w", key, err)
		}
		if spec.Enabled != nil && !*spec.Enabled {
			return nil
		}
		if spec.Table == "" {
			// Not an intent: table-less blocks are shared configuration.
			return nil
		}
		if _, dup := specs[key]; dup {
			return fmt.Errorf("duplicate intent %q", key)
		}
		spec.Name = key
		specs[key] = spec
		return nil
	}

	if list, ok := raw["intents"].([]any); ok {
		for _, item := range list {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := block["name"].(string)
			if name == "" {
				return fmt.Errorf("intents list entry without a name")
			}
			if err := register(name, block); err != nil {
				return err
			}
		}
		return nil
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		if _, reserved := reservedKeys[name]; reserved {
			continue
		}
		if _, ok := raw[name].(map[string]any); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := register(name, raw[name].(map[string]any)); err != nil {
			return err
		}
	}
	return nil
}

func decodeSpec(block map[string]any) (*Spec, error) {
	var spec Spec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &spec,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(block); err != nil {
		return nil, err
	}
	return &spec, nil
}
