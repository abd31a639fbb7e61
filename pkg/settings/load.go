package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magiconair/properties"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadError is returned when a settings file cannot be found or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("could not load settings from '%s': %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Locate returns the first existing candidate for path: the path itself,
// then the same path under testdata/.
func Locate(path string) (string, error) {
	candidates := []string{path}
	if !filepath.IsAbs(path) {
		candidates = append(candidates, filepath.Join("testdata", path))
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if info.IsDir() {
			return "", &LoadError{Path: path, Err: errors.Errorf("'%s' is a directory", c)}
		}
		return c, nil
	}

	return "", &LoadError{Path: path, Err: os.ErrNotExist}
}

// Load reads a settings file. YAML and JSON documents are flattened into
// dotted keys, sequences are joined with commas.
func Load(path string) (Settings, error) {
	located, err := Locate(path)
	if err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(located)); ext {
	case ".yml", ".yaml", ".json":
		data, err := os.ReadFile(located)
		if err != nil {
			return nil, &LoadError{Path: path, Err: errors.WithStack(err)}
		}
		return parseYAML(path, data)
	case ".properties":
		p, err := properties.LoadFile(located, properties.UTF8)
		if err != nil {
			return nil, &LoadError{Path: path, Err: errors.WithStack(err)}
		}
		return Settings(p.Map()), nil
	default:
		return nil, &LoadError{Path: path, Err: errors.Errorf("unsupported settings format '%s'", ext)}
	}
}

func parseYAML(path string, data []byte) (Settings, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: path, Err: errors.WithStack(err)}
	}

	result := New()
	flatten(result, "", doc)
	return result, nil
}

func flatten(dst Settings, prefix string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(dst, join(prefix, k), v[k])
		}
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for k, item := range v {
			m[fmt.Sprint(k)] = item
		}
		flatten(dst, prefix, m)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, scalar(item))
		}
		dst[prefix] = strings.Join(parts, ",")
	case nil:
		if prefix != "" {
			dst[prefix] = ""
		}
	default:
		dst[prefix] = scalar(v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalar(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
