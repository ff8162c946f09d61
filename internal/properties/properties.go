package properties

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	javaprops "github.com/magiconair/properties"
)

// ErrNotRegularFile is returned when the properties path points at a directory
// or another non-regular file.
var ErrNotRegularFile = errors.New("properties path is not a regular file")

// Properties is a read-only view over the key/value pairs of a properties file.
// The zero value is an empty set.
type Properties struct {
	values map[string]string
	keys   []string
}

// Empty returns a Properties without any entries.
func Empty() Properties {
	return Properties{values: map[string]string{}}
}

// FromMap builds Properties from an in-memory mapping. Keys are ordered
// lexically since a map carries no file order.
func FromMap(values map[string]string) Properties {
	out := Properties{
		values: make(map[string]string, len(values)),
		keys:   make([]string, 0, len(values)),
	}
	for k, v := range values {
		out.values[k] = v
		out.keys = append(out.keys, k)
	}
	sort.Strings(out.keys)
	return out
}

// Load reads a Java style properties file. A missing file is not an error and
// yields an empty set; found reports whether the file existed.
func Load(path string) (props Properties, found bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), false, nil
		}
		return Properties{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Properties{}, true, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}

	loader := javaprops.Loader{
		Encoding:         javaprops.ISO_8859_1,
		DisableExpansion: true,
	}
	parsed, err := loader.LoadFile(path)
	if err != nil {
		return Properties{}, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return Properties{
		values: parsed.Map(),
		keys:   parsed.Keys(),
	}, true, nil
}

// Parse reads properties from a string using the same syntax as Load. Unlike
// Load, which decodes the file as ISO-8859-1 like java.util.Properties, the
// input is taken as UTF-8 since Go strings already are.
func Parse(data string) (Properties, error) {
	loader := javaprops.Loader{
		Encoding:         javaprops.UTF8,
		DisableExpansion: true,
	}
	parsed, err := loader.LoadBytes([]byte(data))
	if err != nil {
		return Properties{}, fmt.Errorf("parse properties: %w", err)
	}
	return Properties{
		values: parsed.Map(),
		keys:   parsed.Keys(),
	}, nil
}

// Get returns the value stored under key and whether it was present.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Lookup returns a pointer to a copy of the value, or nil when key is absent.
func (p Properties) Lookup(key string) *string {
	v, ok := p.values[key]
	if !ok {
		return nil
	}
	return &v
}

// Keys returns the keys in file order.
func (p Properties) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len reports the number of entries.
func (p Properties) Len() int {
	return len(p.values)
}

// Map returns a copy of the underlying mapping.
func (p Properties) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
