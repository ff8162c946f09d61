package signing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/eugenenazirov/buildcfg/internal/properties"
)

// Property keys recognised in key.properties.
const (
	KeyAlias      = "keyAlias"
	KeyPassword   = "keyPassword"
	StoreFile     = "storeFile"
	StorePassword = "storePassword"
)

// ReleaseName is the signing config the release build type refers to.
const ReleaseName = "release"

const redactedValue = "********"

var (
	// ErrIncomplete is wrapped by Validate when some credential fields are unset.
	ErrIncomplete = errors.New("signing config is incomplete")
	// ErrStoreFileMissing is returned by CheckStoreFile when the keystore is not on disk.
	ErrStoreFileMissing = errors.New("keystore file does not exist")
)

// Config holds release signing credentials. Every credential field is optional;
// nil means the key was not present in the properties file.
type Config struct {
	Name          string  `json:"name" yaml:"name"`
	KeyAlias      *string `json:"keyAlias" yaml:"key_alias"`
	KeyPassword   *string `json:"keyPassword" yaml:"key_password"`
	StoreFile     *string `json:"storeFile" yaml:"store_file"`
	StorePassword *string `json:"storePassword" yaml:"store_password"`
}

// FromProperties maps the recognised keys onto a Config. storeFile is resolved
// against baseDir unless it is already absolute; the other values pass through
// untouched. Nothing is validated here.
func FromProperties(name string, props properties.Properties, baseDir string) Config {
	cfg := Config{
		Name:          name,
		KeyAlias:      props.Lookup(KeyAlias),
		KeyPassword:   props.Lookup(KeyPassword),
		StorePassword: props.Lookup(StorePassword),
	}
	if raw := props.Lookup(StoreFile); raw != nil {
		resolved := resolvePath(baseDir, *raw)
		cfg.StoreFile = &resolved
	}
	return cfg
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

// IsEmpty reports whether no credential field is set.
func (c Config) IsEmpty() bool {
	return c.KeyAlias == nil && c.KeyPassword == nil && c.StoreFile == nil && c.StorePassword == nil
}

// Missing lists the property keys whose fields are unset, in declaration order.
func (c Config) Missing() []string {
	var missing []string
	if c.KeyAlias == nil {
		missing = append(missing, KeyAlias)
	}
	if c.KeyPassword == nil {
		missing = append(missing, KeyPassword)
	}
	if c.StoreFile == nil {
		missing = append(missing, StoreFile)
	}
	if c.StorePassword == nil {
		missing = append(missing, StorePassword)
	}
	return missing
}

// Validate reports every unset credential field at once. The build itself never
// calls it; failures would otherwise surface only when the packager signs.
func (c Config) Validate() error {
	var merr *multierror.Error
	for _, key := range c.Missing() {
		merr = multierror.Append(merr, fmt.Errorf("%w: %s %s is not set", ErrIncomplete, c.Name, key))
	}
	return merr.ErrorOrNil()
}

// CheckStoreFile verifies that the referenced keystore exists. An unset
// storeFile is not checked.
func (c Config) CheckStoreFile() error {
	if c.StoreFile == nil {
		return nil
	}
	info, err := os.Stat(*c.StoreFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrStoreFileMissing, *c.StoreFile)
		}
		return fmt.Errorf("stat keystore: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrStoreFileMissing, *c.StoreFile)
	}
	return nil
}

// Redacted returns a copy with both passwords masked. Unset passwords stay nil
// so the output still shows which fields were provided.
func (c Config) Redacted() Config {
	out := c
	out.KeyAlias = clone(c.KeyAlias)
	out.StoreFile = clone(c.StoreFile)
	if c.KeyPassword != nil {
		out.KeyPassword = ptr(redactedValue)
	}
	if c.StorePassword != nil {
		out.StorePassword = ptr(redactedValue)
	}
	return out
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func ptr(s string) *string {
	return &s
}
