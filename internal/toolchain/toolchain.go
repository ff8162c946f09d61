// Package toolchain supplies the values the Flutter Gradle plugin resolves for
// the host: SDK levels and the app version. They are injected through Provider
// so the descriptor never reads global state.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eugenenazirov/buildcfg/internal/properties"
)

// Defaults of the Flutter Gradle plugin at the time this resolver was written.
const (
	DefaultCompileSdk  = 35
	DefaultMinSdk      = 21
	DefaultTargetSdk   = 35
	DefaultVersionCode = 1
	DefaultVersionName = "1.0"
)

// local.properties keys written by `flutter build` / `flutter pub get`.
const (
	LocalVersionCode = "flutter.versionCode"
	LocalVersionName = "flutter.versionName"
	LocalMinSdk      = "flutter.minSdkVersion"
	LocalTargetSdk   = "flutter.targetSdkVersion"
	LocalCompileSdk  = "flutter.compileSdkVersion"
)

// ErrInvalidValue is returned when local.properties holds a non-numeric level.
var ErrInvalidValue = errors.New("invalid toolchain value")

// Versions are the plugin-resolved values consumed by the build descriptor.
type Versions struct {
	CompileSdk  int    `json:"compileSdk" yaml:"compile_sdk"`
	MinSdk      int    `json:"minSdk" yaml:"min_sdk"`
	TargetSdk   int    `json:"targetSdk" yaml:"target_sdk"`
	VersionCode int    `json:"versionCode" yaml:"version_code"`
	VersionName string `json:"versionName" yaml:"version_name"`
}

// DefaultVersions returns the plugin defaults.
func DefaultVersions() Versions {
	return Versions{
		CompileSdk:  DefaultCompileSdk,
		MinSdk:      DefaultMinSdk,
		TargetSdk:   DefaultTargetSdk,
		VersionCode: DefaultVersionCode,
		VersionName: DefaultVersionName,
	}
}

// Provider resolves toolchain values for one build invocation.
type Provider interface {
	Resolve(ctx context.Context) (Versions, error)
}

// Static always returns the same values.
type Static struct {
	Versions Versions
}

// NewStatic returns a provider for fixed values.
func NewStatic(v Versions) *Static {
	return &Static{Versions: v}
}

func (s *Static) Resolve(ctx context.Context) (Versions, error) {
	if err := ctx.Err(); err != nil {
		return Versions{}, err
	}
	return s.Versions, nil
}

// LocalProperties overlays values from a Flutter local.properties file on top
// of a fallback provider. Keys absent from the file keep the fallback value.
type LocalProperties struct {
	path     string
	fallback Provider
}

// NewLocalProperties reads path on every Resolve so edits are picked up.
func NewLocalProperties(path string, fallback Provider) *LocalProperties {
	if fallback == nil {
		fallback = NewStatic(DefaultVersions())
	}
	return &LocalProperties{path: path, fallback: fallback}
}

func (l *LocalProperties) Resolve(ctx context.Context) (Versions, error) {
	v, err := l.fallback.Resolve(ctx)
	if err != nil {
		return Versions{}, err
	}

	props, _, err := properties.Load(l.path)
	if err != nil {
		return Versions{}, fmt.Errorf("load local properties: %w", err)
	}

	return Overlay(v, props)
}

// Overlay applies local.properties values onto base.
func Overlay(base Versions, props properties.Properties) (Versions, error) {
	out := base
	// Fixed order so the first bad key reported is stable.
	for _, field := range []struct {
		key string
		dst *int
	}{
		{LocalVersionCode, &out.VersionCode},
		{LocalMinSdk, &out.MinSdk},
		{LocalTargetSdk, &out.TargetSdk},
		{LocalCompileSdk, &out.CompileSdk},
	} {
		raw, ok := props.Get(field.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Versions{}, fmt.Errorf("%w: %s=%q", ErrInvalidValue, field.key, raw)
		}
		*field.dst = n
	}
	if name, ok := props.Get(LocalVersionName); ok && strings.TrimSpace(name) != "" {
		out.VersionName = strings.TrimSpace(name)
	}
	return out, nil
}
