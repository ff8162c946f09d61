package dependency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// CoreLibraryDesugaring is the Gradle configuration that feeds the D8 desugarer.
const CoreLibraryDesugaring = "coreLibraryDesugaring"

// DesugarJDKLibs is the library that backports java.* APIs to older runtimes.
const DesugarJDKLibs = "com.android.tools:desugar_jdk_libs:2.1.4"

// ErrInvalidCoordinate is returned when a coordinate is not group:artifact:version.
var ErrInvalidCoordinate = errors.New("coordinate must have the form group:artifact:version")

// Coordinate names a Maven artifact pinned to a version.
type Coordinate struct {
	Group    string `json:"group" yaml:"group"`
	Artifact string `json:"artifact" yaml:"artifact"`
	Version  string `json:"version" yaml:"version"`
}

// ParseCoordinate splits "group:artifact:version" and checks that the version
// parses.
func ParseCoordinate(raw string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, raw)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, raw)
		}
	}

	c := Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if _, err := c.SemVer(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// MustParseCoordinate is ParseCoordinate for package-level literals.
func MustParseCoordinate(raw string) Coordinate {
	c, err := ParseCoordinate(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// SemVer parses the pinned version.
func (c Coordinate) SemVer() (*version.Version, error) {
	v, err := version.NewVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidCoordinate, c.Version, err)
	}
	return v, nil
}

// Satisfies reports whether the pinned version meets a constraint such as
// ">= 2.0".
func (c Coordinate) Satisfies(constraint string) (bool, error) {
	v, err := c.SemVer()
	if err != nil {
		return false, err
	}
	constraints, err := version.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parse constraint %q: %w", constraint, err)
	}
	return constraints.Check(v), nil
}

func (c Coordinate) String() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version
}

// Dependency binds a coordinate to a Gradle configuration.
type Dependency struct {
	Configuration string     `json:"configuration" yaml:"configuration"`
	Coordinate    Coordinate `json:"coordinate" yaml:"coordinate"`
}

func (d Dependency) String() string {
	return fmt.Sprintf("%s(%q)", d.Configuration, d.Coordinate.String())
}

// Defaults returns the dependency block of the app module.
func Defaults() []Dependency {
	return []Dependency{
		{
			Configuration: CoreLibraryDesugaring,
			Coordinate:    MustParseCoordinate(DesugarJDKLibs),
		},
	}
}
