package descriptor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-version"

	"github.com/eugenenazirov/buildcfg/internal/dependency"
	"github.com/eugenenazirov/buildcfg/internal/signing"
	"github.com/eugenenazirov/buildcfg/internal/toolchain"
)

// Fixed literals of the app module.
const (
	ApplicationID = "com.flutter.Tabib"
	Namespace     = "com.flutter.Tabib"
	NdkVersion    = "27.0.12077973"
	JvmTarget     = "1.8"
	FlutterSource = "../.."

	ReleaseBuildType = "release"
)

// Plugins applied to the app module, in application order.
var Plugins = []string{
	"com.android.application",
	"com.google.gms.google-services",
	"kotlin-android",
	"dev.flutter.flutter-gradle-plugin",
}

var (
	// ErrInvalidDescriptor is wrapped by every problem Validate reports.
	ErrInvalidDescriptor = errors.New("invalid build descriptor")
	// ErrNoToolchain is returned by Assemble when no Provider is supplied.
	ErrNoToolchain = errors.New("toolchain provider is required")
)

var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)+$`)

// Input carries everything Assemble needs that is not a literal.
type Input struct {
	Toolchain toolchain.Provider
	Signing   signing.Config
}

// Assemble combines the module literals with the toolchain values and the
// release signing config. It performs no validation.
func Assemble(ctx context.Context, in Input) (Descriptor, error) {
	if in.Toolchain == nil {
		return Descriptor{}, ErrNoToolchain
	}

	v, err := in.Toolchain.Resolve(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("resolve toolchain: %w", err)
	}

	sc := in.Signing
	if sc.Name == "" {
		sc.Name = signing.ReleaseName
	}

	return Descriptor{
		Plugins:    append([]string(nil), Plugins...),
		Namespace:  Namespace,
		CompileSdk: v.CompileSdk,
		NdkVersion: NdkVersion,
		CompileOptions: CompileOptions{
			CoreLibraryDesugaringEnabled: true,
			SourceCompatibility:          Java8,
			TargetCompatibility:          Java8,
		},
		KotlinOptions: KotlinOptions{JvmTarget: JvmTarget},
		DefaultConfig: DefaultConfig{
			ApplicationID:   ApplicationID,
			MinSdk:          v.MinSdk,
			TargetSdk:       v.TargetSdk,
			VersionCode:     v.VersionCode,
			VersionName:     v.VersionName,
			MultiDexEnabled: true,
		},
		SigningConfigs: []signing.Config{sc},
		BuildTypes: []BuildType{
			{
				Name:            ReleaseBuildType,
				SigningConfig:   sc.Name,
				MinifyEnabled:   false,
				ShrinkResources: false,
			},
		},
		FlutterSource: FlutterSource,
		Dependencies:  dependency.Defaults(),
	}, nil
}

// Validate checks the structural rules a packager would otherwise reject late.
// Signing completeness is not checked here; see signing.Config.Validate.
func (d Descriptor) Validate() error {
	var merr *multierror.Error
	fail := func(format string, args ...any) {
		merr = multierror.Append(merr, fmt.Errorf("%w: %s", ErrInvalidDescriptor, fmt.Sprintf(format, args...)))
	}

	if strings.TrimSpace(d.Namespace) == "" {
		fail("namespace is empty")
	}
	if strings.TrimSpace(d.DefaultConfig.ApplicationID) == "" {
		fail("applicationId is empty")
	} else if !packageNamePattern.MatchString(d.DefaultConfig.ApplicationID) {
		fail("applicationId %q is not a valid package name", d.DefaultConfig.ApplicationID)
	}

	if d.DefaultConfig.MinSdk <= 0 {
		fail("minSdk must be positive, got %d", d.DefaultConfig.MinSdk)
	}
	if d.DefaultConfig.MinSdk > d.DefaultConfig.TargetSdk {
		fail("minSdk %d exceeds targetSdk %d", d.DefaultConfig.MinSdk, d.DefaultConfig.TargetSdk)
	}
	if d.DefaultConfig.TargetSdk > d.CompileSdk {
		fail("targetSdk %d exceeds compileSdk %d", d.DefaultConfig.TargetSdk, d.CompileSdk)
	}
	if d.DefaultConfig.VersionCode <= 0 {
		fail("versionCode must be positive, got %d", d.DefaultConfig.VersionCode)
	}
	if strings.TrimSpace(d.DefaultConfig.VersionName) == "" {
		fail("versionName is empty")
	}

	if _, err := version.NewVersion(d.NdkVersion); err != nil {
		fail("ndkVersion %q: %v", d.NdkVersion, err)
	}

	for _, bt := range d.BuildTypes {
		if bt.SigningConfig == "" {
			continue
		}
		if _, ok := d.SigningConfig(bt.SigningConfig); !ok {
			fail("build type %s references unknown signing config %s", bt.Name, bt.SigningConfig)
		}
	}

	for _, dep := range d.Dependencies {
		if _, err := dep.Coordinate.SemVer(); err != nil {
			fail("dependency %s: %v", dep.Coordinate, err)
		}
	}

	return FormatErrorOrNil(merr)
}

// FormatErrorOrNil renders an aggregate as a bulleted list, or returns nil
// when nothing was appended.
func FormatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = formatErrors
	}
	return err.ErrorOrNil()
}

func formatErrors(es []error) string {
	if len(es) == 1 {
		return fmt.Sprintf("1 problem found:\n\t* %s", es[0])
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = fmt.Sprintf("* %s", err)
	}
	return fmt.Sprintf("%d problems found:\n\t%s", len(es), strings.Join(points, "\n\t"))
}
