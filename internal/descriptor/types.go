package descriptor

import (
	"strings"

	"github.com/eugenenazirov/buildcfg/internal/dependency"
	"github.com/eugenenazirov/buildcfg/internal/signing"
)

// JavaVersion is a Java language level such as "1.8" or "17".
type JavaVersion string

const (
	Java8  JavaVersion = "1.8"
	Java11 JavaVersion = "11"
	Java17 JavaVersion = "17"
)

// GradleName returns the JavaVersion enum constant name, e.g. VERSION_1_8.
func (v JavaVersion) GradleName() string {
	return "VERSION_" + strings.ReplaceAll(string(v), ".", "_")
}

// CompileOptions mirrors android.compileOptions.
type CompileOptions struct {
	CoreLibraryDesugaringEnabled bool        `json:"coreLibraryDesugaringEnabled" yaml:"core_library_desugaring_enabled"`
	SourceCompatibility          JavaVersion `json:"sourceCompatibility" yaml:"source_compatibility"`
	TargetCompatibility          JavaVersion `json:"targetCompatibility" yaml:"target_compatibility"`
}

// KotlinOptions mirrors android.kotlinOptions.
type KotlinOptions struct {
	JvmTarget string `json:"jvmTarget" yaml:"jvm_target"`
}

// DefaultConfig mirrors android.defaultConfig.
type DefaultConfig struct {
	ApplicationID   string `json:"applicationId" yaml:"application_id"`
	MinSdk          int    `json:"minSdk" yaml:"min_sdk"`
	TargetSdk       int    `json:"targetSdk" yaml:"target_sdk"`
	VersionCode     int    `json:"versionCode" yaml:"version_code"`
	VersionName     string `json:"versionName" yaml:"version_name"`
	MultiDexEnabled bool   `json:"multiDexEnabled" yaml:"multi_dex_enabled"`
}

// BuildType mirrors an entry of android.buildTypes.
type BuildType struct {
	Name            string `json:"name" yaml:"name"`
	SigningConfig   string `json:"signingConfig,omitempty" yaml:"signing_config,omitempty"`
	MinifyEnabled   bool   `json:"minifyEnabled" yaml:"minify_enabled"`
	ShrinkResources bool   `json:"shrinkResources" yaml:"shrink_resources"`
}

// Descriptor is the assembled configuration of the Android app module.
type Descriptor struct {
	Plugins        []string                `json:"plugins" yaml:"plugins"`
	Namespace      string                  `json:"namespace" yaml:"namespace"`
	CompileSdk     int                     `json:"compileSdk" yaml:"compile_sdk"`
	NdkVersion     string                  `json:"ndkVersion" yaml:"ndk_version"`
	CompileOptions CompileOptions          `json:"compileOptions" yaml:"compile_options"`
	KotlinOptions  KotlinOptions           `json:"kotlinOptions" yaml:"kotlin_options"`
	DefaultConfig  DefaultConfig           `json:"defaultConfig" yaml:"default_config"`
	SigningConfigs []signing.Config        `json:"signingConfigs" yaml:"signing_configs"`
	BuildTypes     []BuildType             `json:"buildTypes" yaml:"build_types"`
	FlutterSource  string                  `json:"flutterSource" yaml:"flutter_source"`
	Dependencies   []dependency.Dependency `json:"dependencies" yaml:"dependencies"`
}

// SigningConfig returns the signing config registered under name.
func (d Descriptor) SigningConfig(name string) (signing.Config, bool) {
	for _, sc := range d.SigningConfigs {
		if sc.Name == name {
			return sc, true
		}
	}
	return signing.Config{}, false
}

// BuildType returns the build type registered under name.
func (d Descriptor) BuildType(name string) (BuildType, bool) {
	for _, bt := range d.BuildTypes {
		if bt.Name == name {
			return bt, true
		}
	}
	return BuildType{}, false
}

// Redacted returns a copy whose signing configs have masked passwords.
func (d Descriptor) Redacted() Descriptor {
	out := d.clone()
	for i := range out.SigningConfigs {
		out.SigningConfigs[i] = out.SigningConfigs[i].Redacted()
	}
	return out
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.Plugins = append([]string(nil), d.Plugins...)
	out.SigningConfigs = append([]signing.Config(nil), d.SigningConfigs...)
	out.BuildTypes = append([]BuildType(nil), d.BuildTypes...)
	out.Dependencies = append([]dependency.Dependency(nil), d.Dependencies...)
	return out
}
