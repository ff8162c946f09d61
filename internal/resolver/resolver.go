// Package resolver runs the load-then-reference pipeline of the app module:
// read key.properties, build the release signing config, resolve toolchain
// values and assemble the build descriptor.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/eugenenazirov/buildcfg/internal/descriptor"
	"github.com/eugenenazirov/buildcfg/internal/properties"
	"github.com/eugenenazirov/buildcfg/internal/signing"
	"github.com/eugenenazirov/buildcfg/internal/toolchain"
)

// ErrStrict wraps problems that are fatal only in strict mode.
var ErrStrict = errors.New("strict validation failed")

// Options locate the project on disk and select how lenient resolution is.
type Options struct {
	// KeyPropertiesPath is the signing properties file, normally
	// <root project>/key.properties.
	KeyPropertiesPath string
	// ModuleDir is the app module directory; storeFile is resolved against it.
	ModuleDir string
	// Strict turns incomplete signing, a missing keystore and descriptor
	// validation problems into errors instead of warnings.
	Strict bool
}

// Resolver produces descriptors. It is safe for concurrent use; every call
// reads the property files afresh.
type Resolver struct {
	opts      Options
	toolchain toolchain.Provider
	logger    *zap.Logger
}

// New constructs a Resolver.
func New(opts Options, provider toolchain.Provider, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		opts:      opts,
		toolchain: provider,
		logger:    logger,
	}
}

// Options returns the options the resolver was built with.
func (r *Resolver) Options() Options {
	return r.opts
}

// Resolve builds the descriptor for one invocation. A missing properties file
// is tolerated and yields an empty signing config.
func (r *Resolver) Resolve(ctx context.Context) (descriptor.Descriptor, error) {
	props, found, err := properties.Load(r.opts.KeyPropertiesPath)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("load signing properties: %w", err)
	}
	if !found {
		r.logger.Info("signing properties not found, release signing left unset",
			zap.String("path", r.opts.KeyPropertiesPath),
		)
	}

	sc := signing.FromProperties(signing.ReleaseName, props, filepath.Clean(r.opts.ModuleDir))

	d, err := descriptor.Assemble(ctx, descriptor.Input{
		Toolchain: r.toolchain,
		Signing:   sc,
	})
	if err != nil {
		return descriptor.Descriptor{}, err
	}

	if err := r.check(sc, d); err != nil {
		return descriptor.Descriptor{}, err
	}

	r.logger.Debug("descriptor resolved",
		zap.String("application_id", d.DefaultConfig.ApplicationID),
		zap.Int("compile_sdk", d.CompileSdk),
		zap.Int("min_sdk", d.DefaultConfig.MinSdk),
		zap.Int("target_sdk", d.DefaultConfig.TargetSdk),
		zap.Bool("signing_complete", len(sc.Missing()) == 0),
	)
	return d, nil
}

func (r *Resolver) check(sc signing.Config, d descriptor.Descriptor) error {
	var merr *multierror.Error

	if missing := sc.Missing(); len(missing) > 0 {
		if !sc.IsEmpty() {
			r.logger.Warn("signing config is incomplete",
				zap.String("signing_config", sc.Name),
				zap.Strings("missing", missing),
			)
		}
		if r.opts.Strict {
			merr = multierror.Append(merr, sc.Validate())
		}
	}

	if err := sc.CheckStoreFile(); err != nil {
		r.logger.Warn("keystore check failed", zap.Error(err))
		if r.opts.Strict {
			merr = multierror.Append(merr, err)
		}
	}

	if err := d.Validate(); err != nil {
		r.logger.Warn("descriptor has problems", zap.Error(err))
		if r.opts.Strict {
			merr = multierror.Append(merr, err)
		}
	}

	if err := descriptor.FormatErrorOrNil(merr); err != nil {
		return fmt.Errorf("%w: %w", ErrStrict, err)
	}
	return nil
}
