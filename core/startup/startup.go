// Package startup assembles the application: it loads the registry sources,
// opens the state store and wires the collaborators into a manager.
package startup

import (
	"github.com/rs/zerolog/log"

	"github.com/pocketlm/pocketlm/core/config"
	"github.com/pocketlm/pocketlm/core/manager"
	"github.com/pocketlm/pocketlm/core/registry"
	"github.com/pocketlm/pocketlm/pkg/netcheck"
	"github.com/pocketlm/pocketlm/pkg/store"
)

// Assemble builds the model manager from the application config. The
// returned cleanup closes the state store.
func Assemble(appConfig *config.ApplicationConfig) (*manager.Manager, *registry.Registry, func(), error) {
	reg, err := registry.Load(appConfig.Registries)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(appConfig.StatePath)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close state store")
		}
	}

	checker := netcheck.NewDialChecker()
	if appConfig.ProbeAddr != "" {
		checker.Addr = appConfig.ProbeAddr
	}

	m, err := manager.New(reg, st,
		&manager.HTTPFetcher{ModelsPath: appConfig.ModelsPath},
		checker,
		manager.WithModelsPath(appConfig.ModelsPath),
		manager.WithBackoffBase(appConfig.BackoffBase),
	)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	log.Debug().Str("modelsPath", appConfig.ModelsPath).Str("statePath", appConfig.StatePath).Msg("application assembled")
	return m, reg, cleanup, nil
}
