// Package config carries the application-level configuration assembled from
// CLI flags and environment, handed to the pieces that need it.
package config

import (
	"time"

	"github.com/pocketlm/pocketlm/core/registry"
)

type ApplicationConfig struct {
	ModelsPath  string
	StatePath   string
	Registries  []registry.Source
	BackoffBase time.Duration

	// ProbeAddr is the endpoint dialed by the connectivity check.
	ProbeAddr string
}

type AppOption func(*ApplicationConfig)

func NewApplicationConfig(o ...AppOption) *ApplicationConfig {
	opt := &ApplicationConfig{
		BackoffBase: 2 * time.Second,
	}
	for _, oo := range o {
		oo(opt)
	}
	return opt
}

func WithModelsPath(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.ModelsPath = path
	}
}

func WithStatePath(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.StatePath = path
	}
}

func WithRegistries(sources ...registry.Source) AppOption {
	return func(o *ApplicationConfig) {
		o.Registries = sources
	}
}

func WithBackoffBase(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.BackoffBase = d
	}
}

func WithProbeAddr(addr string) AppOption {
	return func(o *ApplicationConfig) {
		o.ProbeAddr = addr
	}
}
