// Package registry loads model descriptors from YAML index files and answers
// lookups by name or by artifact URL. Index files are hosted remotely (for
// example on github) or sit on disk; each lists the models that can be
// downloaded from that source.
package registry

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/pocketlm/pocketlm/pkg/downloader"
)

type Registry struct {
	models []*Model
}

// Load fetches every source index and merges the descriptors into a single
// registry. A source that fails to load fails the whole call; a registry
// with holes would misclassify missing models later.
func Load(sources []Source) (*Registry, error) {
	var models []*Model

	for _, source := range sources {
		sourceModels, err := loadSource(source)
		if err != nil {
			return nil, fmt.Errorf("failed to load registry source %q: %w", source.Name, err)
		}
		models = append(models, sourceModels...)
	}

	return &Registry{models: models}, nil
}

// FromModels builds a registry from descriptors already in memory.
func FromModels(models ...Model) *Registry {
	r := &Registry{}
	for i := range models {
		m := models[i]
		r.models = append(r.models, &m)
	}
	return r
}

func loadSource(source Source) ([]*Model, error) {
	var models []*Model

	uri := downloader.URI(source.URL)
	err := uri.DownloadWithCallback(func(url string, d []byte) error {
		return yaml.Unmarshal(d, &models)
	})
	if err != nil {
		if yamlErr, ok := err.(*yaml.TypeError); ok {
			log.Debug().Msgf("YAML errors: %s\n\nwreckage of models: %+v", strings.Join(yamlErr.Errors, "\n"), models)
		}
		return nil, err
	}

	for _, model := range models {
		model.Source = source
	}
	return models, nil
}

func (r *Registry) All() []*Model {
	return r.models
}

// FindByName looks a model up by bare name, or by the qualified
// "source@name" form when the name contains an @.
func (r *Registry) FindByName(name string) *Model {
	if !strings.Contains(name, "@") {
		for _, m := range r.models {
			if strings.EqualFold(m.Name, name) {
				return m
			}
		}
		return nil
	}

	for _, m := range r.models {
		if strings.EqualFold(name, m.ID()) {
			return m
		}
	}
	return nil
}

// FindByURL looks a model up by its artifact URL. Used to rehydrate
// persisted state when only the configured URL survived a restart.
func (r *Registry) FindByURL(url string) *Model {
	for _, m := range r.models {
		if m.URL == url {
			return m
		}
	}
	return nil
}

// Search returns the models whose name, description, source or tags match
// the term.
func (r *Registry) Search(term string) []*Model {
	var filtered []*Model
	term = strings.ToLower(term)
	for _, m := range r.models {
		if fuzzy.Match(term, strings.ToLower(m.Name)) ||
			strings.Contains(strings.ToLower(m.Name), term) ||
			strings.Contains(strings.ToLower(m.Description), term) ||
			strings.Contains(strings.ToLower(m.Source.Name), term) ||
			strings.Contains(strings.ToLower(strings.Join(m.Tags, ",")), term) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
