package manager

import (
	"fmt"
	"os"

	cp "github.com/otiai10/copy"
	"github.com/rs/zerolog/log"
)

// Delete removes a model from the downloaded set and persists the change.
// If the model was active, the selection is cleared. On-disk artifacts are
// removed best-effort: a failed file removal is logged, never surfaced.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.downloaded[:0]
	for _, n := range m.downloaded {
		if n != name {
			kept = append(kept, n)
		}
	}
	m.downloaded = kept

	if m.active == name {
		m.active = ""
	}

	if err := m.persistLocked(); err != nil {
		return err
	}

	m.removeArtifacts(name)
	return nil
}

// DeleteAll removes every registered model. Persisted state is always
// cleared, whatever the per-file deletion outcomes.
func (m *Manager) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, model := range m.registry.All() {
		m.removeArtifacts(model.Name)
	}
	// Artifacts of models that left the registry are unreachable above;
	// sweep whatever is still recorded as downloaded.
	for _, name := range m.downloaded {
		m.removeArtifacts(name)
	}

	m.downloaded = nil
	m.active = ""
	return m.persistLocked()
}

func (m *Manager) removeArtifacts(name string) {
	if err := os.RemoveAll(m.modelDir(name)); err != nil {
		log.Error().Err(err).Str("model", name).Msg("failed to remove model directory")
	}
	if err := os.Remove(m.configPath(name)); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("model", name).Msg("failed to remove model config file")
	}
}

// Import copies a model directory from the local filesystem into the models
// path and records it as downloaded. Used for bundled or sideloaded models
// that never go through the fetch collaborator.
func (m *Manager) Import(name, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("cannot import %q: %w", srcPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot import %q: not a directory", srcPath)
	}

	if err := cp.Copy(srcPath, m.modelDir(name)); err != nil {
		return fmt.Errorf("failed to copy model files: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !contains(m.downloaded, name) {
		m.downloaded = append(m.downloaded, name)
	}
	if m.active == "" {
		m.active = name
	}
	if err := m.persistLocked(); err != nil {
		return err
	}

	log.Info().Str("model", name).Str("source", srcPath).Msg("model imported")
	return nil
}
