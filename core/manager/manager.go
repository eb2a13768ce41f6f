// Package manager owns the model lifecycle: downloading with retry and
// failure classification, persisted downloaded/active state, deletion and
// local import. Collaborators (registry, network check, fetcher, store) are
// injected at construction.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/pocketlm/pocketlm/core/registry"
	"github.com/pocketlm/pocketlm/pkg/netcheck"
	"github.com/pocketlm/pocketlm/pkg/xsync"
)

// Fetcher materializes a model's artifacts on disk, reporting progress as a
// fraction in [0,1]. It returns the directory holding the artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, model registry.Model, onProgress func(fraction float64)) (string, error)
}

// Store is the persistence collaborator: plain get/set by key, assumed
// atomic per key.
type Store interface {
	String(key string) (string, error)
	SetString(key, value string) error
	Strings(key string) ([]string, error)
	SetStrings(key string, values []string) error
}

const (
	downloadedModelsKey = "downloadedModels"
	activeModelKey      = "activeModel"
)

const (
	// DefaultBackoffBase seeds the inter-attempt delay: the first retry
	// waits DefaultBackoffBase, the second twice that.
	DefaultBackoffBase = 2 * time.Second
	defaultMaxAttempts = 3
)

// DefaultSupportedKinds are the model artifact kinds this device can run.
var DefaultSupportedKinds = []string{"gguf", "onnx"}

// DefaultDenylist holds model identifiers with known-broken upstream
// artifacts. They are rejected before any network activity.
var DefaultDenylist = []string{
	"falcon-180b-chat-q4",
	"replit-code-v1-3b",
}

// Status is a snapshot of one in-flight download.
type Status struct {
	OpID     string
	Progress float64
}

type Manager struct {
	registry *registry.Registry
	store    Store
	fetcher  Fetcher
	net      netcheck.Checker

	modelsPath  string
	backoffBase time.Duration
	maxAttempts uint64
	supported   map[string]bool
	denylist    map[string]bool
	timer       backoff.Timer

	downloading *xsync.SyncedMap[string, string]
	progress    *xsync.SyncedMap[string, float64]

	// mu serializes mutations of the persisted downloaded/active state.
	mu         sync.Mutex
	downloaded []string
	active     string
}

type Option func(*Manager)

func WithModelsPath(path string) Option {
	return func(m *Manager) {
		m.modelsPath = path
	}
}

func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) {
		m.backoffBase = d
	}
}

func WithMaxAttempts(n uint64) Option {
	return func(m *Manager) {
		m.maxAttempts = n
	}
}

func WithSupportedKinds(kinds ...string) Option {
	return func(m *Manager) {
		m.supported = toSet(kinds)
	}
}

func WithDenylist(names ...string) Option {
	return func(m *Manager) {
		m.denylist = toSet(names)
	}
}

// WithRetryTimer replaces the timer driving inter-attempt delays.
func WithRetryTimer(t backoff.Timer) Option {
	return func(m *Manager) {
		m.timer = t
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// New builds a Manager and rehydrates persisted state from the store.
// Persisted model names no longer present in the registry are dropped.
func New(reg *registry.Registry, st Store, f Fetcher, nc netcheck.Checker, opts ...Option) (*Manager, error) {
	m := &Manager{
		registry:    reg,
		store:       st,
		fetcher:     f,
		net:         nc,
		backoffBase: DefaultBackoffBase,
		maxAttempts: defaultMaxAttempts,
		supported:   toSet(DefaultSupportedKinds),
		denylist:    toSet(DefaultDenylist),
		downloading: xsync.NewSyncedMap[string, string](),
		progress:    xsync.NewSyncedMap[string, float64](),
	}
	for _, o := range opts {
		o(m)
	}

	if err := m.rehydrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) rehydrate() error {
	names, err := m.store.Strings(downloadedModelsKey)
	if err != nil {
		return fmt.Errorf("failed to read persisted models: %w", err)
	}

	kept := make([]string, 0, len(names))
	for _, name := range names {
		if m.registry.FindByName(name) == nil {
			log.Warn().Str("model", name).Msg("persisted model is no longer in the registry, dropping it")
			continue
		}
		kept = append(kept, name)
	}

	active, err := m.store.String(activeModelKey)
	if err != nil {
		return fmt.Errorf("failed to read active model: %w", err)
	}
	activeCleared := false
	if active != "" && !contains(kept, active) {
		log.Warn().Str("model", active).Msg("active model is not downloaded anymore, clearing it")
		active = ""
		activeCleared = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloaded = kept
	m.active = active

	if len(kept) != len(names) || activeCleared {
		return m.persistLocked()
	}
	return nil
}

// Download validates the model, then fetches it through a bounded retry loop
// with exponential backoff. On success the model is recorded as downloaded
// and becomes active if nothing else is. Whatever the outcome, the model's
// in-flight and progress entries are cleared before Download returns.
func (m *Manager) Download(ctx context.Context, model registry.Model, onProgress func(fraction float64)) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	// Fail fast, before any network activity.
	if !m.supported[model.Kind] {
		return &DownloadError{Kind: FailureUnsupportedModel, Model: model.Name, Detail: fmt.Sprintf("unsupported model kind %q", model.Kind)}
	}
	if m.denylist[model.Name] {
		return &DownloadError{Kind: FailureModelNotFound, Model: model.Name, Detail: "model is known to be unavailable"}
	}
	if m.registry.FindByName(model.Name) == nil {
		return &DownloadError{Kind: FailureConfiguration, Model: model.Name, Detail: "model is not present in any registry"}
	}

	opID := uuid.New().String()
	if !m.downloading.SetIfAbsent(model.Name, opID) {
		return &DownloadError{Kind: FailureConfiguration, Model: model.Name, Detail: "model is already being downloaded"}
	}
	m.progress.Set(model.Name, 0)
	defer func() {
		m.downloading.Delete(model.Name)
		m.progress.Delete(model.Name)
	}()

	if !m.net.IsConnected() {
		return &DownloadError{Kind: FailureNetworkUnavailable, Model: model.Name, Detail: "no network connection"}
	}

	log.Info().Str("model", model.Name).Str("op", opID).Msg("starting model download")

	var artifactDir string
	attempt := func() error {
		dir, err := m.fetcher.Fetch(ctx, model, func(fraction float64) {
			m.progress.Set(model.Name, fraction)
			onProgress(fraction)
		})
		if err != nil {
			if kind, terminal := classify(err); terminal {
				return backoff.Permanent(&DownloadError{Kind: kind, Model: model.Name, Detail: err.Error()})
			}
			return err
		}
		artifactDir = dir
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("model", model.Name).Dur("retry_in", wait).Msg("download attempt failed, retrying")
	}

	err := backoff.RetryNotifyWithTimer(
		attempt,
		backoff.WithContext(backoff.WithMaxRetries(bo, m.maxAttempts-1), ctx),
		notify,
		m.timer,
	)
	if err != nil {
		var derr *DownloadError
		if errors.As(err, &derr) {
			log.Error().Err(derr).Str("model", model.Name).Msg("model download failed")
			return derr
		}
		derr = &DownloadError{Kind: FailureDownload, Model: model.Name, Detail: err.Error()}
		log.Error().Err(derr).Str("model", model.Name).Msg("model download failed after all attempts")
		return derr
	}

	if err := m.writeModelConfig(model); err != nil {
		return &DownloadError{Kind: FailureConfiguration, Model: model.Name, Detail: err.Error()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !contains(m.downloaded, model.Name) {
		m.downloaded = append(m.downloaded, model.Name)
	}
	if m.active == "" {
		m.active = model.Name
	}
	if err := m.persistLocked(); err != nil {
		return err
	}

	log.Info().Str("model", model.Name).Str("path", artifactDir).Msg("model downloaded")
	return nil
}

// writeModelConfig materializes the model's runtime configuration next to
// its artifacts, with request overrides merged over the descriptor defaults.
func (m *Manager) writeModelConfig(model registry.Model) error {
	config := map[string]interface{}{}
	for k, v := range model.Config {
		config[k] = v
	}
	if err := mergo.Merge(&config, model.Overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge model overrides: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal model config: %w", err)
	}

	if err := os.MkdirAll(m.modelsPath, 0750); err != nil {
		return err
	}
	return os.WriteFile(m.configPath(model.Name), data, 0600)
}

func (m *Manager) configPath(name string) string {
	return filepath.Join(m.modelsPath, fmt.Sprintf("%s.yaml", name))
}

func (m *Manager) modelDir(name string) string {
	return filepath.Join(m.modelsPath, name)
}

// persistLocked writes both state keys. Callers hold m.mu.
func (m *Manager) persistLocked() error {
	if err := m.store.SetStrings(downloadedModelsKey, m.downloaded); err != nil {
		return fmt.Errorf("failed to persist downloaded models: %w", err)
	}
	if err := m.store.SetString(activeModelKey, m.active); err != nil {
		return fmt.Errorf("failed to persist active model: %w", err)
	}
	return nil
}

// Downloading reports whether a download for name is in flight.
func (m *Manager) Downloading(name string) bool {
	return m.downloading.Exists(name)
}

// Progress returns the current progress fraction for an in-flight download.
func (m *Manager) Progress(name string) (float64, bool) {
	return m.progress.GetOK(name)
}

// Statuses snapshots every in-flight download.
func (m *Manager) Statuses() map[string]Status {
	statuses := map[string]Status{}
	for name, opID := range m.downloading.Map() {
		statuses[name] = Status{OpID: opID, Progress: m.progress.Get(name)}
	}
	return statuses
}

// Downloaded returns the persisted set of downloaded model names.
func (m *Manager) Downloaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.downloaded))
	copy(out, m.downloaded)
	return out
}

func (m *Manager) IsDownloaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return contains(m.downloaded, name)
}

// ActiveModel returns the current selection, or "" if none.
func (m *Manager) ActiveModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SetActiveModel marks a downloaded model as the current selection.
func (m *Manager) SetActiveModel(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !contains(m.downloaded, name) {
		return fmt.Errorf("model %q is not downloaded", name)
	}
	m.active = name
	return m.persistLocked()
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
