package manager_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/pocketlm/pocketlm/core/manager"
	"github.com/pocketlm/pocketlm/core/registry"
	"github.com/pocketlm/pocketlm/pkg/netcheck"
	"github.com/pocketlm/pocketlm/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeFetcher fails with the queued errors in order, then succeeds. A nil
// queue succeeds on the first attempt.
type fakeFetcher struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	fraction float64
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, model registry.Model, onProgress func(float64)) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.fraction > 0 {
		onProgress(f.fraction)
	}
	if f.block != nil {
		<-f.block
	}
	if call <= len(f.errs) {
		return "", f.errs[call-1]
	}
	return filepath.Join("models", model.Name), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingChecker records whether connectivity was ever consulted.
type countingChecker struct {
	connected bool
	calls     int
}

func (c *countingChecker) IsConnected() bool {
	c.calls++
	return c.connected
}

// recordingTimer drives retries without sleeping and records every delay.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
	t.mu.Unlock()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *recordingTimer) recorded() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.waits))
	copy(out, t.waits)
	return out
}

var _ = Describe("Manager", func() {
	var (
		tempdir string
		st      *store.Store
		reg     *registry.Registry
		tinym   registry.Model
	)

	newManager := func(f Fetcher, nc netcheck.Checker, opts ...Option) *Manager {
		base := []Option{
			WithModelsPath(filepath.Join(tempdir, "models")),
			WithBackoffBase(10 * time.Millisecond),
		}
		m, err := New(reg, st, f, nc, append(base, opts...)...)
		Expect(err).ToNot(HaveOccurred())
		return m
	}

	BeforeEach(func() {
		var err error
		tempdir, err = os.MkdirTemp("", "manager")
		Expect(err).ToNot(HaveOccurred())

		st, err = store.Open(filepath.Join(tempdir, "state.db"))
		Expect(err).ToNot(HaveOccurred())

		tinym = registry.Model{
			Name:   "tinyllama-1.1b-chat",
			Kind:   "gguf",
			URL:    "https://example.com/tinyllama.gguf",
			Config: map[string]interface{}{"context_size": 2048, "temperature": 0.7},
		}
		reg = registry.FromModels(
			tinym,
			registry.Model{Name: "phi-2-q4", Kind: "gguf", URL: "https://example.com/phi-2.gguf"},
			registry.Model{Name: "clip-vit-large", Kind: "safetensors", URL: "https://example.com/clip.safetensors"},
			registry.Model{Name: "falcon-180b-chat-q4", Kind: "gguf", URL: "https://example.com/falcon.gguf"},
		)
	})

	AfterEach(func() {
		st.Close()
		os.RemoveAll(tempdir)
	})

	Context("downloading", func() {
		It("downloads, persists and activates a model", func() {
			f := &fakeFetcher{}
			m := newManager(f, netcheck.Static(true))

			var fractions []float64
			err := m.Download(context.Background(), tinym, func(fr float64) { fractions = append(fractions, fr) })
			Expect(err).ToNot(HaveOccurred())

			Expect(m.IsDownloaded("tinyllama-1.1b-chat")).To(BeTrue())
			Expect(m.ActiveModel()).To(Equal("tinyllama-1.1b-chat"))

			persisted, err := st.Strings("downloadedModels")
			Expect(err).ToNot(HaveOccurred())
			Expect(persisted).To(ContainElement("tinyllama-1.1b-chat"))
			active, err := st.String("activeModel")
			Expect(err).ToNot(HaveOccurred())
			Expect(active).To(Equal("tinyllama-1.1b-chat"))
		})

		It("writes the merged model config on success", func() {
			f := &fakeFetcher{}
			m := newManager(f, netcheck.Static(true))

			tinym.Overrides = map[string]interface{}{"temperature": 0.2}
			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())

			data, err := os.ReadFile(filepath.Join(tempdir, "models", "tinyllama-1.1b-chat.yaml"))
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("context_size: 2048"))
			Expect(string(data)).To(ContainSubstring("temperature: 0.2"))
		})

		It("does not steal the active slot from an earlier model", func() {
			f := &fakeFetcher{}
			m := newManager(f, netcheck.Static(true))

			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())
			phi := *reg.FindByName("phi-2-q4")
			Expect(m.Download(context.Background(), phi, nil)).To(Succeed())

			Expect(m.ActiveModel()).To(Equal("tinyllama-1.1b-chat"))
		})

		It("clears in-flight and progress state on success", func() {
			f := &fakeFetcher{fraction: 0.5}
			m := newManager(f, netcheck.Static(true))

			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())
			Expect(m.Downloading("tinyllama-1.1b-chat")).To(BeFalse())
			_, ok := m.Progress("tinyllama-1.1b-chat")
			Expect(ok).To(BeFalse())
		})

		It("clears in-flight and progress state on failure", func() {
			f := &fakeFetcher{errs: []error{
				errors.New("connection reset"),
				errors.New("connection reset"),
				errors.New("connection reset"),
			}}
			m := newManager(f, netcheck.Static(true), WithRetryTimer(&recordingTimer{}))

			err := m.Download(context.Background(), tinym, nil)
			Expect(err).To(HaveOccurred())
			Expect(m.Downloading("tinyllama-1.1b-chat")).To(BeFalse())
			_, ok := m.Progress("tinyllama-1.1b-chat")
			Expect(ok).To(BeFalse())
		})

		It("exposes progress while a download is in flight", func() {
			f := &fakeFetcher{
				fraction: 0.4,
				block:    make(chan struct{}),
				started:  make(chan struct{}, 1),
			}
			m := newManager(f, netcheck.Static(true))

			done := make(chan error, 1)
			go func() {
				done <- m.Download(context.Background(), tinym, nil)
			}()

			Eventually(f.started).Should(Receive())
			Eventually(func() bool {
				fr, ok := m.Progress("tinyllama-1.1b-chat")
				return ok && fr == 0.4
			}).Should(BeTrue())
			Expect(m.Downloading("tinyllama-1.1b-chat")).To(BeTrue())
			Expect(m.Statuses()).To(HaveKey("tinyllama-1.1b-chat"))

			close(f.block)
			Eventually(done).Should(Receive(BeNil()))
		})

		It("rejects a second download of an in-flight model", func() {
			f := &fakeFetcher{
				block:   make(chan struct{}),
				started: make(chan struct{}, 1),
			}
			m := newManager(f, netcheck.Static(true))

			done := make(chan error, 1)
			go func() {
				done <- m.Download(context.Background(), tinym, nil)
			}()
			Eventually(f.started).Should(Receive())

			err := m.Download(context.Background(), tinym, nil)
			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureConfiguration))

			close(f.block)
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Context("validation", func() {
		It("rejects unsupported model kinds before any network activity", func() {
			f := &fakeFetcher{}
			nc := &countingChecker{connected: true}
			m := newManager(f, nc)

			clip := *reg.FindByName("clip-vit-large")
			err := m.Download(context.Background(), clip, nil)

			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureUnsupportedModel))
			Expect(nc.calls).To(BeZero())
			Expect(f.callCount()).To(BeZero())
		})

		It("rejects denylisted models before any network activity", func() {
			f := &fakeFetcher{}
			nc := &countingChecker{connected: true}
			m := newManager(f, nc)

			falcon := *reg.FindByName("falcon-180b-chat-q4")
			err := m.Download(context.Background(), falcon, nil)

			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureModelNotFound))
			Expect(nc.calls).To(BeZero())
			Expect(f.callCount()).To(BeZero())
		})

		It("rejects models absent from the registry", func() {
			f := &fakeFetcher{}
			m := newManager(f, netcheck.Static(true))

			err := m.Download(context.Background(), registry.Model{Name: "ghost", Kind: "gguf"}, nil)
			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureConfiguration))
		})

		It("fails immediately without retry when offline", func() {
			f := &fakeFetcher{}
			m := newManager(f, netcheck.Static(false))

			err := m.Download(context.Background(), tinym, nil)
			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureNetworkUnavailable))
			Expect(f.callCount()).To(BeZero())
			Expect(m.Downloading("tinyllama-1.1b-chat")).To(BeFalse())
		})
	})

	Context("retrying", func() {
		It("retries unclassified failures with exponential backoff", func() {
			f := &fakeFetcher{errs: []error{
				errors.New("connection reset by peer"),
				errors.New("connection reset by peer"),
			}}
			timer := &recordingTimer{}
			m := newManager(f, netcheck.Static(true), WithRetryTimer(timer))

			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())
			Expect(f.callCount()).To(Equal(3))
			Expect(timer.recorded()).To(Equal([]time.Duration{
				10 * time.Millisecond,
				20 * time.Millisecond,
			}))
		})

		It("gives up with the last error's text after exhausting attempts", func() {
			f := &fakeFetcher{errs: []error{
				errors.New("connection reset by peer"),
				errors.New("connection reset by peer"),
				errors.New("tls handshake timeout"),
			}}
			m := newManager(f, netcheck.Static(true), WithRetryTimer(&recordingTimer{}))

			err := m.Download(context.Background(), tinym, nil)
			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureDownload))
			Expect(derr.Detail).To(ContainSubstring("tls handshake timeout"))
			Expect(f.callCount()).To(Equal(3))
			Expect(m.IsDownloaded("tinyllama-1.1b-chat")).To(BeFalse())
		})

		It("stops after one attempt on offline-mode failures", func() {
			f := &fakeFetcher{errs: []error{
				errors.New("Request failed: offline mode is enabled"),
			}}
			timer := &recordingTimer{}
			m := newManager(f, netcheck.Static(true), WithRetryTimer(timer))

			err := m.Download(context.Background(), tinym, nil)
			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureRequiresWiFi))
			Expect(f.callCount()).To(Equal(1))
			Expect(timer.recorded()).To(BeEmpty())
		})

		It("stops retrying on not-found failures", func() {
			f := &fakeFetcher{errs: []error{
				errors.New("server returned 404"),
			}}
			m := newManager(f, netcheck.Static(true), WithRetryTimer(&recordingTimer{}))

			err := m.Download(context.Background(), tinym, nil)
			var derr *DownloadError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Kind).To(Equal(FailureModelNotFound))
			Expect(f.callCount()).To(Equal(1))
		})
	})

	Context("deleting", func() {
		downloadBoth := func(m *Manager) {
			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())
			phi := *reg.FindByName("phi-2-q4")
			Expect(m.Download(context.Background(), phi, nil)).To(Succeed())
		}

		It("clears the active model when it is deleted", func() {
			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			downloadBoth(m)
			Expect(m.ActiveModel()).To(Equal("tinyllama-1.1b-chat"))

			Expect(m.Delete("tinyllama-1.1b-chat")).To(Succeed())
			Expect(m.ActiveModel()).To(BeEmpty())
			Expect(m.IsDownloaded("tinyllama-1.1b-chat")).To(BeFalse())
			Expect(m.IsDownloaded("phi-2-q4")).To(BeTrue())

			active, err := st.String("activeModel")
			Expect(err).ToNot(HaveOccurred())
			Expect(active).To(BeEmpty())
		})

		It("leaves the active model alone when another one is deleted", func() {
			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			downloadBoth(m)

			Expect(m.Delete("phi-2-q4")).To(Succeed())
			Expect(m.ActiveModel()).To(Equal("tinyllama-1.1b-chat"))
		})

		It("removes the model config file", func() {
			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())

			configPath := filepath.Join(tempdir, "models", "tinyllama-1.1b-chat.yaml")
			_, err := os.Stat(configPath)
			Expect(err).ToNot(HaveOccurred())

			Expect(m.Delete("tinyllama-1.1b-chat")).To(Succeed())
			_, err = os.Stat(configPath)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("clears all persisted state even when file removal fails", func() {
			// A models path whose parent is a regular file makes every
			// artifact removal fail.
			bogus := filepath.Join(tempdir, "occupied")
			Expect(os.WriteFile(bogus, []byte("x"), 0644)).To(Succeed())

			Expect(st.SetStrings("downloadedModels", []string{"tinyllama-1.1b-chat", "phi-2-q4"})).To(Succeed())
			Expect(st.SetString("activeModel", "tinyllama-1.1b-chat")).To(Succeed())

			m := newManager(&fakeFetcher{}, netcheck.Static(true),
				WithModelsPath(filepath.Join(bogus, "models")))
			Expect(m.DeleteAll()).To(Succeed())

			persisted, err := st.Strings("downloadedModels")
			Expect(err).ToNot(HaveOccurred())
			Expect(persisted).To(BeEmpty())
			active, err := st.String("activeModel")
			Expect(err).ToNot(HaveOccurred())
			Expect(active).To(BeEmpty())
		})
	})

	Context("rehydrating", func() {
		It("restores persisted state at startup", func() {
			Expect(st.SetStrings("downloadedModels", []string{"tinyllama-1.1b-chat", "phi-2-q4"})).To(Succeed())
			Expect(st.SetString("activeModel", "phi-2-q4")).To(Succeed())

			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.Downloaded()).To(ConsistOf("tinyllama-1.1b-chat", "phi-2-q4"))
			Expect(m.ActiveModel()).To(Equal("phi-2-q4"))
		})

		It("drops persisted models missing from the registry", func() {
			Expect(st.SetStrings("downloadedModels", []string{"tinyllama-1.1b-chat", "retired-model"})).To(Succeed())
			Expect(st.SetString("activeModel", "retired-model")).To(Succeed())

			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.Downloaded()).To(ConsistOf("tinyllama-1.1b-chat"))
			Expect(m.ActiveModel()).To(BeEmpty())
		})
	})

	Context("importing", func() {
		It("copies a local model directory and records it", func() {
			src := filepath.Join(tempdir, "bundled")
			Expect(os.MkdirAll(src, 0750)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(src, "weights.gguf"), []byte("w"), 0644)).To(Succeed())

			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.Import("bundled-tiny", src)).To(Succeed())

			Expect(m.IsDownloaded("bundled-tiny")).To(BeTrue())
			Expect(m.ActiveModel()).To(Equal("bundled-tiny"))
			_, err := os.Stat(filepath.Join(tempdir, "models", "bundled-tiny", "weights.gguf"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("rejects missing source paths", func() {
			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.Import("x", filepath.Join(tempdir, "nope"))).ToNot(Succeed())
		})
	})

	Context("selecting the active model", func() {
		It("rejects models that are not downloaded", func() {
			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.SetActiveModel("tinyllama-1.1b-chat")).ToNot(Succeed())
		})

		It("persists the new selection", func() {
			m := newManager(&fakeFetcher{}, netcheck.Static(true))
			Expect(m.Download(context.Background(), tinym, nil)).To(Succeed())
			phi := *reg.FindByName("phi-2-q4")
			Expect(m.Download(context.Background(), phi, nil)).To(Succeed())

			Expect(m.SetActiveModel("phi-2-q4")).To(Succeed())
			active, err := st.String("activeModel")
			Expect(err).ToNot(HaveOccurred())
			Expect(active).To(Equal("phi-2-q4"))
		})
	})
})

var _ = Describe("DownloadError", func() {
	It("renders the kind and detail", func() {
		err := &DownloadError{Kind: FailureModelNotFound, Model: "tiny", Detail: "gone"}
		Expect(err.Error()).To(Equal("tiny: model not found: gone"))
	})
	It("renders without detail", func() {
		err := &DownloadError{Kind: FailureNetworkUnavailable, Model: "tiny"}
		Expect(err.Error()).To(Equal(fmt.Sprintf("tiny: %s", FailureNetworkUnavailable)))
	})
})
