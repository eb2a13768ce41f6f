package render

import (
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog/log"
)

// Notifier receives a fire-and-forget signal after a successful copy. The
// terminal bell stand-in for haptic feedback lives behind this interface.
type Notifier interface {
	Success()
}

type NopNotifier struct{}

func (NopNotifier) Success() {}

const DefaultCopiedHold = 2 * time.Second

// CopyButton copies text to the system clipboard and flips a transient
// "copied" indicator that reverts after the hold duration. It keeps no state
// beyond that.
type CopyButton struct {
	mu     sync.Mutex
	copied bool
	reset  *time.Timer

	hold   time.Duration
	notify Notifier
	write  func(string) error
}

type CopyOption func(*CopyButton)

func WithHold(d time.Duration) CopyOption {
	return func(b *CopyButton) {
		b.hold = d
	}
}

func WithNotifier(n Notifier) CopyOption {
	return func(b *CopyButton) {
		b.notify = n
	}
}

// WithWriter replaces the clipboard destination.
func WithWriter(w func(string) error) CopyOption {
	return func(b *CopyButton) {
		b.write = w
	}
}

func NewCopyButton(opts ...CopyOption) *CopyButton {
	b := &CopyButton{
		hold:   DefaultCopiedHold,
		notify: NopNotifier{},
		write:  clipboard.WriteAll,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Copy writes text to the clipboard, fires the notifier and arms the
// indicator reset.
func (b *CopyButton) Copy(text string) error {
	if err := b.write(text); err != nil {
		log.Error().Err(err).Msg("failed to copy to clipboard")
		return err
	}

	b.notify.Success()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.copied = true
	if b.reset != nil {
		b.reset.Stop()
	}
	b.reset = time.AfterFunc(b.hold, func() {
		b.mu.Lock()
		b.copied = false
		b.mu.Unlock()
	})
	return nil
}

// Copied reports whether the indicator is currently in its "copied" state.
func (b *CopyButton) Copied() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copied
}
