//go:build linux

package daemon

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// InterfaceWatcher reports when a watched network interface disappears, so
// the daemon can stop protection instead of reading from a dead tunnel.
type InterfaceWatcher struct {
	logger    zerolog.Logger
	onRemoved func(name string)

	mu         sync.RWMutex
	interfaces map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewInterfaceWatcher(logger zerolog.Logger, onRemoved func(name string)) *InterfaceWatcher {
	return &InterfaceWatcher{
		logger:     logger.With().Str("component", "watcher").Logger(),
		onRemoved:  onRemoved,
		interfaces: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
}

func (w *InterfaceWatcher) Start() error {
	updates := make(chan netlink.LinkUpdate)
	nlDone := make(chan struct{})

	if err := netlink.LinkSubscribe(updates, nlDone); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.watch(updates, nlDone)
	return nil
}

func (w *InterfaceWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *InterfaceWatcher) Watch(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interfaces[name] = struct{}{}
	w.logger.Debug().Str("interface", name).Msg("watching interface")
}

func (w *InterfaceWatcher) Unwatch(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.interfaces, name)
}

func (w *InterfaceWatcher) watch(updates chan netlink.LinkUpdate, nlDone chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			close(nlDone)
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Header.Type != unix.RTM_DELLINK {
				continue
			}
			name := update.Attrs().Name
			w.mu.RLock()
			_, watched := w.interfaces[name]
			w.mu.RUnlock()

			if watched {
				w.logger.Warn().Str("interface", name).Msg("interface removed")
				w.onRemoved(name)
			}
		}
	}
}
