//go:build !linux

package daemon

import "github.com/rs/zerolog"

type InterfaceWatcher struct{}

func NewInterfaceWatcher(_ zerolog.Logger, _ func(name string)) *InterfaceWatcher {
	return &InterfaceWatcher{}
}

func (w *InterfaceWatcher) Start() error     { return nil }
func (w *InterfaceWatcher) Stop()            {}
func (w *InterfaceWatcher) Watch(_ string)   {}
func (w *InterfaceWatcher) Unwatch(_ string) {}
