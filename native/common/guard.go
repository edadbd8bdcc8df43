package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the per-module pause flags.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused, naming the module, when it is paused.
// A nil view never blocks.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
