// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storages

import (
	"time"

	"github.com/juju/clock"
)

// Handle is the control endpoint of one running storage worker. Sends
// race against the worker's death, so a handle never blocks its caller
// once the worker is gone.
type Handle struct {
	w *storageWorker
}

// Name returns the storage's configured name.
func (h *Handle) Name() string {
	return h.w.config.Storage.Name
}

// Stop asks the worker to shut down. Fire-and-forget: repeated calls and
// calls against an already-stopped worker are harmless.
func (h *Handle) Stop() {
	select {
	case h.w.control <- stopMessage{}:
	case <-h.w.catacomb.Dying():
	}
}

// Wait blocks until the worker has fully stopped and returns its exit
// error, nil for a clean stop.
func (h *Handle) Wait() error {
	return h.w.Wait()
}

// Kill aborts the worker without waiting.
func (h *Handle) Kill() {
	h.w.Kill()
}

// Status requests the worker's live status, waiting at most timeout for
// the single reply. A stopped or unresponsive worker yields ok=false:
// no answer means no information, never an error. One deadline covers
// both the send and the reply, so a slow worker costs at most timeout.
func (h *Handle) Status(clk clock.Clock, timeout time.Duration) (interface{}, bool) {
	reply := make(chan interface{}, 1)
	expire := clk.After(timeout)
	select {
	case h.w.control <- statusMessage{reply: reply}:
	case <-h.w.catacomb.Dying():
		return nil, false
	case <-expire:
		return nil, false
	}
	select {
	case status := <-reply:
		return status, true
	case <-expire:
		return nil, false
	}
}
