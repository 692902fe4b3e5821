// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storages runs one worker per storage instance. A worker owns
// the storage created on its volume's backend, feeds it the samples
// arriving on its key expression, and answers the control protocol:
// Stop (fire-and-forget) and GetStatus (one-shot reply).
package storages

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4/catacomb"

	"github.com/keymesh/storaged/backend"
	"github.com/keymesh/storaged/config"
	"github.com/keymesh/storaged/session"
)

var logger = loggo.GetLogger("storaged.storages")

// sampleBacklog bounds how many undelivered samples a worker buffers
// before the session-side handler blocks.
const sampleBacklog = 32

// message is a control message; exactly stopMessage and statusMessage.
type message interface{}

type stopMessage struct{}

type statusMessage struct {
	reply chan<- interface{}
}

// Config holds everything a storage worker needs.
type Config struct {
	// Storage is the instance's configuration record.
	Storage config.StorageConfig

	// Backend is the hosting volume's backend, lent to the supervisor
	// for the duration of Start only.
	Backend backend.Backend

	// Incoming and Outgoing are the backend's declared interceptors;
	// either may be nil.
	Incoming backend.Interceptor
	Outgoing backend.Interceptor

	// Session is the shared pub/sub session.
	Session session.Session

	// AdminKey is the storage's key in the admin space, reported in
	// status payloads.
	AdminKey string
}

// Validate returns an error if the config cannot drive a worker.
func (c Config) Validate() error {
	if c.Storage.Name == "" {
		return errors.NotValidf("empty storage name")
	}
	if c.Storage.KeyExpr == "" {
		return errors.NotValidf("storage %q without key expression", c.Storage.Name)
	}
	if c.Backend == nil {
		return errors.NotValidf("nil Backend")
	}
	if c.Session == nil {
		return errors.NotValidf("nil Session")
	}
	return nil
}

// Start creates the storage on the backend, subscribes to its key
// expression and spawns the worker, returning its control handle. On
// error nothing is left registered: the storage is closed and the
// subscription cancelled.
func Start(cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	store, err := cfg.Backend.CreateStorage(cfg.Storage)
	if err != nil {
		return nil, errors.Trace(err)
	}
	w := &storageWorker{
		config:  cfg,
		store:   store,
		control: make(chan message),
		samples: make(chan session.Sample, sampleBacklog),
	}
	unsubscribe, err := cfg.Session.Subscribe(cfg.Storage.KeyExpr, w.onSample)
	if err != nil {
		_ = store.Close()
		return nil, errors.Trace(err)
	}
	w.unsubscribe = unsubscribe
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		unsubscribe()
		_ = store.Close()
		return nil, errors.Trace(err)
	}
	logger.Debugf("started storage %q on key expression %q", cfg.Storage.Name, cfg.Storage.KeyExpr)
	return &Handle{w: w}, nil
}

type storageWorker struct {
	catacomb    catacomb.Catacomb
	config      Config
	store       backend.Storage
	unsubscribe session.Unsubscriber
	control     chan message
	samples     chan session.Sample
}

// Kill is part of the worker.Worker interface.
func (w *storageWorker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *storageWorker) Wait() error {
	return w.catacomb.Wait()
}

// onSample runs on the session's goroutine; it hands the sample to the
// loop so the storage only ever sees one writer.
func (w *storageWorker) onSample(s session.Sample) {
	select {
	case w.samples <- s:
	case <-w.catacomb.Dying():
	}
}

func (w *storageWorker) loop() error {
	defer w.unsubscribe()
	defer func() {
		if err := w.store.Close(); err != nil {
			logger.Warningf("closing storage %q: %v", w.config.Storage.Name, err)
		}
	}()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case s := <-w.samples:
			w.ingest(s)
		case m := <-w.control:
			switch m := m.(type) {
			case stopMessage:
				logger.Debugf("storage %q stopping", w.config.Storage.Name)
				return nil
			case statusMessage:
				// Exactly one payload per request; the buffered
				// reply channel never blocks the loop.
				m.reply <- w.status()
			}
		}
	}
}

func (w *storageWorker) ingest(s session.Sample) {
	if w.config.Incoming != nil {
		s = w.config.Incoming(s)
	}
	if err := w.store.Put(s.Key, s.Value); err != nil {
		logger.Errorf("storage %q: storing key %q: %v", w.config.Storage.Name, s.Key, err)
	}
}

func (w *storageWorker) status() interface{} {
	return map[string]interface{}{
		"name":      w.config.Storage.Name,
		"volume":    w.config.Storage.Volume,
		"key_expr":  w.config.Storage.KeyExpr,
		"admin_key": w.config.AdminKey,
		"storage":   w.store.AdminStatus(),
	}
}
