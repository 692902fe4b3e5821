// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/keymesh/storaged/keyexpr"
)

// Hub is an in-process Session backed by a pubsub hub. Subscription
// matching uses key-expression intersection, so a subscriber for
// "a/b/**" sees samples published to "a/b/c".
type Hub struct {
	hub *pubsub.SimpleHub
}

// NewHub returns a ready-to-use in-process session.
func NewHub() *Hub {
	return &Hub{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("storaged.session"),
		}),
	}
}

// Publish is part of the Session interface.
func (h *Hub) Publish(key string, value []byte) {
	h.hub.Publish(key, value)
}

// PublishWait publishes the sample and returns a channel that is closed
// once every matching subscriber has handled it. Tests use it to
// synchronise on delivery.
func (h *Hub) PublishWait(key string, value []byte) <-chan struct{} {
	wait := h.hub.Publish(key, value)
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	return done
}

// Subscribe is part of the Session interface.
func (h *Hub) Subscribe(keyExpr string, handler func(Sample)) (Unsubscriber, error) {
	unsub := h.hub.SubscribeMatch(func(topic string) bool {
		return keyexpr.Intersects(keyExpr, topic)
	}, func(topic string, data interface{}) {
		value, ok := data.([]byte)
		if !ok {
			return
		}
		handler(Sample{Key: topic, Value: value})
	})
	return Unsubscriber(unsub), nil
}
