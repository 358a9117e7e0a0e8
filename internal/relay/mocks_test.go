package relay_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/model"
)

type mockDeliverer struct {
	mu        sync.Mutex
	seq       int
	calls     []bridge.Delivery
	deliverFn func(d bridge.Delivery) (string, error)
}

func (m *mockDeliverer) Deliver(_ context.Context, d bridge.Delivery) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, d)
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	if m.deliverFn != nil {
		return m.deliverFn(d)
	}
	return fmt.Sprintf("%s/%d", d.Endpoint.String(), seq), nil
}

// final returns the last delivery made to each endpoint.
func (m *mockDeliverer) final() map[model.Endpoint]bridge.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.Endpoint]bridge.Delivery)
	for _, d := range m.calls {
		out[d.Endpoint] = d
	}
	return out
}

func (m *mockDeliverer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockPublisher struct {
	mu        sync.Mutex
	published []model.Envelope
	publishFn func(env model.Envelope) (model.Envelope, error)
}

func (m *mockPublisher) Publish(_ context.Context, env model.Envelope) (model.Envelope, error) {
	m.mu.Lock()
	m.published = append(m.published, env)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(env)
	}
	env.ID = "1"
	return env, nil
}
