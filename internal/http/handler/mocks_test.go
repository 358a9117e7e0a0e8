package handler_test

import (
	"context"

	"github.com/JushBJJ/Wormhole/internal/core"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/relay"
)

type mockIngester struct {
	handleFn func(ctx context.Context, msg model.InboundMessage) (core.Outcome, error)
}

func (m *mockIngester) Handle(ctx context.Context, msg model.InboundMessage) (core.Outcome, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, msg)
	}
	return core.Outcome{}, nil
}

type mockEnvelopeRelayer struct {
	relayFn func(ctx context.Context, env model.Envelope) (relay.Result, error)
}

func (m *mockEnvelopeRelayer) RelayEnvelope(ctx context.Context, env model.Envelope) (relay.Result, error) {
	if m.relayFn != nil {
		return m.relayFn(ctx, env)
	}
	return relay.Result{}, nil
}

type mockCategoryLister struct {
	summariesFn func(ctx context.Context) ([]model.CategorySummary, error)
}

func (m *mockCategoryLister) Summaries(ctx context.Context) ([]model.CategorySummary, error) {
	if m.summariesFn != nil {
		return m.summariesFn(ctx)
	}
	return nil, nil
}
