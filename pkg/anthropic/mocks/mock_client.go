// Package mocks provides testify mocks for the anthropic package.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nooglenTech/Investment-Intelligence-Platform/pkg/anthropic"
)

// MockClient is a mock implementation of anthropic.Client.
type MockClient struct {
	mock.Mock
}

// NewMockClient creates a MockClient and registers an expectation check on
// test cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// CreateMessage records the call and returns the configured response.
func (m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	var resp *anthropic.MessageResponse
	if fn, ok := args.Get(0).(func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error)); ok {
		return fn(ctx, req)
	}
	if v := args.Get(0); v != nil {
		resp = v.(*anthropic.MessageResponse)
	}
	return resp, args.Error(1)
}

var _ anthropic.Client = (*MockClient)(nil)
