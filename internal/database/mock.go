package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if v, ok := args.Get(0).([]byte); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) Insert(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}
func (m *MockStore) Put(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}
func (m *MockStore) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	args := m.Called(ctx, prefix)
	if v, ok := args.Get(0).([]Entry); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
