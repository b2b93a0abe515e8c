//go:build !windows

// Package service provides a stub implementation for non-Windows platforms.
// On macOS and Linux the agent runs as a foreground process under the
// platform's own supervisor.
package service

import (
	"context"

	"go.uber.org/zap"
)

// Service runs the agent directly on non-Windows platforms.
type Service struct {
	logger  *zap.Logger
	startFn func(ctx context.Context) error
}

// New creates a stub service wrapper for non-Windows platforms.
func New(logger *zap.Logger, startFn func(ctx context.Context) error) *Service {
	return &Service{
		logger:  logger,
		startFn: startFn,
	}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run executes the agent until it returns.
func (s *Service) Run() error {
	return s.startFn(context.Background())
}
