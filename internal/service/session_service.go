package service

import (
	"context"
	"fmt"

	"devicefarm/internal/model"
	"devicefarm/pkg/capability"
	"devicefarm/pkg/logger"

	"github.com/google/uuid"
)

// SessionService Session service
type SessionService struct {
	resolver  FilterResolver
	allocator DeviceAllocator
	adapter   capability.Adapter
	devices   *DeviceService
}

// NewSessionService creates a new Session service
func NewSessionService(resolver FilterResolver, allocator DeviceAllocator, adapter capability.Adapter, devices *DeviceService) *SessionService {
	return &SessionService{
		resolver:  resolver,
		allocator: allocator,
		adapter:   adapter,
		devices:   devices,
	}
}

// CreateSession resolves the capabilities into a filter, waits for a matching device
// and enriches the capabilities for it. The device is freed again when enrichment fails.
func (s *SessionService) CreateSession(ctx context.Context, caps *model.CapabilityRequest) (*model.Session, error) {
	req, err := s.resolver.Resolve(caps)
	if err != nil {
		return nil, err
	}

	device, err := s.allocator.Allocate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.adapter.Adapt(ctx, caps, device); err != nil {
		if _, releaseErr := s.devices.Release(ctx, device.Key()); releaseErr != nil {
			logger.ErrorCtx(ctx, "failed to release %s after capability error: %v", device.Key(), releaseErr)
		}
		return nil, fmt.Errorf("failed to prepare session capabilities: %w", err)
	}

	session := &model.Session{
		ID:           uuid.New().String(),
		Device:       device,
		Capabilities: caps,
	}
	logger.InfoCtx(ctx, "session %s created on device %s", session.ID, device.Key())
	return session, nil
}
