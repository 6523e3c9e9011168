package mysql

import (
	"context"
	"fmt"

	"devicefarm/pkg/store/mysql/model"
)

// SessionRepository handles finished device session persistence in MySQL
type SessionRepository struct {
	ds *Datastore
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(ds *Datastore) *SessionRepository {
	return &SessionRepository{ds: ds}
}

// RecordSession stores a finished session
func (r *SessionRepository) RecordSession(ctx context.Context, session *model.DeviceSession) error {
	if err := r.ds.DB(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to record device session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions of a device, newest first
func (r *SessionRepository) ListSessions(ctx context.Context, udid string, limit int) ([]*model.DeviceSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []*model.DeviceSession
	err := r.ds.DB(ctx).
		Where("udid = ?", udid).
		Order("ended_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list device sessions: %w", err)
	}
	return sessions, nil
}
