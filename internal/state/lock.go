package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunLockTTL is how long a run lock survives without a heartbeat.
const RunLockTTL = 2 * time.Minute

// RunLock is the holder of the shared run lock.
type RunLock struct {
	Owner       string
	RunID       string
	HeartbeatAt time.Time
}

// AcquireRunLock takes the run lock for owner. It succeeds when the lock is
// free, expired, or already held by owner, and reports false when another
// live owner holds it.
func (s *Store) AcquireRunLock(ctx context.Context, owner, runID string) (bool, error) {
	now := s.now()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO run_lock (id, owner, run_id, heartbeat_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			run_id = excluded.run_id,
			heartbeat_at = excluded.heartbeat_at
		WHERE run_lock.owner = excluded.owner OR run_lock.heartbeat_at < ?`,
		owner, runID, now.UnixNano(), now.Add(-s.lockTTL).UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	return n > 0, nil
}

// HeartbeatRunLock extends the lock held by owner. It reports false when
// owner no longer holds it.
func (s *Store) HeartbeatRunLock(ctx context.Context, owner string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE run_lock SET heartbeat_at = ? WHERE id = 1 AND owner = ?",
		s.now().UnixNano(), owner)
	if err != nil {
		return false, fmt.Errorf("heartbeat run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat run lock: %w", err)
	}
	return n > 0, nil
}

// ReleaseRunLock drops the lock if owner holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, owner string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM run_lock WHERE id = 1 AND owner = ?", owner); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// LiveRunLock returns the current holder, or nil when the lock is free or
// expired.
func (s *Store) LiveRunLock(ctx context.Context) (*RunLock, error) {
	var (
		lock RunLock
		beat int64
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT owner, run_id, heartbeat_at FROM run_lock WHERE id = 1").Scan(&lock.Owner, &lock.RunID, &beat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run lock: %w", err)
	}
	lock.HeartbeatAt = time.Unix(0, beat)
	if lock.HeartbeatAt.Before(s.now().Add(-s.lockTTL)) {
		return nil, nil
	}
	return &lock, nil
}
