package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "classwatch/pkg/database"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Manager owns the SQLite connection behind the session and identity stores.
// All writes funnel through a single writer goroutine; SQLite allows one
// writer at a time and the single queue also gives every session commit a
// total order, which the commit hook relies on for snapshot delivery.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	commitHook   func(*types.ClassroomSession)
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// SetCommitHook registers a callback invoked inside the writer goroutine
// after every committed session write. Must be set before writes begin.
func (m *Manager) SetCommitHook(hook func(*types.ClassroomSession)) {
	m.commitHook = hook
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", interfaces.ErrStoreUnavailable)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("%w: write operation timeout", interfaces.ErrStoreUnavailable)
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", interfaces.ErrStoreUnavailable)
	}
}

func (m *Manager) notifyCommit(session *types.ClassroomSession) {
	if m.commitHook != nil && session != nil {
		m.commitHook(session.Clone())
	}
}

// EnsureSession returns the classroom session, creating it in the default
// Idle state with a vacant seat if it does not exist. Creation counts as a
// committed write and is broadcast.
func (m *Manager) EnsureSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error) {
	session, err := m.GetSession(ctx, classroomID)
	if err == nil {
		return session, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	var created *types.ClassroomSession
	err = m.executeWrite(func(db *sql.DB) error {
		now := time.Now().UTC()
		result, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO classroom_sessions
				(classroom_id, active, help_requested, monitor_en_route, revision, updated_at)
			VALUES (?, 0, 0, 0, 1, ?)
		`, classroomID, now)
		if err != nil {
			return fmt.Errorf("failed to create session document: %w", err)
		}

		created, err = getSessionTx(ctx, db, classroomID)
		if err != nil {
			return err
		}

		// Broadcast only if this call actually inserted the row; a racing
		// EnsureSession that lost the insert must not duplicate the commit.
		if rows, raErr := result.RowsAffected(); raErr == nil && rows > 0 {
			m.notifyCommit(created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetSession returns ErrNotFound when the classroom document is absent.
func (m *Manager) GetSession(ctx context.Context, classroomID string) (*types.ClassroomSession, error) {
	return getSessionTx(ctx, m.db, classroomID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getSessionTx(ctx context.Context, q queryer, classroomID string) (*types.ClassroomSession, error) {
	row := q.QueryRowContext(ctx, `
		SELECT classroom_id, active, help_requested, monitor_en_route,
		       teacher_identity_id, teacher_display_name, revision, updated_at
		FROM classroom_sessions
		WHERE classroom_id = ?
	`, classroomID)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.ClassroomSession, error) {
	var session types.ClassroomSession
	var teacherID, teacherName sql.NullString

	err := row.Scan(
		&session.ClassroomID,
		&session.Active,
		&session.HelpRequested,
		&session.MonitorEnRoute,
		&teacherID,
		&teacherName,
		&session.Revision,
		&session.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to query session: %v", interfaces.ErrStoreUnavailable, err)
	}

	if teacherID.Valid {
		session.ActiveTeacher = &types.TeacherRef{
			IdentityID:  teacherID.String,
			DisplayName: teacherName.String,
		}
	}

	return &session, nil
}

// ListSessions returns every classroom session document.
func (m *Manager) ListSessions(ctx context.Context) ([]*types.ClassroomSession, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT classroom_id, active, help_requested, monitor_en_route,
		       teacher_identity_id, teacher_display_name, revision, updated_at
		FROM classroom_sessions
		ORDER BY classroom_id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query sessions: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.ClassroomSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating session rows: %v", interfaces.ErrStoreUnavailable, err)
	}

	return sessions, nil
}

// ApplyPatch commits a partial-field merge update and returns the committed
// snapshot. The read-merge-write runs inside one transaction on the writer
// goroutine, so no concurrent write interleaves.
func (m *Manager) ApplyPatch(ctx context.Context, classroomID string, patch types.SessionPatch) (*types.ClassroomSession, error) {
	var committed *types.ClassroomSession

	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin transaction: %v", interfaces.ErrStoreUnavailable, err)
		}
		defer func() { _ = tx.Rollback() }()

		session, err := getSessionTx(ctx, tx, classroomID)
		if err != nil {
			return err
		}

		// Seat ownership first: a teacher whose seat was vacated or stolen
		// hears about the seat, not whatever state the session is in now.
		if patch.ExpectTeacher != "" && !session.SeatHeldBy(patch.ExpectTeacher) {
			return interfaces.ErrSeatLost
		}
		if !patch.StateAllowed(session.State()) {
			return interfaces.ErrInvalidTransition
		}

		patch.Apply(session)
		session.Revision++
		session.UpdatedAt = time.Now().UTC()

		if err := updateSessionTx(ctx, tx, session); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit session update: %v", interfaces.ErrStoreUnavailable, err)
		}

		committed = session
		m.notifyCommit(session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// ClaimSeat grants the teaching seat if vacant or already held by the same
// identity. The conditional check and write share one transaction on the
// writer goroutine, so two racing claims cannot both observe a vacant seat.
func (m *Manager) ClaimSeat(ctx context.Context, classroomID string, teacher types.TeacherRef) (*types.ClassroomSession, error) {
	var committed *types.ClassroomSession

	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin transaction: %v", interfaces.ErrStoreUnavailable, err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO classroom_sessions
				(classroom_id, active, help_requested, monitor_en_route, revision, updated_at)
			VALUES (?, 0, 0, 0, 0, ?)
		`, classroomID, now); err != nil {
			return fmt.Errorf("%w: failed to ensure session document: %v", interfaces.ErrStoreUnavailable, err)
		}

		session, err := getSessionTx(ctx, tx, classroomID)
		if err != nil {
			return err
		}

		if !session.SeatVacant() && !session.SeatHeldBy(teacher.IdentityID) {
			return interfaces.ErrSeatDenied
		}

		session.ActiveTeacher = &types.TeacherRef{
			IdentityID:  teacher.IdentityID,
			DisplayName: teacher.DisplayName,
		}
		session.Revision++
		session.UpdatedAt = now

		if err := updateSessionTx(ctx, tx, session); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit seat claim: %v", interfaces.ErrStoreUnavailable, err)
		}

		committed = session
		m.notifyCommit(session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// ReleaseSeat clears the seat only if currently held by identityID.
// Idempotent: releasing a seat held by someone else, or already vacant, is a
// no-op and produces no commit event.
func (m *Manager) ReleaseSeat(ctx context.Context, classroomID string, identityID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to begin transaction: %v", interfaces.ErrStoreUnavailable, err)
		}
		defer func() { _ = tx.Rollback() }()

		session, err := getSessionTx(ctx, tx, classroomID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}

		if !session.SeatHeldBy(identityID) {
			return nil
		}

		session.ActiveTeacher = nil
		session.Revision++
		session.UpdatedAt = time.Now().UTC()

		if err := updateSessionTx(ctx, tx, session); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit seat release: %v", interfaces.ErrStoreUnavailable, err)
		}

		m.notifyCommit(session)
		return nil
	})
}

func updateSessionTx(ctx context.Context, tx *sql.Tx, session *types.ClassroomSession) error {
	var teacherID, teacherName sql.NullString
	if session.ActiveTeacher != nil {
		teacherID = sql.NullString{String: session.ActiveTeacher.IdentityID, Valid: true}
		teacherName = sql.NullString{String: session.ActiveTeacher.DisplayName, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE classroom_sessions
		SET active = ?, help_requested = ?, monitor_en_route = ?,
		    teacher_identity_id = ?, teacher_display_name = ?,
		    revision = ?, updated_at = ?
		WHERE classroom_id = ?
	`,
		session.Active,
		session.HelpRequested,
		session.MonitorEnRoute,
		teacherID,
		teacherName,
		session.Revision,
		session.UpdatedAt,
		session.ClassroomID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update session: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM classroom_sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
