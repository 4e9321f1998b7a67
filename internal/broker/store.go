package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("task not found")

const timeLayout = "2006-01-02T15:04:05.000Z"

// Task statuses.
const (
	StatusPending = "pending"
	StatusClaimed = "claimed"
)

// TaskSpec is what an operator enqueues for a build-less container.
type TaskSpec struct {
	AgentID   string `json:"agentId"`
	SecretKey string `json:"secretKey"`
	ProjectID string `json:"projectId"`
}

// Task is a queued or claimed build-less task.
type Task struct {
	ID          string `json:"id"`
	AgentID     string `json:"agentId"`
	SecretKey   string `json:"-"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	ContainerID string `json:"containerId,omitempty"`
	CreatedAt   string `json:"createdAt"`
	ClaimedAt   string `json:"claimedAt,omitempty"`
}

// ClaimFields is the body handed to the claiming container.
func (t Task) ClaimFields() map[string]string {
	return map[string]string{
		"agentId":   t.AgentID,
		"secretKey": t.SecretKey,
		"projectId": t.ProjectID,
	}
}

// Store keeps tasks in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Enqueue adds a pending task.
func (s *Store) Enqueue(ctx context.Context, spec TaskSpec) (Task, error) {
	t := Task{
		ID:        uuid.NewString(),
		AgentID:   spec.AgentID,
		SecretKey: spec.SecretKey,
		ProjectID: spec.ProjectID,
		Status:    StatusPending,
		CreatedAt: s.now().UTC().Format(timeLayout),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_tasks (id, agent_id, secret_key, project_id, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.AgentID, t.SecretKey, t.ProjectID, t.Status, t.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("inserting task: %w", err)
	}
	return t, nil
}

// Claim hands the oldest pending task to containerID. A container that
// already holds a claim gets the same task again, so a restarted container
// resumes its build. ok is false when nothing is pending.
func (s *Store) Claim(ctx context.Context, containerID string) (task Task, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, false, fmt.Errorf("beginning claim: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	task, err = scanTask(tx.QueryRowContext(ctx,
		selectTask+` WHERE status = ? AND container_id = ? LIMIT 1`, StatusClaimed, containerID))
	if err == nil {
		return task, true, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, fmt.Errorf("looking up existing claim: %w", err)
	}

	task, err = scanTask(tx.QueryRowContext(ctx,
		selectTask+` WHERE status = ? ORDER BY created_at, rowid LIMIT 1`, StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, tx.Commit()
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("selecting pending task: %w", err)
	}

	task.Status = StatusClaimed
	task.ContainerID = containerID
	task.ClaimedAt = s.now().UTC().Format(timeLayout)
	if _, err = tx.ExecContext(ctx,
		`UPDATE build_tasks SET status = ?, container_id = ?, claimed_at = ? WHERE id = ?`,
		task.Status, task.ContainerID, task.ClaimedAt, task.ID); err != nil {
		return Task{}, false, fmt.Errorf("claiming task %s: %w", task.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return Task{}, false, fmt.Errorf("committing claim: %w", err)
	}
	return task, true, nil
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("getting task %q: %w", id, err)
	}
	return task, nil
}

const selectTask = `SELECT id, agent_id, secret_key, project_id, status, container_id, created_at, claimed_at FROM build_tasks`

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.AgentID, &t.SecretKey, &t.ProjectID, &t.Status, &t.ContainerID, &t.CreatedAt, &t.ClaimedAt)
	return t, err
}
