package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one process run.
type Run struct {
	ID         string          `json:"id"`
	Config     json.RawMessage `json:"config"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Frames     uint64          `json:"frames"`
	FinalState string          `json:"final_state"`
}

// Transition is one recorded state change.
type Transition struct {
	Frame     uint64    `json:"frame"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Timing is one timing sample.
type Timing struct {
	Frame     uint64                   `json:"frame"`
	State     string                   `json:"state"`
	FPS       float64                  `json:"fps"`
	Stages    map[string]time.Duration `json:"stages"`
	CreatedAt time.Time                `json:"created_at"`
}

// RunRepository provides access to runs and their records.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this journal.
func (j *Journal) Runs() *RunRepository {
	return &RunRepository{db: j.db}
}

// Start inserts a new run and returns it. config is stored as JSON.
func (r *RunRepository) Start(config any) (*Run, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode run config: %w", err)
	}
	run := &Run{
		ID:        uuid.New().String(),
		Config:    data,
		StartedAt: time.Now(),
	}
	_, err = r.db.Exec(
		`INSERT INTO runs (id, config, started_at) VALUES (?, ?, ?)`,
		run.ID, string(data), run.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// End marks a run as finished.
func (r *RunRepository) End(id string, frames uint64, finalState string) error {
	result, err := r.db.Exec(
		`UPDATE runs SET ended_at = ?, frames = ?, final_state = ? WHERE id = ?`,
		time.Now(), int64(frames), finalState, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run := &Run{}
	var (
		config string
		ended  sql.NullTime
		frames int64
	)
	err := r.db.QueryRow(
		`SELECT id, config, started_at, ended_at, frames, final_state FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &config, &run.StartedAt, &ended, &frames, &run.FinalState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	run.Config = json.RawMessage(config)
	run.Frames = uint64(frames)
	if ended.Valid {
		run.EndedAt = &ended.Time
	}
	return run, nil
}

// List returns the most recent runs first, at most limit of them.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT id, config, started_at, ended_at, frames, final_state
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var (
			config string
			ended  sql.NullTime
			frames int64
		)
		if err := rows.Scan(&run.ID, &config, &run.StartedAt, &ended, &frames, &run.FinalState); err != nil {
			return nil, err
		}
		run.Config = json.RawMessage(config)
		run.Frames = uint64(frames)
		if ended.Valid {
			run.EndedAt = &ended.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run and its records.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// AddTransition records a state change of run id.
func (r *RunRepository) AddTransition(id string, t Transition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT INTO transitions (run_id, frame, from_state, to_state, reason, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, int64(t.Frame), t.From, t.To, t.Reason, t.Error, t.CreatedAt,
	)
	return err
}

// Transitions returns the state changes of run id in order.
func (r *RunRepository) Transitions(id string) ([]Transition, error) {
	rows, err := r.db.Query(
		`SELECT frame, from_state, to_state, reason, error, created_at
		 FROM transitions WHERE run_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t     Transition
			frame int64
		)
		if err := rows.Scan(&frame, &t.From, &t.To, &t.Reason, &t.Error, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Frame = uint64(frame)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddTiming records a timing sample of run id.
func (r *RunRepository) AddTiming(id string, t Timing) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	stages, err := json.Marshal(t.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO timings (run_id, frame, state, fps, stages, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, int64(t.Frame), t.State, t.FPS, string(stages), t.CreatedAt,
	)
	return err
}

// Timings returns the timing samples of run id in order.
func (r *RunRepository) Timings(id string) ([]Timing, error) {
	rows, err := r.db.Query(
		`SELECT frame, state, fps, stages, created_at
		 FROM timings WHERE run_id = ? ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Timing
	for rows.Next() {
		var (
			t      Timing
			frame  int64
			stages string
		)
		if err := rows.Scan(&frame, &t.State, &t.FPS, &stages, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stages), &t.Stages); err != nil {
			return nil, fmt.Errorf("decode stages: %w", err)
		}
		t.Frame = uint64(frame)
		out = append(out, t)
	}
	return out, rows.Err()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
