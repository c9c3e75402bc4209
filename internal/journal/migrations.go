package journal

// runMigrations executes all database migrations.
func (j *Journal) runMigrations() error {
	migrations := []string{
		// One row per process run
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			config TEXT NOT NULL DEFAULT '{}',
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frames INTEGER NOT NULL DEFAULT 0,
			final_state TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame INTEGER NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		// Smoothed stage durations, sampled every few frames
		`CREATE TABLE IF NOT EXISTS timings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame INTEGER NOT NULL,
			state TEXT NOT NULL,
			fps REAL NOT NULL,
			stages TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_transitions_run_id ON transitions(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_timings_run_id ON timings(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
