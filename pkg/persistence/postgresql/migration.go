package postgresql

// migrations returns the schema, keyed by version. The run document (phase
// history, subtasks, artifact) lives in a JSONB column; the indexed columns
// exist for status scans and owner queries.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS generation_runs (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				status TEXT NOT NULL,
				current_phase TEXT NOT NULL,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_generation_runs_status
				ON generation_runs (status);

			CREATE INDEX IF NOT EXISTS idx_generation_runs_owner
				ON generation_runs (owner_id, created_at DESC);
		`,
	}
}
