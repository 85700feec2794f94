package repository

// Schema definitions for Heron database.
// Compatible with both SQLite and PostgreSQL.

// schemaAssessments stores scored requests. answers, report and metadata hold JSON.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    age INTEGER NOT NULL,
    answers TEXT NOT NULL,
    report TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_assessments_user ON assessments(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAssessments,
	}
}
