package postgresql

import "github.com/dukex/stepflow/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{Version: 1, Name: "create_workflows", SQL: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner VARCHAR(255) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				steps JSONB NOT NULL,
				triggers JSONB NOT NULL DEFAULT '[]',
				input_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_owner_created ON workflows(owner, created_at DESC, id DESC);
			CREATE INDEX idx_workflows_is_active ON workflows(is_active);
		`},
		{Version: 2, Name: "create_executions", SQL: `
			-- the full record lives in data
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				owner VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed')),
				data JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_started ON executions(workflow_id, started_at DESC);
			CREATE INDEX idx_executions_status ON executions(status);
		`},
	}
}
