package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension.
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS projects (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`,

		`CREATE TABLE IF NOT EXISTS files (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        size INTEGER NOT NULL DEFAULT 0,
        mime_type TEXT NOT NULL DEFAULT '',
        file_hash TEXT NOT NULL,
        ocr_status TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (project_id) REFERENCES projects(id)
    )`,

		`CREATE TABLE IF NOT EXISTS cot_items (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        question TEXT NOT NULL,
        chain_of_thought TEXT NOT NULL DEFAULT '',
        source TEXT NOT NULL DEFAULT 'manual',
        status TEXT NOT NULL DEFAULT 'draft',
        created_by TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        slice_content TEXT NOT NULL DEFAULT '',
        slice_type TEXT NOT NULL DEFAULT '',
        file_name TEXT NOT NULL DEFAULT '',
        FOREIGN KEY (project_id) REFERENCES projects(id)
    )`,

		`CREATE TABLE IF NOT EXISTS candidates (
        id TEXT PRIMARY KEY,
        cot_item_id TEXT NOT NULL,
        text TEXT NOT NULL,
        chain_of_thought TEXT NOT NULL DEFAULT '',
        score REAL NOT NULL DEFAULT 0,
        chosen INTEGER NOT NULL DEFAULT 0,
        rank INTEGER NOT NULL,
        FOREIGN KEY (cot_item_id) REFERENCES cot_items(id)
    )`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        name TEXT NOT NULL,
        entity_type TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        confidence REAL NOT NULL DEFAULT 0.5,
        embedding F32_BLOB(%d),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (project_id, name, entity_type),
        FOREIGN KEY (project_id) REFERENCES projects(id)
    )`, embeddingDims),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS relations (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        source_id TEXT NOT NULL,
        target_id TEXT NOT NULL,
        relation_type TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        confidence REAL NOT NULL DEFAULT 0.5,
        embedding F32_BLOB(%d),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (project_id, source_id, target_id, relation_type),
        FOREIGN KEY (source_id) REFERENCES entities(id),
        FOREIGN KEY (target_id) REFERENCES entities(id)
    )`, embeddingDims),

		`CREATE TABLE IF NOT EXISTS extractions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        project_id TEXT NOT NULL,
        cot_item_id TEXT NOT NULL,
        target_kind TEXT NOT NULL,
        target_id TEXT NOT NULL,
        method TEXT NOT NULL DEFAULT 'llm',
        source_text TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (cot_item_id) REFERENCES cot_items(id)
    )`,

		`CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_files_hash ON files(project_id, file_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_cot_items_project ON cot_items(project_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_item ON candidates(cot_item_id, rank)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_key ON entities(project_id, name, entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_created_at ON entities(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_extractions_item ON extractions(cot_item_id)`,

		`CREATE INDEX IF NOT EXISTS idx_entities_embedding ON entities(libsql_vector_idx(embedding))`,
	}
}
