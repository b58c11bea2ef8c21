package store

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the current schema version. Opens migrate forward through
// every step between the stored version and this one.
const schemaVersion = 3

const baseSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	token_counts TEXT,
	embedding BLOB,
	parent_document_id TEXT,
	is_chunk INTEGER NOT NULL DEFAULT 0,
	chunk_order INTEGER NOT NULL DEFAULT 0,
	accepted_degree INTEGER NOT NULL DEFAULT 0,
	approx_scored INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_nodes_updated ON nodes(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_document_id);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	semantic_score REAL,
	tag_score REAL,
	shared_tags TEXT NOT NULL DEFAULT '[]',
	edge_type TEXT NOT NULL DEFAULT 'semantic',
	status TEXT NOT NULL DEFAULT 'accepted',
	metadata TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
	FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE,
	UNIQUE (source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

CREATE TABLE IF NOT EXISTS node_tags (
	node_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (node_id, tag),
	FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_node_tags_tag ON node_tags(tag);

CREATE TABLE IF NOT EXISTS tag_idf (
	tag TEXT PRIMARY KEY,
	doc_frequency INTEGER NOT NULL,
	idf REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	metadata TEXT,
	version INTEGER NOT NULL DEFAULT 1,
	root_node_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
	document_id TEXT NOT NULL,
	segment_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	byte_offset INTEGER NOT NULL,
	byte_length INTEGER NOT NULL,
	chunk_order INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	PRIMARY KEY (document_id, segment_id),
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_document_chunks_node ON document_chunks(node_id);

CREATE TABLE IF NOT EXISTS edge_events (
	id TEXT PRIMARY KEY,
	edge_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	prev_status TEXT NOT NULL DEFAULT '',
	next_status TEXT NOT NULL DEFAULT '',
	payload TEXT,
	created_at DATETIME NOT NULL,
	undone INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_edge_events_pair ON edge_events(source_id, target_id, created_at);

CREATE TABLE IF NOT EXISTS kv_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	node_count INTEGER NOT NULL,
	edge_count INTEGER NOT NULL,
	document_count INTEGER NOT NULL,
	tag_count INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
`

const metaSchemaVersion = "schema_version"

// migrate creates the schema on first open and walks forward through the
// versioned steps on subsequent opens.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(baseSchema); err != nil {
		return err
	}

	version, err := s.storedSchemaVersion()
	if err != nil {
		return err
	}

	for version < schemaVersion {
		next := version + 1
		if err := s.migrateStep(next); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", next, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO kv_metadata (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			metaSchemaVersion, fmt.Sprintf("%d", next),
		); err != nil {
			return err
		}
		version = next
	}

	return nil
}

func (s *Store) storedSchemaVersion() (int, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv_metadata WHERE key = ?`, metaSchemaVersion).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("malformed schema version %q: %w", raw, err)
	}
	return version, nil
}

func (s *Store) migrateStep(version int) error {
	switch version {
	case 1:
		// Base schema, created above.
		return nil
	case 2:
		// Dual-score model: stores written by the weighted-sum scorer carry
		// a components map in edge metadata and tri-valued statuses. The
		// aggregate score is recomputed by the engine's Migrate op; here we
		// only guarantee the columns exist for pre-dual-score files.
		for col, ddl := range map[string]string{
			"semantic_score": "ALTER TABLE edges ADD COLUMN semantic_score REAL",
			"tag_score":      "ALTER TABLE edges ADD COLUMN tag_score REAL",
			"shared_tags":    "ALTER TABLE edges ADD COLUMN shared_tags TEXT NOT NULL DEFAULT '[]'",
		} {
			if s.columnExists("edges", col) {
				continue
			}
			if _, err := s.db.Exec(ddl); err != nil {
				return err
			}
		}
		return nil
	case 3:
		_, err := s.db.Exec(snapshotSchema)
		return err
	default:
		return fmt.Errorf("unknown schema version %d", version)
	}
}

// columnExists checks if a column exists in a table.
func (s *Store) columnExists(tableName, columnName string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == columnName {
			return true
		}
	}
	return false
}
