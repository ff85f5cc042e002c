package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		statements := []string{
			`PRAGMA journal_mode = WAL;`,
			`PRAGMA synchronous = NORMAL;`,

			`CREATE TABLE IF NOT EXISTS chats (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				title TEXT,
				metadata TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats (updated_at DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats (user_id);`,

			`CREATE TABLE IF NOT EXISTS branches (
				id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				head_message_id TEXT,
				is_active INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				UNIQUE (chat_id, name)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_branches_chat_id ON branches (chat_id);`,

			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
				parent_id TEXT,
				name TEXT NOT NULL,
				type TEXT,
				data TEXT NOT NULL,
				created_at INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_parent_id ON messages (parent_id);`,

			`CREATE TABLE IF NOT EXISTS checkpoints (
				id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				message_id TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				UNIQUE (chat_id, name)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_chat_id ON checkpoints (chat_id);`,

			`CREATE TABLE IF NOT EXISTS streams (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				started_at INTEGER,
				finished_at INTEGER,
				cancel_requested_at INTEGER,
				error TEXT
			);`,

			`CREATE TABLE IF NOT EXISTS stream_chunks (
				stream_id TEXT NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
				seq INTEGER NOT NULL,
				data TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				UNIQUE (stream_id, seq)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_stream_chunks_stream_id ON stream_chunks (stream_id, seq);`,

			// FTS5 index over message content, tokenized with the
			// Porter stemmer layered over unicode61 per §6. CJK/pinyin token
			// expansion happens in Go before insertion (see internal/fts),
			// so messages_fts stores the pre-tokenized form in `content`,
			// not the raw message payload.
			`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
				message_id UNINDEXED,
				chat_id UNINDEXED,
				name UNINDEXED,
				content,
				tokenize = 'porter unicode61'
			);`,
		}

		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		statements := []string{
			`DROP TABLE IF EXISTS messages_fts;`,
			`DROP TABLE IF EXISTS stream_chunks;`,
			`DROP TABLE IF EXISTS streams;`,
			`DROP TABLE IF EXISTS checkpoints;`,
			`DROP TABLE IF EXISTS messages;`,
			`DROP TABLE IF EXISTS branches;`,
			`DROP TABLE IF EXISTS chats;`,
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
