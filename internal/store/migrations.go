package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create rooms, members, and messages",
		SQL: `
			CREATE TABLE chat_rooms (
				id               TEXT PRIMARY KEY,
				name             TEXT NOT NULL,
				type             TEXT NOT NULL,
				organization_id  TEXT NOT NULL,
				created_at       TEXT NOT NULL
			);

			CREATE INDEX idx_rooms_org ON chat_rooms (organization_id);

			CREATE TABLE chat_room_members (
				room_id     TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
				member_id   TEXT NOT NULL,
				type        TEXT NOT NULL,
				role        TEXT NOT NULL,
				name        TEXT NOT NULL,
				email       TEXT NOT NULL DEFAULT '',
				image       TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				PRIMARY KEY (room_id, member_id)
			);

			CREATE TABLE chat_room_messages (
				id             TEXT PRIMARY KEY,
				room_id        TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
				thread_id      TEXT,
				content        TEXT NOT NULL,
				mentions       TEXT,
				tool_uses      TEXT,
				member_id      TEXT NOT NULL,
				member_name    TEXT NOT NULL,
				member_image   TEXT NOT NULL DEFAULT '',
				member_type    TEXT NOT NULL,
				optimistic_id  TEXT,
				is_thread      INTEGER NOT NULL DEFAULT 0,
				thread_count   INTEGER NOT NULL DEFAULT 0,
				thread_last    TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL
			);

			CREATE INDEX idx_messages_room ON chat_room_messages (room_id, created_at);
			CREATE INDEX idx_messages_thread ON chat_room_messages (room_id, thread_id);
		`,
	},
	{
		Version: 2,
		Name:    "create org directory",
		SQL: `
			CREATE TABLE org_identities (
				organization_id  TEXT NOT NULL,
				id               TEXT NOT NULL,
				type             TEXT NOT NULL,
				name             TEXT NOT NULL,
				email            TEXT NOT NULL DEFAULT '',
				image            TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (organization_id, id)
			);
		`,
	},
}
