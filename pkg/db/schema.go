package db

// Schema DDL shared by the messaging service's startup path and the ops
// scripts. Idempotent: every statement is IF NOT EXISTS.

// EnsureKeyspace creates the keyspace if absent, connecting through the
// system keyspace.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	return sys.Query(`CREATE KEYSPACE IF NOT EXISTS ` + keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
}

// Tables lists every table the conversation store uses, in creation order.
var Tables = []string{
	"messages",
	"reactions",
	"attachments",
	"user_conversations",
	"topic_participants",
	"unread_counters",
}

// CreateSchema creates all conversation tables in the session's keyspace.
func CreateSchema(session *Session) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			topic text,
			id bigint,
			candidate_id text,
			job_id text,
			sender_id text,
			sender_name text,
			sender_email text,
			sender_role text,
			text text,
			reply_to_id bigint,
			reply_to_text text,
			reply_to_sender text,
			attach_url text,
			attach_name text,
			attach_size bigint,
			attach_mime text,
			is_edited boolean,
			edited_at timestamp,
			correlation_id text,
			timestamp timestamp,
			PRIMARY KEY (topic, id)
		) WITH CLUSTERING ORDER BY (id DESC)`,

		`CREATE TABLE IF NOT EXISTS reactions (
			message_id bigint,
			emoji text,
			user_id text,
			topic text,
			reacted_at timestamp,
			PRIMARY KEY (message_id, emoji, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS attachments (
			ref text PRIMARY KEY,
			topic text,
			url text,
			name text,
			size bigint,
			mime text,
			uploaded_by text,
			uploaded_at timestamp
		)`,

		`CREATE TABLE IF NOT EXISTS user_conversations (
			user_id text,
			topic text,
			candidate_id text,
			job_id text,
			last_updated timestamp,
			PRIMARY KEY (user_id, topic)
		)`,

		`CREATE TABLE IF NOT EXISTS topic_participants (
			topic text,
			user_id text,
			last_seen timestamp,
			PRIMARY KEY (topic, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS unread_counters (
			user_id text,
			topic text,
			unread_count counter,
			PRIMARY KEY (user_id, topic)
		)`,
	}

	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}
