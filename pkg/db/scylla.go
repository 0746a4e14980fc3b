package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string, log zerolog.Logger) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates keyspace through a session on the system keyspace.
func EnsureKeyspace(hosts []string, keyspace string, log zerolog.Logger) error {
	sys, err := NewSession(hosts, "system", log)
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	return sys.Query(stmt).Exec()
}

// Tables lists every table the chat keyspace holds, in creation order.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		external_id text,
		name text,
		email text,
		avatar_url text,
		is_online boolean,
		last_seen timestamp,
		created_at timestamp
	)`},
	{"users_by_external", `CREATE TABLE IF NOT EXISTS users_by_external (
		external_id text PRIMARY KEY,
		user_id text
	)`},
	{"conversations", `CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		is_group boolean,
		group_name text,
		participants list<text>,
		pair_key text,
		last_message_time timestamp,
		last_message_preview text,
		created_at timestamp
	)`},
	{"conversations_by_pair", `CREATE TABLE IF NOT EXISTS conversations_by_pair (
		pair_key text PRIMARY KEY,
		conversation_id text
	)`},
	{"user_conversations", `CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id text,
		PRIMARY KEY (user_id, conversation_id)
	)`},
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		content text,
		is_deleted boolean,
		created_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`},
	{"messages_by_id", `CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		conversation_id text
	)`},
	{"message_reactions", `CREATE TABLE IF NOT EXISTS message_reactions (
		message_id bigint,
		emoji text,
		user_id text,
		created_at timestamp,
		PRIMARY KEY (message_id, emoji, user_id)
	)`},
	{"typing_indicators", `CREATE TABLE IF NOT EXISTS typing_indicators (
		conversation_id text,
		user_id text,
		is_typing boolean,
		last_typed timestamp,
		PRIMARY KEY (conversation_id, user_id)
	)`},
	// counter tables cannot hold anything else, so reads live in unread_state
	{"conversation_counters", `CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		conversation_id text,
		unread_count counter,
		PRIMARY KEY (user_id, conversation_id)
	)`},
	{"unread_state", `CREATE TABLE IF NOT EXISTS unread_state (
		user_id text,
		conversation_id text,
		read_offset bigint,
		last_read timestamp,
		PRIMARY KEY (user_id, conversation_id)
	)`},
}

// EnsureSchema creates any missing table.
func EnsureSchema(session *Session, log zerolog.Logger) error {
	for _, t := range Tables {
		if err := session.Query(t.DDL).Exec(); err != nil {
			return fmt.Errorf("creating table %s: %w", t.Name, err)
		}
		log.Debug().Str("table", t.Name).Msg("table ready")
	}
	return nil
}

// DropTable removes one table from the session's keyspace.
func DropTable(session *Session, name string) error {
	for _, t := range Tables {
		if t.Name == name {
			return session.Query(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)).Exec()
		}
	}
	return fmt.Errorf("unknown table %q", name)
}
