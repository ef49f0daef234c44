package latestfiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresChannelTableName = "latestfiles_channels"
	postgresOperationTimeout = 5 * time.Second
	postgresQueryPageSize    = 200
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresChannelStore stores the channel table in Postgres. Object keys
// are compared with the C collation so ordering is bytewise, matching the
// in-memory stores. The conditioned advance is a single UPDATE statement;
// Postgres evaluates and applies the precondition atomically.
type PostgresChannelStore struct {
	dsn       string
	tableName string
	pageSize  int
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresChannelStore(dsn string) (*PostgresChannelStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresChannelStore{
		dsn:       dsn,
		tableName: postgresChannelTableName,
		pageSize:  postgresQueryPageSize,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresChannelStore) QueryRegistrations(ctx context.Context, collectionID, cursor string) (RegistrationPage, error) {
	if collectionID == "" {
		return RegistrationPage{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return RegistrationPage{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT channel_id, pattern
		FROM %s
		WHERE collection_id = $1 AND channel_id > $2
		ORDER BY channel_id ASC
		LIMIT $3`, postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, collectionID, cursor, s.pageSize+1)
	if err != nil {
		return RegistrationPage{}, err
	}
	defer rows.Close()

	items := make([]Registration, 0, s.pageSize)
	for rows.Next() {
		var item Registration
		if err := rows.Scan(&item.ChannelID, &item.Pattern); err != nil {
			return RegistrationPage{}, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return RegistrationPage{}, err
	}

	page := RegistrationPage{Items: items}
	if len(items) > s.pageSize {
		page.Items = items[:s.pageSize]
		next := page.Items[len(page.Items)-1].ChannelID
		page.NextCursor = &next
	}
	return page, nil
}

func (s *PostgresChannelStore) AdvancePointer(ctx context.Context, collectionID, channelID, objectKey string) error {
	if collectionID == "" || channelID == "" || objectKey == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	update := fmt.Sprintf(`
		UPDATE %s
		SET object_key = $3
		WHERE collection_id = $1 AND channel_id = $2
		  AND (object_key IS NULL OR object_key < $3)`, postgresQuoteIdentifier(s.tableName))
	result, err := s.db.ExecContext(ctx, update, collectionID, channelID, objectKey)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Zero rows means either the precondition held back the write or the
	// row is gone; only the existence check can tell them apart.
	exists := fmt.Sprintf(
		"SELECT EXISTS (SELECT 1 FROM %s WHERE collection_id = $1 AND channel_id = $2)",
		postgresQuoteIdentifier(s.tableName),
	)
	var present bool
	if err := s.db.QueryRowContext(ctx, exists, collectionID, channelID).Scan(&present); err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("%w: %s/%s", ErrChannelNotFound, collectionID, channelID)
	}
	return ErrPreconditionFailed
}

func (s *PostgresChannelStore) PutChannel(ctx context.Context, channel Channel) error {
	if channel.CollectionID == "" || channel.ChannelID == "" || channel.Pattern == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (collection_id, channel_id, pattern)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection_id, channel_id)
		DO UPDATE SET pattern = EXCLUDED.pattern`, postgresQuoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, channel.CollectionID, channel.ChannelID, channel.Pattern)
	return err
}

func (s *PostgresChannelStore) GetChannel(ctx context.Context, collectionID, channelID string) (Channel, error) {
	if collectionID == "" || channelID == "" {
		return Channel{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Channel{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT pattern, object_key
		FROM %s
		WHERE collection_id = $1 AND channel_id = $2`, postgresQuoteIdentifier(s.tableName))
	channel := Channel{CollectionID: collectionID, ChannelID: channelID}
	var objectKey sql.NullString
	err := s.db.QueryRowContext(ctx, query, collectionID, channelID).Scan(&channel.Pattern, &objectKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, fmt.Errorf("%w: %s/%s", ErrChannelNotFound, collectionID, channelID)
	}
	if err != nil {
		return Channel{}, err
	}
	if objectKey.Valid {
		key := objectKey.String
		channel.ObjectKey = &key
	}
	return channel, nil
}

func (s *PostgresChannelStore) ListChannels(ctx context.Context, collectionID, cursor string, limit int) (ChannelPage, error) {
	if collectionID == "" {
		return ChannelPage{}, ErrInvalidInput
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	if err := s.ensureReady(); err != nil {
		return ChannelPage{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT channel_id, pattern, object_key
		FROM %s
		WHERE collection_id = $1 AND channel_id > $2
		ORDER BY channel_id ASC
		LIMIT $3`, postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, collectionID, cursor, limit+1)
	if err != nil {
		return ChannelPage{}, err
	}
	defer rows.Close()

	items := make([]Channel, 0, limit)
	for rows.Next() {
		channel := Channel{CollectionID: collectionID}
		var objectKey sql.NullString
		if err := rows.Scan(&channel.ChannelID, &channel.Pattern, &objectKey); err != nil {
			return ChannelPage{}, err
		}
		if objectKey.Valid {
			key := objectKey.String
			channel.ObjectKey = &key
		}
		items = append(items, channel)
	}
	if err := rows.Err(); err != nil {
		return ChannelPage{}, err
	}

	page := ChannelPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		next := page.Items[len(page.Items)-1].ChannelID
		page.NextCursor = &next
	}
	return page, nil
}

func (s *PostgresChannelStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresChannelStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection_id TEXT COLLATE "C" NOT NULL,
				channel_id TEXT COLLATE "C" NOT NULL,
				pattern TEXT NOT NULL,
				object_key TEXT COLLATE "C",
				PRIMARY KEY (collection_id, channel_id)
			)`, postgresQuoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
