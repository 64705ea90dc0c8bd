package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrkit/schedmsg/internal/model"
)

const selectColumns = `
	id, site_code, sender_kind, sender_id, sender_name,
	channel_id, room_id, thread_id,
	content, kind, file_url, file_name, file_size, file_mime,
	scheduled_at, timezone, is_recurring, recurrence_pattern, recurrence_end_at,
	status, sent_at, delivered_message_id, last_error, retry_count,
	created_at, updated_at`

// PostgresStore persists scheduled messages in the scheduled_messages table.
// The due-set query relies on the (site_code, status, scheduled_at) index,
// owner queries on (site_code, sender_kind, sender_id, status).
type PostgresStore struct {
	db       *sql.DB
	siteCode string
}

func NewPostgresStore(db *sql.DB, siteCode string) *PostgresStore {
	return &PostgresStore{db: db, siteCode: siteCode}
}

func (s *PostgresStore) Create(ctx context.Context, m *model.ScheduledMessage) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.SiteCode = s.siteCode
	if m.Status == "" {
		m.Status = model.Pending
	}

	var fileURL, fileName, fileMIME sql.NullString
	var fileSize sql.NullInt64
	if m.File != nil {
		fileURL = sql.NullString{String: m.File.URL, Valid: true}
		fileName = sql.NullString{String: m.File.Name, Valid: true}
		fileSize = sql.NullInt64{Int64: m.File.Size, Valid: true}
		fileMIME = sql.NullString{String: m.File.MIME, Valid: true}
	}

	var endAt sql.NullTime
	if m.RecurrenceEndAt != nil {
		endAt = sql.NullTime{Time: m.RecurrenceEndAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (
			id, site_code, sender_kind, sender_id, sender_name,
			channel_id, room_id, thread_id,
			content, kind, file_url, file_name, file_size, file_mime,
			scheduled_at, timezone, is_recurring, recurrence_pattern, recurrence_end_at,
			status, retry_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, NULLIF($18, ''), $19,
			$20, $21, now(), now()
		)
	`,
		m.ID, m.SiteCode, string(m.SenderKind), m.SenderID, m.SenderName,
		m.ChannelID, m.RoomID, m.ThreadID,
		m.Content, string(m.Kind), fileURL, fileName, fileSize, fileMIME,
		m.ScheduledAt.UTC(), m.Timezone, m.IsRecurring, string(m.RecurrencePattern), endAt,
		string(m.Status), m.RetryCount,
	)
	if err != nil {
		return "", fmt.Errorf("insert scheduled message: %w", err)
	}
	return m.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM scheduled_messages
		WHERE id = $1 AND site_code = $2
	`, id, s.siteCode)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM scheduled_messages
		WHERE site_code = $1 AND status = 'pending' AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, s.siteCode, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, kind model.SenderKind, senderID string, includeTerminal bool) ([]model.ScheduledMessage, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM scheduled_messages
		WHERE site_code = $1 AND sender_kind = $2 AND sender_id = $3`
	if !includeTerminal {
		query += ` AND status = 'pending'`
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := s.db.QueryContext(ctx, query, s.siteCode, string(kind), senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (s *PostgresStore) ConditionalUpdate(ctx context.Context, id string, expected model.Status, p Patch) (bool, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id, s.siteCode, string(expected)}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.SentAt != nil {
		add("sent_at", p.SentAt.UTC())
	}
	if p.DeliveredMessageID != nil {
		add("delivered_message_id", *p.DeliveredMessageID)
	}
	if p.LastError != nil {
		add("last_error", *p.LastError)
	}
	if p.RetryCount != nil {
		add("retry_count", *p.RetryCount)
	}
	if p.Content != nil {
		add("content", *p.Content)
	}
	if p.ScheduledAt != nil {
		add("scheduled_at", p.ScheduledAt.UTC())
	}
	if p.IsRecurring != nil {
		add("is_recurring", *p.IsRecurring)
	}
	if p.RecurrencePattern != nil {
		add("recurrence_pattern", string(*p.RecurrencePattern))
	}
	if p.ClearRecurrenceEnd {
		sets = append(sets, "recurrence_end_at = NULL")
	} else if p.RecurrenceEndAt != nil {
		add("recurrence_end_at", p.RecurrenceEndAt.UTC())
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE scheduled_messages
		SET %s
		WHERE id = $1 AND site_code = $2 AND status = $3
	`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return false, fmt.Errorf("conditional update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.ScheduledMessage, error) {
	var m model.ScheduledMessage
	var senderKind, kind, status string
	var channelID, roomID, threadID sql.NullString
	var fileURL, fileName, fileMIME sql.NullString
	var fileSize sql.NullInt64
	var pattern sql.NullString
	var endAt, sentAt sql.NullTime
	var deliveredID, lastErr sql.NullString

	if err := row.Scan(
		&m.ID, &m.SiteCode, &senderKind, &m.SenderID, &m.SenderName,
		&channelID, &roomID, &threadID,
		&m.Content, &kind, &fileURL, &fileName, &fileSize, &fileMIME,
		&m.ScheduledAt, &m.Timezone, &m.IsRecurring, &pattern, &endAt,
		&status, &sentAt, &deliveredID, &lastErr, &m.RetryCount,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m.SenderKind = model.SenderKind(senderKind)
	m.Kind = model.MessageKind(kind)
	m.Status = model.Status(status)
	m.ChannelID = channelID.String
	m.RoomID = roomID.String
	m.ThreadID = threadID.String

	if fileURL.Valid {
		m.File = &model.FileRef{
			URL:  fileURL.String,
			Name: fileName.String,
			Size: fileSize.Int64,
			MIME: fileMIME.String,
		}
	}
	if pattern.Valid {
		m.RecurrencePattern = model.RecurrencePattern(pattern.String)
	}
	if endAt.Valid {
		t := endAt.Time
		m.RecurrenceEndAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	if deliveredID.Valid {
		s := deliveredID.String
		m.DeliveredMessageID = &s
	}
	if lastErr.Valid {
		s := lastErr.String
		m.LastError = &s
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
