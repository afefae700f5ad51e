package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const selectColumns = `
	SELECT id, message_id, peer, user_id, content, timestamp,
	       status, is_outgoing, updated_at
	FROM messages
`

// ===== MESSAGE OPERATIONS =====

// SaveMessage stores a message and sets its row ID
func (j *Journal) SaveMessage(msg *StoredMessage) error {
	if !msg.Status.Valid() {
		return fmt.Errorf("invalid status %q", msg.Status)
	}
	if msg.UpdatedAt == 0 {
		msg.UpdatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO messages (
			message_id, peer, user_id, content, timestamp,
			status, is_outgoing, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	content := msg.Content
	if content == nil {
		content = []byte{}
	}

	result, err := j.db.Exec(
		query,
		msg.MessageID,
		msg.Peer,
		msg.UserID,
		content,
		msg.Timestamp,
		msg.Status,
		boolToInt(msg.IsOutgoing),
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	msg.ID = id
	return nil
}

// UpdateOutgoingStatus moves the newest in-flight outgoing message with the
// given wire ID and peer to status. Only sending and sent messages change;
// delivered and failed are final.
func (j *Journal) UpdateOutgoingStatus(messageID, peer string, status MessageStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	query := `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM messages
			WHERE message_id = ? AND peer = ? AND is_outgoing = 1
			  AND status IN (?, ?)
			ORDER BY id DESC LIMIT 1
		)
	`

	result, err := j.db.Exec(query,
		status, time.Now().Unix(),
		messageID, peer,
		MessageStatusSending, MessageStatusSent)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessage retrieves a message by row ID
func (j *Journal) GetMessage(id int64) (*StoredMessage, error) {
	row := j.db.QueryRow(selectColumns+` WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns messages newest first. An empty peer lists all peers.
func (j *Journal) ListMessages(peer string, limit, offset int) ([]*StoredMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if peer == "" {
		rows, err = j.db.Query(selectColumns+` ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = j.db.Query(selectColumns+` WHERE peer = ? ORDER BY id DESC LIMIT ? OFFSET ?`, peer, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*StoredMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CountByStatus returns how many messages are in each status
func (j *Journal) CountByStatus() (map[MessageStatus]int, error) {
	rows, err := j.db.Query(`SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[MessageStatus]int)
	for rows.Next() {
		var (
			status MessageStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// DeleteBefore removes messages last updated before the cutoff
func (j *Journal) DeleteBefore(cutoff time.Time) (int64, error) {
	result, err := j.db.Exec(`DELETE FROM messages WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
