package mysql

import (
	"context"
	"database/sql"
	"time"

	"auction-relay/internal/domain"
)

const roomEventsSchema = `
    CREATE TABLE IF NOT EXISTS room_events (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        room_id VARCHAR(255) NOT NULL,
        connection_id VARCHAR(255) NOT NULL,
        instance_id VARCHAR(255) NOT NULL,
        event_type VARCHAR(32) NOT NULL,
        occurred_at DATETIME(6) NOT NULL,
        created_at DATETIME(6) NOT NULL,
        INDEX idx_room_events_room (room_id, occurred_at)
    )
`

type MySQLRoomEventRepository struct {
	db *sql.DB
}

func NewMySQLRoomEventRepository(db *sql.DB) *MySQLRoomEventRepository {
	return &MySQLRoomEventRepository{db: db}
}

func (r *MySQLRoomEventRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, roomEventsSchema)
	return err
}

func (r *MySQLRoomEventRepository) SaveRoomEvent(ctx context.Context, record *domain.RoomEventRecord) error {
	query := `
        INSERT INTO room_events (room_id, connection_id, instance_id, event_type, occurred_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	result, err := r.db.ExecContext(ctx, query,
		record.RoomID, record.ConnectionID, record.InstanceID,
		string(record.Type), record.OccurredAt, time.Now().UTC())
	if err != nil {
		return err
	}

	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// GetRoomEvents returns the most recent limit events of a room, oldest first.
func (r *MySQLRoomEventRepository) GetRoomEvents(ctx context.Context, roomID string, limit int) ([]*domain.RoomEventRecord, error) {
	query := `
        SELECT id, room_id, connection_id, instance_id, event_type, occurred_at
        FROM room_events
        WHERE room_id = ?
        ORDER BY occurred_at DESC, id DESC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.RoomEventRecord
	for rows.Next() {
		var record domain.RoomEventRecord
		var eventType string

		err := rows.Scan(&record.ID, &record.RoomID, &record.ConnectionID,
			&record.InstanceID, &eventType, &record.OccurredAt)
		if err != nil {
			return nil, err
		}

		record.Type = domain.RelayEventType(eventType)
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first from the query; callers get them in order of occurrence.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

var _ domain.RoomEventRepository = (*MySQLRoomEventRepository)(nil)
