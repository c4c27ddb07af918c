package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStorage keeps detections in PostgreSQL with every instance box
// stored as a pgvector so boxes can be searched by similarity
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage connection
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func boxVector(b models.BoundingBoxInstance) pgvector.Vector {
	return pgvector.NewVector([]float32{float32(b.Left), float32(b.Top), float32(b.Width), float32(b.Height)})
}

func boxFromVector(v pgvector.Vector) (models.BoundingBoxInstance, error) {
	s := v.Slice()
	if len(s) != 4 {
		return models.BoundingBoxInstance{}, fmt.Errorf("box vector has %d dimensions, want 4", len(s))
	}
	return models.BoundingBoxInstance{
		Left:   float64(s[0]),
		Top:    float64(s[1]),
		Width:  float64(s[2]),
		Height: float64(s[3]),
	}, nil
}

// SaveDetections replaces everything stored for the video in one transaction
func (s *PostgresStorage) SaveDetections(ctx context.Context, videoKey, jobID string, detections []models.LabelDetection) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var videoID int
	err = tx.QueryRow(ctx,
		`INSERT INTO videos (video_key, name, job_id, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (video_key) DO UPDATE SET job_id = EXCLUDED.job_id, created_at = EXCLUDED.created_at
        RETURNING id`,
		videoKey, VideoName(videoKey), jobID, time.Now()).Scan(&videoID)
	if err != nil {
		return fmt.Errorf("failed to create video entry: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM label_detections WHERE video_id = $1", videoID); err != nil {
		return fmt.Errorf("failed to clear old detections: %w", err)
	}

	for i, d := range detections {
		var detectionID int
		err := tx.QueryRow(ctx,
			`INSERT INTO label_detections (video_id, seq, label_name, confidence, timestamp_ms)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id`,
			videoID, i, d.LabelName, d.Confidence, d.TimestampMs).Scan(&detectionID)
		if err != nil {
			return fmt.Errorf("failed to store detection %q: %w", d.LabelName, err)
		}

		for j, inst := range d.Instances {
			_, err := tx.Exec(ctx,
				"INSERT INTO label_instances (detection_id, seq, box) VALUES ($1, $2, $3)",
				detectionID, j, boxVector(inst))
			if err != nil {
				return fmt.Errorf("failed to store instance of %q: %w", d.LabelName, err)
			}
		}
	}

	return tx.Commit(ctx)
}

// LoadDetections returns the stored detections in the order they were saved
func (s *PostgresStorage) LoadDetections(ctx context.Context, videoKey string) ([]models.LabelDetection, bool, error) {
	var videoID int
	err := s.pool.QueryRow(ctx, "SELECT id FROM videos WHERE video_key = $1", videoKey).Scan(&videoID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error checking for existing video: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, label_name, confidence, timestamp_ms
        FROM label_detections
        WHERE video_id = $1
        ORDER BY seq`,
		videoID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load detections: %w", err)
	}

	var detections []models.LabelDetection
	index := make(map[int]int)
	for rows.Next() {
		var id int
		var d models.LabelDetection
		if err := rows.Scan(&id, &d.LabelName, &d.Confidence, &d.TimestampMs); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("failed to scan detection: %w", err)
		}
		index[id] = len(detections)
		detections = append(detections, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT i.detection_id, i.box
        FROM label_instances i
        JOIN label_detections d ON i.detection_id = d.id
        WHERE d.video_id = $1
        ORDER BY i.detection_id, i.seq`,
		videoID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var detectionID int
		var vec pgvector.Vector
		if err := rows.Scan(&detectionID, &vec); err != nil {
			return nil, false, fmt.Errorf("failed to scan instance: %w", err)
		}
		box, err := boxFromVector(vec)
		if err != nil {
			return nil, false, err
		}
		i, ok := index[detectionID]
		if !ok {
			continue
		}
		detections[i].Instances = append(detections[i].Instances, box)
	}

	return detections, true, rows.Err()
}

// SearchSimilarBoxes finds stored instances whose box is closest to box by
// L2 distance
func (s *PostgresStorage) SearchSimilarBoxes(ctx context.Context, box models.BoundingBoxInstance, limit int) ([]models.BoxMatch, error) {
	if limit <= 0 {
		return nil, models.Invalid("limit", "must be positive, got %d", limit)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT v.name, d.label_name, d.timestamp_ms, i.box, i.box <-> $1 AS distance
        FROM label_instances i
        JOIN label_detections d ON i.detection_id = d.id
        JOIN videos v ON d.video_id = v.id
        ORDER BY i.box <-> $1
        LIMIT $2`,
		boxVector(box), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar boxes: %w", err)
	}
	defer rows.Close()

	var results []models.BoxMatch
	for rows.Next() {
		var m models.BoxMatch
		var vec pgvector.Vector
		if err := rows.Scan(&m.VideoName, &m.LabelName, &m.TimestampMs, &vec, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		if m.Box, err = boxFromVector(vec); err != nil {
			return nil, err
		}
		results = append(results, m)
	}

	return results, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS videos (
            id SERIAL PRIMARY KEY,
            video_key TEXT NOT NULL UNIQUE,
            name VARCHAR(255) NOT NULL,
            job_id TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS label_detections (
            id SERIAL PRIMARY KEY,
            video_id INTEGER REFERENCES videos(id) ON DELETE CASCADE,
            seq INTEGER NOT NULL,
            label_name TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            timestamp_ms BIGINT NOT NULL
        );

        CREATE TABLE IF NOT EXISTS label_instances (
            id SERIAL PRIMARY KEY,
            detection_id INTEGER REFERENCES label_detections(id) ON DELETE CASCADE,
            seq INTEGER NOT NULL,
            box vector(4) NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_label_detections_video_id ON label_detections(video_id, timestamp_ms);
        CREATE INDEX IF NOT EXISTS idx_label_instances_detection_id ON label_instances(detection_id);
        CREATE INDEX IF NOT EXISTS idx_label_instances_box ON label_instances USING ivfflat (box vector_l2_ops) WITH (lists = 100);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
