// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store records flow position estimates to SQLite so a run can be
// replayed or plotted afterwards.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

//go:embed schema.sql
var schemaSQL string

// DB is the position recorder.
type DB struct {
	*sql.DB
}

// Session summarises one recording.
type Session struct {
	ID        string
	SensorID  string
	Model     string
	StartedAt time.Time
	EndedAt   time.Time // zero while running
	Notes     string
	Positions int
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// database/sql pools connections; each new :memory: connection would be
	// a fresh empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &DB{db}, nil
}

// StartSession creates a session and returns its id.
func (d *DB) StartSession(ctx context.Context, sensorID, model, notes string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := d.ExecContext(ctx, `
		INSERT INTO flow_sessions (id, sensor_id, model, started_at, notes)
		VALUES (?, ?, ?, ?, ?)`,
		id, sensorID, model, at.UnixNano(), notes)
	if err != nil {
		return "", fmt.Errorf("store: start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the end time.
func (d *DB) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := d.ExecContext(ctx, `UPDATE flow_sessions SET ended_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: end session: unknown id %s", id)
	}
	return nil
}

// RecordPosition appends one telemetry message to a session.
func (d *DB) RecordPosition(ctx context.Context, sessionID string, m telemetry.FlowMessage) error {
	lowConf := 0
	if m.Position.LowConfidence {
		lowConf = 1
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO flow_positions (session_id, ts_ns, x, y, dx, dy, ground_offset_x, ground_offset_y,
			quality, low_confidence, roll, pitch, yaw, altitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, m.Timestamp.UnixNano(),
		m.Position.X, m.Position.Y, m.Position.Dx, m.Position.Dy,
		m.Position.GroundOffsetX, m.Position.GroundOffsetY,
		m.Position.Quality, lowConf,
		m.Pose.Roll, m.Pose.Pitch, m.Pose.Yaw, m.Altitude)
	if err != nil {
		return fmt.Errorf("store: record position: %w", err)
	}
	return nil
}

// Sessions lists recordings, newest first.
func (d *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT s.id, s.sensor_id, s.model, s.started_at, s.ended_at, s.notes,
			(SELECT COUNT(*) FROM flow_positions p WHERE p.session_id = s.id)
		FROM flow_sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
			notes   sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.SensorID, &s.Model, &started, &ended, &notes, &s.Positions); err != nil {
			return nil, fmt.Errorf("store: sessions: %w", err)
		}
		s.StartedAt = time.Unix(0, started)
		if ended.Valid {
			s.EndedAt = time.Unix(0, ended.Int64)
		}
		s.Notes = notes.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Track returns the ground offsets of a session in time order.
func (d *DB) Track(ctx context.Context, sessionID string) ([][2]float64, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT ground_offset_x, ground_offset_y FROM flow_positions
		WHERE session_id = ? ORDER BY ts_ns, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: track: %w", err)
	}
	defer rows.Close()

	var out [][2]float64
	for rows.Next() {
		var p [2]float64
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("store: track: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
