package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// RigState is the operating state worth restoring after a restart.
type RigState struct {
	Timestamp time.Time `json:"timestamp" cbor:"1,keyasint"`
	Model     int       `json:"model" cbor:"2,keyasint"`
	Frequency int64     `json:"frequency" cbor:"3,keyasint"`
	Mode      string    `json:"mode" cbor:"4,keyasint"`
	Width     int       `json:"width" cbor:"5,keyasint"`
	VFO       string    `json:"vfo" cbor:"6,keyasint"`
	PTT       bool      `json:"ptt" cbor:"7,keyasint"`
}

// StateKey is the settings key holding the last state of a model.
func StateKey(model int) string {
	return fmt.Sprintf("rig/%d/state", model)
}

// HistoryQuery filters GetHistory.
type HistoryQuery struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Model  int
}

// HistoryStats summarizes the state history table.
type HistoryStats struct {
	Records int       `json:"records"`
	Models  int       `json:"models"`
	Oldest  time.Time `json:"oldest"`
	Newest  time.Time `json:"newest"`
}

// SaveState stores st as the last state of its model and appends it to
// the history.
func (ss *SettingsStore) SaveState(st RigState) error {
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now()
	}
	st.Timestamp = st.Timestamp.UTC()
	if err := ss.Save(StateKey(st.Model), st); err != nil {
		return err
	}
	return ss.RecordState(st)
}

// LoadState returns the last saved state of model.
func (ss *SettingsStore) LoadState(model int) (RigState, error) {
	var st RigState
	err := ss.Load(StateKey(model), &st)
	return st, err
}

// RecordState appends st to the history, trimming the oldest records
// beyond the configured maximum.
func (ss *SettingsStore) RecordState(st RigState) error {
	st.Timestamp = st.Timestamp.UTC()
	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO state_history (timestamp, model, frequency, mode, width, vfo, ptt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.Timestamp, st.Model, st.Frequency, st.Mode, st.Width, st.VFO, st.PTT)
	if err != nil {
		return fmt.Errorf("failed to insert state: %w", err)
	}

	if err := ss.cleanupHistory(tx); err != nil {
		ss.logger.Warnf("storage", "Failed to trim state history: %v", err)
	}
	return tx.Commit()
}

func (ss *SettingsStore) cleanupHistory(tx *sql.Tx) error {
	if ss.maxHistory <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM state_history").Scan(&count); err != nil {
		return err
	}
	if count <= ss.maxHistory {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM state_history
		WHERE id IN (
			SELECT id FROM state_history
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)
	`, count-ss.maxHistory)
	return err
}

// GetHistory returns recorded states, newest first.
func (ss *SettingsStore) GetHistory(query HistoryQuery) ([]RigState, error) {
	var args []interface{}
	sqlQuery := `
		SELECT timestamp, model, frequency, mode, width, vfo, ptt
		FROM state_history
		WHERE 1=1
	`

	if query.Since != nil {
		sqlQuery += " AND timestamp >= ?"
		args = append(args, query.Since.UTC())
	}
	if query.Until != nil {
		sqlQuery += " AND timestamp <= ?"
		args = append(args, query.Until.UTC())
	}
	if query.Model != 0 {
		sqlQuery += " AND model = ?"
		args = append(args, query.Model)
	}

	sqlQuery += " ORDER BY timestamp DESC, id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ss.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var states []RigState
	for rows.Next() {
		var st RigState
		if err := rows.Scan(&st.Timestamp, &st.Model, &st.Frequency, &st.Mode, &st.Width, &st.VFO, &st.PTT); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// GetHistoryStats summarizes the history table.
func (ss *SettingsStore) GetHistoryStats() (HistoryStats, error) {
	var stats HistoryStats
	err := ss.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT model) FROM state_history
	`).Scan(&stats.Records, &stats.Models)
	if err != nil {
		return stats, fmt.Errorf("failed to query history stats: %w", err)
	}
	if stats.Records == 0 {
		return stats, nil
	}

	// Aggregates lose the column type, so the bounds are read as rows.
	if err := ss.db.QueryRow("SELECT timestamp FROM state_history ORDER BY timestamp ASC LIMIT 1").Scan(&stats.Oldest); err != nil {
		return stats, fmt.Errorf("failed to query oldest state: %w", err)
	}
	if err := ss.db.QueryRow("SELECT timestamp FROM state_history ORDER BY timestamp DESC LIMIT 1").Scan(&stats.Newest); err != nil {
		return stats, fmt.Errorf("failed to query newest state: %w", err)
	}
	return stats, nil
}
