package db

import (
	"database/sql"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/orchestrator"
)

// TransitionRow is one row of mode_transitions.
type TransitionRow struct {
	RunID    string    `json:"run_id"`
	FromMode string    `json:"from_mode"`
	ToMode   string    `json:"to_mode"`
	Event    string    `json:"event"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// CommandRow is one row of motor_commands.
type CommandRow struct {
	RunID   string        `json:"run_id,omitempty"`
	Mode    string        `json:"mode"`
	Action  string        `json:"action"`
	Command motor.Command `json:"command"`
	At      time.Time     `json:"at"`
}

// ThrottleSummary describes the motor commands issued in one mode.
type ThrottleSummary struct {
	Mode    string         `json:"mode"`
	Count   int            `json:"count"`
	Mean    [4]float64     `json:"mean"`
	StdDev  [4]float64     `json:"stddev"`
	Actions map[string]int `json:"actions"`
}

// RecordTransition stores a mode transition.
func (db *DB) RecordTransition(t orchestrator.Transition) error {
	var errText sql.NullString
	if t.Err != nil {
		errText = sql.NullString{String: t.Err.Error(), Valid: true}
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO mode_transitions (run_id, from_mode, to_mode, event, error, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.RunID, t.From.String(), t.To.String(), string(t.Event), errText, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// RecordCommand stores one motor command.
func (db *DB) RecordCommand(runID, mode string, action motor.Action, cmd motor.Command, at time.Time) error {
	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO motor_commands (run_id, mode, action, m1, m2, m3, m4, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run, mode, action.String(), cmd[0], cmd[1], cmd[2], cmd[3], at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert motor command: %w", err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
func (db *DB) RecentTransitions(limit int) ([]TransitionRow, error) {
	rows, err := db.Query(
		`SELECT run_id, from_mode, to_mode, event, error, ts
		FROM mode_transitions ORDER BY ts DESC, transition_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var r TransitionRow
		var errText sql.NullString
		var ts int64
		if err := rows.Scan(&r.RunID, &r.FromMode, &r.ToMode, &r.Event, &errText, &ts); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.At = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentCommands returns up to limit motor commands, newest first.
func (db *DB) RecentCommands(limit int) ([]CommandRow, error) {
	rows, err := db.Query(
		`SELECT run_id, mode, action, m1, m2, m3, m4, ts
		FROM motor_commands ORDER BY ts DESC, command_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		var run sql.NullString
		var ts int64
		if err := rows.Scan(&run, &r.Mode, &r.Action, &r.Command[0], &r.Command[1], &r.Command[2], &r.Command[3], &ts); err != nil {
			return nil, err
		}
		r.RunID = run.String
		r.At = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ThrottleSummary computes per-wheel throttle statistics for mode. An empty
// mode summarises every command in the journal.
func (db *DB) ThrottleSummary(mode string) (ThrottleSummary, error) {
	query := `SELECT action, m1, m2, m3, m4 FROM motor_commands`
	var args []interface{}
	if mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, mode)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return ThrottleSummary{}, err
	}
	defer rows.Close()

	summary := ThrottleSummary{Mode: mode, Actions: map[string]int{}}
	var wheels [4][]float64
	for rows.Next() {
		var action string
		var m [4]float64
		if err := rows.Scan(&action, &m[0], &m[1], &m[2], &m[3]); err != nil {
			return ThrottleSummary{}, err
		}
		summary.Actions[action]++
		for i := range m {
			wheels[i] = append(wheels[i], m[i])
		}
	}
	if err := rows.Err(); err != nil {
		return ThrottleSummary{}, err
	}

	summary.Count = len(wheels[0])
	if summary.Count == 0 {
		return summary, nil
	}
	for i := range wheels {
		mean, std := stat.MeanStdDev(wheels[i], nil)
		summary.Mean[i] = mean
		if summary.Count > 1 {
			summary.StdDev[i] = std
		}
	}
	return summary, nil
}
