// Package loader inserts transformed measurements into the relational
// schema. Each row runs under its own transaction: the measurement, its
// voltage, current and power rows, and the wide reporting row either all
// land or all roll back, and a bad row never stops the rest of the file.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/capflow/dbopen"
	"github.com/hazyhaar/capflow/tabular"
)

// ErrNoRowsLoaded is returned when a file yields zero inserted rows.
var ErrNoRowsLoaded = errors.New("loader: no rows inserted")

// DDL creates the five relational tables plus the wide reporting mirror.
// Idempotent; passed to dbopen.WithSchema at startup.
const DDL = `
CREATE TABLE IF NOT EXISTS code (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS measurement (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	code_id  INTEGER NOT NULL REFERENCES code(id),
	utc_time TEXT    NOT NULL,
	UNIQUE (code_id, utc_time)
);

CREATE TABLE IF NOT EXISTS voltage (
	measurement_id INTEGER NOT NULL REFERENCES measurement(id),
	u_l1  REAL,
	u_l2  REAL,
	u_l3  REAL,
	u_l12 REAL
);

CREATE TABLE IF NOT EXISTS current (
	measurement_id INTEGER NOT NULL REFERENCES measurement(id),
	i_l1 REAL,
	i_l2 REAL
);

CREATE TABLE IF NOT EXISTS power (
	measurement_id INTEGER NOT NULL REFERENCES measurement(id),
	p_l1  REAL, p_l2  REAL, p_l3  REAL, p_e  REAL,
	q1_l1 REAL, q1_l2 REAL, q1_l3 REAL, q1_e REAL,
	sn_l1 REAL, sn_l2 REAL, sn_l3 REAL, sn_e REAL,
	s_e   REAL
);

CREATE TABLE IF NOT EXISTS measurement_wide (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	code     TEXT NOT NULL,
	utc_time TEXT NOT NULL,
	u_l1  REAL, u_l2  REAL, u_l3  REAL, u_l12 REAL,
	i_l1  REAL, i_l2  REAL,
	p_l1  REAL, p_l2  REAL, p_l3  REAL, p_e  REAL,
	q1_l1 REAL, q1_l2 REAL, q1_l3 REAL, q1_e REAL,
	sn_l1 REAL, sn_l2 REAL, sn_l3 REAL, sn_e REAL,
	s_e   REAL
);
`

// timeLayout is the canonical utc_time column format.
const timeLayout = "2006-01-02 15:04:05"

// Stats counts the row outcomes of one file load.
type Stats struct {
	Rows       int `json:"rows"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Loader writes transformed measurements for one database handle.
type Loader struct {
	db     *sql.DB
	logger *slog.Logger
}

// New returns a Loader over db. The schema must already exist; open the
// handle with dbopen.WithSchema(loader.DDL).
func New(db *sql.DB, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{db: db, logger: logger}
}

// LoadFile inserts every measurement under the given client code. The code
// row is resolved once up front; each measurement then commits or rolls
// back on its own. Returns ErrNoRowsLoaded when nothing landed.
func (l *Loader) LoadFile(ctx context.Context, code string, ms []tabular.Measurement) (Stats, error) {
	stats := Stats{Rows: len(ms)}

	codeID, err := l.ensureCode(ctx, code)
	if err != nil {
		return stats, err
	}

	for i := range ms {
		m := &ms[i]
		err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
			return insertRow(tx, codeID, code, m)
		})
		switch {
		case err == nil:
			stats.Inserted++
		case errors.Is(err, errDuplicateRow):
			stats.Duplicates++
		default:
			stats.Failed++
			l.logger.Warn("loader: row rolled back",
				"code", code, "utc_time", m.Time.Format(timeLayout), "error", err)
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}

	if stats.Inserted == 0 && stats.Duplicates == 0 {
		return stats, fmt.Errorf("%w: code %s, %d rows failed", ErrNoRowsLoaded, code, stats.Failed)
	}
	l.logger.Info("loader: file loaded", "code", code,
		"inserted", stats.Inserted, "duplicates", stats.Duplicates, "failed", stats.Failed)
	return stats, nil
}

// errDuplicateRow marks a (code_id, utc_time) pair already in the table.
// Duplicates are expected on reruns and are not failures.
var errDuplicateRow = errors.New("loader: duplicate measurement time")

// ensureCode looks up or inserts the client code and returns its id.
func (l *Loader) ensureCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT id FROM code WHERE code = ?`, code).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loader: lookup code: %w", err)
		}
		res, err := tx.Exec(`INSERT INTO code (code) VALUES (?)`, code)
		if err != nil {
			return fmt.Errorf("loader: insert code: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// insertRow writes one measurement and its satellite rows inside tx.
func insertRow(tx *sql.Tx, codeID int64, code string, m *tabular.Measurement) error {
	utc := m.Time.Format(timeLayout)

	var existing int64
	err := tx.QueryRow(`SELECT id FROM measurement WHERE code_id = ? AND utc_time = ?`,
		codeID, utc).Scan(&existing)
	if err == nil {
		return errDuplicateRow
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("loader: check duplicate: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO measurement (code_id, utc_time) VALUES (?, ?)`, codeID, utc)
	if err != nil {
		return fmt.Errorf("loader: insert measurement: %w", err)
	}
	mid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("loader: measurement id: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO voltage (measurement_id, u_l1, u_l2, u_l3, u_l12) VALUES (?, ?, ?, ?, ?)`,
		mid, f(m.UL1), f(m.UL2), f(m.UL3), f(m.UL12)); err != nil {
		return fmt.Errorf("loader: insert voltage: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO current (measurement_id, i_l1, i_l2) VALUES (?, ?, ?)`,
		mid, f(m.IL1), f(m.IL2)); err != nil {
		return fmt.Errorf("loader: insert current: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO power (measurement_id,
			p_l1, p_l2, p_l3, p_e,
			q1_l1, q1_l2, q1_l3, q1_e,
			sn_l1, sn_l2, sn_l3, sn_e,
			s_e)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mid,
		f(m.PL1), f(m.PL2), f(m.PL3), f(m.PE),
		f(m.Q1L1), f(m.Q1L2), f(m.Q1L3), f(m.Q1E),
		f(m.SnL1), f(m.SnL2), f(m.SnL3), f(m.SnE),
		f(m.SE)); err != nil {
		return fmt.Errorf("loader: insert power: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO measurement_wide (code, utc_time,
			u_l1, u_l2, u_l3, u_l12,
			i_l1, i_l2,
			p_l1, p_l2, p_l3, p_e,
			q1_l1, q1_l2, q1_l3, q1_e,
			sn_l1, sn_l2, sn_l3, sn_e,
			s_e)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code, utc,
		f(m.UL1), f(m.UL2), f(m.UL3), f(m.UL12),
		f(m.IL1), f(m.IL2),
		f(m.PL1), f(m.PL2), f(m.PL3), f(m.PE),
		f(m.Q1L1), f(m.Q1L2), f(m.Q1L3), f(m.Q1E),
		f(m.SnL1), f(m.SnL2), f(m.SnL3), f(m.SnE),
		f(m.SE)); err != nil {
		return fmt.Errorf("loader: insert wide: %w", err)
	}
	return nil
}

// f converts a nullable measurement field to its SQL value.
func f(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
