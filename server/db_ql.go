package server

import (
	"database/sql"
	"encoding/json"
	"log"

	_ "github.com/cznic/ql/driver"
)

// This file implements the JobDB interface using the QL embedded
// database. It is intended for development and single node deployments.

type qlJobDB struct {
	db *sql.DB
}

var _ JobDB = &qlJobDB{}

const qlJobInit = `
	CREATE TABLE IF NOT EXISTS jobs (
		id string,
		identity string,
		status string,
		created time,
		modified time,
		value blob
	);
	CREATE INDEX IF NOT EXISTS jobid ON jobs (id);
	CREATE INDEX IF NOT EXISTS jobidentity ON jobs (identity);
`

// NewQlJobDB makes a QL backed JobDB. filename is the file to keep the
// database in. The filename "memory" means to keep everything in memory.
func NewQlJobDB(filename string) (JobDB, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlJobInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlJobDB{db: db}, nil
}

func (qc *qlJobDB) SaveJob(j Job) error {
	const dbUpdate = `UPDATE jobs SET status = ?2, modified = ?3, value = ?4 WHERE id == ?1`
	const dbInsert = `INSERT INTO jobs VALUES (?1, ?5, ?2, ?6, ?3, ?4)`

	value, err := json.Marshal(j)
	if err != nil {
		return err
	}
	result, err := performExec(qc.db, dbUpdate, j.ID, string(j.Status), j.Modified, value)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qc.db, dbInsert, j.ID, string(j.Status), j.Modified, value,
			j.Identity, j.Created)
	}
	return err
}

func (qc *qlJobDB) LookupJob(id string) (*Job, error) {
	const dbLookup = `SELECT value FROM jobs WHERE id == ?1 LIMIT 1`

	var value string
	err := qc.db.QueryRow(dbLookup, id).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var j = new(Job)
	err = json.Unmarshal([]byte(value), j)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
