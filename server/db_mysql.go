package server

import (
	"database/sql"
	"encoding/json"
	"log"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
)

// This file implements the JobDB interface using MySQL as the storage
// medium.

type msqlJobDB struct {
	db *sql.DB
}

var _ JobDB = &msqlJobDB{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
	mysqlschema2,
}

// Adapt the schema versioning for MySQL
var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlJobDB connects to a MySQL database, running any pending
// migrations first.
func NewMysqlJobDB(dial string) (JobDB, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &msqlJobDB{db: db}, nil
}

func (ms *msqlJobDB) SaveJob(j Job) error {
	value, err := json.Marshal(j)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO jobs (job, identity, status, created, modified, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status=?, modified=?, value=?`

	_, err = ms.db.Exec(stmt, j.ID, j.Identity, string(j.Status), j.Created, j.Modified, value,
		string(j.Status), j.Modified, value)
	return err
}

func (ms *msqlJobDB) LookupJob(id string) (*Job, error) {
	const dbLookup = `SELECT value FROM jobs WHERE job = ? LIMIT 1`

	var value string
	err := ms.db.QueryRow(dbLookup, id).Scan(&value)
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

// database migrations. each one is a go function. Add them to the list
// mysqlMigrations at the top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS jobs (
		job varchar(255),
		identity varchar(255),
		status varchar(32),
		created datetime,
		modified datetime,
		value text)`,
	}
	return execlist(tx, s)
}

func mysqlschema2(tx migration.LimitedTx) error {
	var s = []string{
		`ALTER TABLE jobs ADD COLUMN id int PRIMARY KEY AUTO_INCREMENT FIRST`,
		`ALTER TABLE jobs ADD UNIQUE INDEX jobs_job (job)`,
		`ALTER TABLE jobs ADD INDEX jobs_identity (identity)`,
	}
	return execlist(tx, s)
}

// execlist exec's each item in the list, returning if there is an error.
// Used to work around the mysql driver not handling compound exec
// statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
