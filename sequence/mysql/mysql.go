/*
Copyright 2023 The TenantCore Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dapr/kit/logger"
	kitmd "github.com/dapr/kit/metadata"

	"github.com/tenantcore/components/common/sql/transactions"
	"github.com/tenantcore/components/sequence"
)

const (
	// Used if the user does not configure a table name in the metadata.
	defaultTableName = "sequence"

	// Used if the user does not configure a database name in the metadata.
	defaultSchemaName = "tenantcore"

	// Used if the user does not provide a timeoutInSeconds value in the metadata.
	defaultTimeoutInSeconds = 20

	errMissingConnectionString = "missing connection string"
)

// SequenceStore is a MySQL-backed sequence counter store. It keeps one row
// per (tenant, sequence) whose nextid column is the lower bound of the next
// range to hand out; nextid only ever increases.
type SequenceStore struct {
	tableName        string
	schemaName       string
	connectionString string
	timeout          time.Duration

	// Instance of the database to issue commands to
	db *sql.DB

	logger logger.Logger

	factory iSequenceFactory
}

type sequenceStoreMetadata struct {
	TableName        string
	SchemaName       string
	ConnectionString string
	TimeoutInSeconds int
	PemPath          string
}

// NewMySQLSequenceStore creates a new MySQL sequence counter store.
func NewMySQLSequenceStore(logger logger.Logger) sequence.RangeStore {
	factory := newSequenceFactory(logger)

	// The rest of the properties are populated in Init.
	return newSequenceStore(logger, factory)
}

// Hidden implementation for testing.
func newSequenceStore(logger logger.Logger, factory iSequenceFactory) *SequenceStore {
	return &SequenceStore{
		logger:  logger,
		factory: factory,
		timeout: defaultTimeoutInSeconds * time.Second,
	}
}

// Init parses the metadata and opens a connection to the server.
func (s *SequenceStore) Init(ctx context.Context, metadata sequence.Metadata) error {
	s.logger.Debug("Initializing MySQL sequence store")

	err := s.parseMetadata(metadata)
	if err != nil {
		return err
	}

	db, err := s.factory.Open(s.connectionString)
	if err != nil {
		s.logger.Error(err)
		return err
	}

	return s.finishInit(ctx, db)
}

func (s *SequenceStore) parseMetadata(md sequence.Metadata) error {
	meta := sequenceStoreMetadata{
		TableName:  defaultTableName,
		SchemaName: defaultSchemaName,
	}
	err := kitmd.DecodeMetadata(md.Properties, &meta)
	if err != nil {
		return err
	}

	if !validIdentifier(meta.TableName) {
		return fmt.Errorf("table name '%s' is not valid", meta.TableName)
	}
	s.tableName = meta.TableName

	if !validIdentifier(meta.SchemaName) {
		return fmt.Errorf("schema name '%s' is not valid", meta.SchemaName)
	}
	s.schemaName = meta.SchemaName

	if meta.ConnectionString == "" {
		// The binding-style url property name is accepted as an alias.
		if v, ok := md.GetProperty("url"); ok {
			meta.ConnectionString = v
		}
	}
	if meta.ConnectionString == "" {
		s.logger.Error("Missing MySQL connection string")
		return errors.New(errMissingConnectionString)
	}
	s.connectionString = meta.ConnectionString

	if meta.PemPath != "" {
		err = s.factory.RegisterTLSConfig(meta.PemPath)
		if err != nil {
			s.logger.Error(err)
			return err
		}
	}

	if meta.TimeoutInSeconds > 0 {
		s.timeout = time.Duration(meta.TimeoutInSeconds) * time.Second
	}

	return nil
}

// Separated out to make this portion of code testable.
func (s *SequenceStore) finishInit(ctx context.Context, db *sql.DB) error {
	s.db = db

	err := s.ensureSchema(ctx)
	if err != nil {
		s.logger.Error(err)
		return err
	}

	err = s.Ping(ctx)
	if err != nil {
		s.logger.Error(err)
		return err
	}

	return s.ensureSequenceTable(ctx)
}

func (s *SequenceStore) ensureSchema(ctx context.Context) error {
	exists, err := schemaExists(ctx, s.db, s.schemaName, s.timeout)
	if err != nil {
		return err
	}

	if !exists {
		s.logger.Infof("Creating MySQL schema '%s'", s.schemaName)
		execCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_, err = s.db.ExecContext(execCtx,
			fmt.Sprintf("CREATE DATABASE %s;", s.schemaName),
		)
		if err != nil {
			return err
		}
	}

	// Build a connection string that contains the schema name.
	// All MySQL connection strings must contain a / so split on it.
	parts := strings.Split(s.connectionString, "/")

	// Even if the connection string ends with a / parts will have two values
	// with the second being an empty string.
	s.connectionString = fmt.Sprintf("%s/%s%s", parts[0], s.schemaName, parts[1])

	// Close the connection we used to confirm and or create the schema
	err = s.db.Close()
	if err != nil {
		return err
	}

	// Open a connection to the new schema
	s.db, err = s.factory.Open(s.connectionString)

	return err
}

func (s *SequenceStore) ensureSequenceTable(ctx context.Context) error {
	exists, err := tableExists(ctx, s.db, s.tableName, s.timeout)
	if err != nil {
		return err
	}

	if !exists {
		s.logger.Infof("Creating MySQL sequence table '%s'", s.tableName)

		// Note that tableName is sanitized
		//nolint:gosec
		createTable := fmt.Sprintf(`CREATE TABLE %s (
			tenantid BIGINT NOT NULL,
			id BIGINT NOT NULL,
			nextid BIGINT NOT NULL,
			PRIMARY KEY (tenantid, id)
			);`, s.tableName)

		execCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_, err = s.db.ExecContext(execCtx, createTable)
		if err != nil {
			return err
		}
	}

	return nil
}

// Reserve advances the counter of (tenantID, sequenceID) by rangeSize in one
// transaction and returns the reserved lower bound. The caller must hold the
// distributed lock of the (tenant, sequence).
func (s *SequenceStore) Reserve(ctx context.Context, tenantID, sequenceID, rangeSize int64) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return transactions.ExecuteInTransaction(opCtx, s.logger, s.db, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		nextID, err := s.selectNextID(ctx, tx, tenantID, sequenceID)
		if err != nil {
			return 0, err
		}

		err = s.updateSequence(ctx, tx, tenantID, sequenceID, nextID+rangeSize)
		if err != nil {
			return 0, err
		}

		return nextID, nil
	})
}

// selectNextID reads the current counter inside the caller's transaction.
func (s *SequenceStore) selectNextID(ctx context.Context, tx *sql.Tx, tenantID, sequenceID int64) (int64, error) {
	//nolint:gosec
	query := fmt.Sprintf("SELECT nextid FROM %s WHERE tenantid = ? AND id = ?", s.tableName)

	var nextID int64
	err := tx.QueryRowContext(ctx, query, tenantID, sequenceID).Scan(&nextID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: sequence %d of tenant %d has no counter row", sequence.ErrSequenceNotFound, sequenceID, tenantID)
	}
	if err != nil {
		return 0, fmt.Errorf("error reading sequence %d of tenant %d: %w", sequenceID, tenantID, err)
	}

	return nextID, nil
}

// updateSequence writes the advanced counter back inside the caller's transaction.
func (s *SequenceStore) updateSequence(ctx context.Context, tx *sql.Tx, tenantID, sequenceID, newNextID int64) error {
	//nolint:gosec
	query := fmt.Sprintf("UPDATE %s SET nextid = ? WHERE tenantid = ? AND id = ?", s.tableName)

	result, err := tx.ExecContext(ctx, query, newNextID, tenantID, sequenceID)
	if err != nil {
		return fmt.Errorf("error updating sequence %d of tenant %d: %w", sequenceID, tenantID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: counter row of sequence %d of tenant %d disappeared", sequence.ErrSequenceNotFound, sequenceID, tenantID)
	}

	return nil
}

// InsertSequence seeds the counter row of a (tenant, sequence), typically
// when a tenant is provisioned.
func (s *SequenceStore) InsertSequence(ctx context.Context, tenantID, sequenceID, nextID int64) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	//nolint:gosec
	query := fmt.Sprintf("INSERT INTO %s (tenantid, id, nextid) VALUES (?, ?, ?)", s.tableName)

	_, err := s.db.ExecContext(opCtx, query, tenantID, sequenceID, nextID)
	if err != nil {
		return fmt.Errorf("error inserting sequence %d of tenant %d: %w", sequenceID, tenantID, err)
	}

	return nil
}

// Ping the database.
func (s *SequenceStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return sql.ErrConnDone
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close the connection to the database.
func (s *SequenceStore) Close() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	return err
}

func schemaExists(ctx context.Context, db *sql.DB, schemaName string, timeout time.Duration) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Returns 1 or 0 if the schema exists or not
	var exists int
	query := `SELECT EXISTS (
		SELECT SCHEMA_NAME FROM information_schema.schemata WHERE SCHEMA_NAME = ?
	) AS 'exists'`
	err := db.QueryRowContext(queryCtx, query, schemaName).Scan(&exists)
	return exists == 1, err
}

func tableExists(ctx context.Context, db *sql.DB, tableName string, timeout time.Duration) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Returns 1 or 0 if the table exists or not
	var exists int
	query := `SELECT EXISTS (
		SELECT TABLE_NAME FROM information_schema.tables WHERE TABLE_NAME = ?
	) AS 'exists'`
	err := db.QueryRowContext(queryCtx, query, tableName).Scan(&exists)
	return exists == 1, err
}

// validIdentifier returns true if the input is a valid MySQL identifier:
// only letters, digits and underscores.
func validIdentifier(v string) bool {
	if v == "" {
		return false
	}

	for _, c := range v {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}

	return true
}
