package db

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testSeq atomic.Int64

// NewTest opens a private in-memory SQLite database. A single connection is
// kept open so the database lives as long as the handle and concurrent
// writers serialize the way row locks would on PostgreSQL.
func NewTest() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:ledgerd_test_%d_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)",
		time.Now().UnixNano(), testSeq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return conn, nil
}

// HideNextRead makes the next query on table whose SQL mentions column come
// back empty, as if the row it would have found were committed by another
// writer just after the read. Tests use it to reach the unique-index
// fallbacks that a single test connection otherwise never hits.
func HideNextRead(conn *gorm.DB, table, column string) error {
	var armed atomic.Bool
	armed.Store(true)

	name := fmt.Sprintf("ledgerd:test:hide_read_%d", testSeq.Add(1))
	return conn.Callback().Query().After("gorm:query").Register(name, func(tx *gorm.DB) {
		if tx.Error != nil || tx.Statement.Table != table {
			return
		}
		if !strings.Contains(tx.Statement.SQL.String(), column) {
			return
		}
		if !armed.CompareAndSwap(true, false) {
			return
		}
		if count, ok := tx.Statement.Dest.(*int64); ok {
			*count = 0
			return
		}
		tx.RowsAffected = 0
		_ = tx.AddError(gorm.ErrRecordNotFound)
	})
}
