package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/attachd/attachd/attachcore/config"
	"github.com/attachd/attachd/core/common"
	"github.com/attachd/attachd/core/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// postgresStore store implementation for postgres
type postgresStore struct {
	db *gorm.DB
}

func (store *postgresStore) Open() error {
	db, err := gorm.Open(postgres.Open(fmt.Sprintf(
		"host=%v port=%v user=%v dbname=%v password=%v sslmode=disable",
		config.Configuration.DBHost, config.Configuration.DBPort,
		config.Configuration.DBUserName, config.Configuration.DBName,
		config.Configuration.DBPassword)), &gorm.Config{
		SkipDefaultTransaction: true, // https://gorm.io/docs/performance.html#Disable-Default-Transaction
		PrepareStmt:            true, // https://gorm.io/docs/performance.html#Caches-Prepared-Statement
	})
	if err != nil {
		return common.NewErrorf(common.ErrCodeDBOpen, "Error opening the DB connection: %v", err)
	}

	sqldb, err := db.DB()
	if err != nil {
		return common.NewErrorf(common.ErrCodeDBOpen, "Error opening the DB connection: %v", err)
	}

	if err := sqldb.Ping(); err != nil {
		return common.NewErrorf(common.ErrCodeDBOpen, "Error opening the DB connection: %v", err)
	}

	sqldb.SetMaxIdleConns(100)
	sqldb.SetMaxOpenConns(200)
	sqldb.SetConnMaxLifetime(30 * time.Second)
	store.db = db
	return nil
}

func (store *postgresStore) Close() {
	if store.db != nil {
		if sqldb, _ := store.db.DB(); sqldb != nil {
			sqldb.Close()
		}
	}
}

func (store *postgresStore) CreateTransaction(ctx context.Context) context.Context {
	db := store.db.Begin()
	return context.WithValue(ctx, ContextKeyTransaction, db)
}

func (store *postgresStore) GetTransaction(ctx context.Context) *gorm.DB {
	conn := ctx.Value(ContextKeyTransaction)
	if conn != nil {
		return conn.(*gorm.DB)
	}
	logging.Logger.Error("No connection in the context.")
	return nil
}

func (store *postgresStore) WithNewTransaction(f func(ctx context.Context) error) error {
	ctx := store.CreateTransaction(context.TODO())

	tx := store.GetTransaction(ctx)
	err := f(ctx)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (store *postgresStore) WithTransaction(ctx context.Context, f func(ctx context.Context) error) error {
	tx := store.GetTransaction(ctx)
	if tx == nil {
		ctx = store.CreateTransaction(ctx)
		tx = store.GetTransaction(ctx)
	}

	err := f(ctx)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (store *postgresStore) GetDB() *gorm.DB {
	return store.db
}
