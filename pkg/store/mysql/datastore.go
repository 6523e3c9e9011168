package mysql

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"devicefarm/pkg/config"
	"devicefarm/pkg/store/mysql/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Datastore wraps GORM DB and provides transaction support
type Datastore struct {
	db *gorm.DB
}

// NewDatastore connects to MySQL and migrates the device tables
func NewDatastore(cfg config.MySQLConfig) (*Datastore, error) {
	ds, err := OpenDatastore(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger:                 newGormLogger(),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := ds.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := ds.Migrate(); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

// OpenDatastore opens a datastore on an arbitrary dialector
func OpenDatastore(dialector gorm.Dialector, gormConfig *gorm.Config) (*Datastore, error) {
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Datastore{db: db}, nil
}

func newGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Migrate creates or updates the device tables
func (ds *Datastore) Migrate() error {
	if err := ds.db.AutoMigrate(&model.DeviceUtilization{}, &model.DeviceSession{}); err != nil {
		return fmt.Errorf("failed to migrate device tables: %w", err)
	}
	return nil
}

// Close closes the database connection
func (ds *Datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type contextTxKey struct{}

// ExecTx executes fn within a transaction, rolled back when fn returns an error
func (ds *Datastore) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx = context.WithValue(ctx, contextTxKey{}, tx)
		return fn(ctx)
	})
}

// DB returns the transaction DB carried by ctx, or the main DB
func (ds *Datastore) DB(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB)
	if ok {
		return tx.WithContext(ctx)
	}
	return ds.db.WithContext(ctx)
}
