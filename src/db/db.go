package db

import (
	"log"

	"nftdiarias/src/config"
	"nftdiarias/src/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func GetDb() *gorm.DB {
	if db != nil {
		return db
	}
	_db, err := gorm.Open(postgres.Open(config.GetDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Printf("Error connecting to database: %s\n", err.Error())
		panic(err)
	}
	sqlDB, err := _db.DB()
	if err != nil {
		log.Fatalf("Error establishing connection to database: %s\n", err.Error())
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	db = _db
	return _db
}

func NewDB(newdb *gorm.DB) {
	db = newdb
}

// Migrate creates or updates the mirror, audit and job tables.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.Reservation{},
		&models.TrailLog{},
		&models.JobTask{},
	)
}

// Close releases the pooled connections of the process-wide handle.
func Close() {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database: %s\n", err.Error())
	}
}
