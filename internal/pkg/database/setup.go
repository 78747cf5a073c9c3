package database

import (
	"fmt"
	"log"
	"time"

	"github.com/replyhub/replyhub/app/models"
	"github.com/replyhub/replyhub/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

const maxRetries = 5
const retryDelay = 5 * time.Second

func SetupDatabase() {
	var err error
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{})
		if err == nil {
			DB.AutoMigrate(
				&models.Organization{},
				&models.User{},
				&models.Plan{},
				&models.Subscription{},
				&models.WebhookEvent{},
				&models.Refund{},
				&models.AuditLog{},
			)
			seedPlans(DB)

			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// seedPlans inserts the default plan catalog if the table is empty.
func seedPlans(db *gorm.DB) {
	var count int64
	if err := db.Model(&models.Plan{}).Count(&count).Error; err != nil {
		log.Printf("plan seed check failed: %v", err)
		return
	}
	if count > 0 {
		return
	}
	for _, p := range models.DefaultPlans() {
		plan := p
		if err := db.Create(&plan).Error; err != nil {
			log.Printf("plan seed insert failed for %s: %v", plan.Code, err)
		}
	}
}

// GetDB returns the shared database handle.
func GetDB() *gorm.DB {
	return DB
}
