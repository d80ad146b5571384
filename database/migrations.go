package database

import (
	"log"

	"letterpress/models"

	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.Site{},
		&models.Post{},
		&models.SlugHistory{},
		&models.Subscriber{},
		&models.OutboxEntry{},
	)

	if err != nil {
		log.Printf("Error running migrations: %v", err)
		return err
	}

	log.Println("Migrations completed successfully")
	return nil
}
