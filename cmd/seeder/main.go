package main

import (
	"log"

	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/config"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/database"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/models"
	"github.com/saurav-kumar-sah-dev/Connestro-sub000/internal/seeds"
)

func main() {
	log.Println("🌱 Starting Database Seeder...")

	config.LoadConfig()
	database.Connect()

	err := database.DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.Notification{},
	)
	if err != nil {
		log.Fatalf("❌ Failed to migrate database: %v", err)
	}

	users := seeds.SeedDemoUsers()
	seeds.SeedDemoConversations(users)

	log.Println("✅ Seeding Complete!")
}
