package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/database"
	"github.com/joho/godotenv"
)

func main() {
	status := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	if *status {
		migrations, err := database.MigrationStatus(ctx, db, cfg.Database.Driver)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		for _, m := range migrations {
			fmt.Printf("%05d  %-8s  %s\n", m.Source.Version, m.State, m.Source.Path)
		}
		return
	}

	if err := database.RunMigrations(ctx, db, cfg.Database.Driver); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations completed")
}
