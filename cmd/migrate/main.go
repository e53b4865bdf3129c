package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qlaunch/pkg/db"
	"github.com/quatton/qlaunch/pkg/qlog"
)

type migrateEnv struct {
	Driver     string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"qlaunch.db"`
}

func main() {
	rollback := flag.Bool("rollback", false, "roll back the last migration group")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("ℹ No .env file found")
	} else {
		log.Println("✓ Loaded .env file")
	}

	ctx := context.Background()
	logger := qlog.NewDefault()

	var env migrateEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatalf("failed to process env vars: %v", err)
	}

	cfg := db.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "qlaunch",
		Password: "password",
		Database: "qlaunch",
		SSLMode:  "disable",
	}

	if err := envconfig.Process("DB", &cfg); err != nil {
		log.Fatalf("failed to process env vars: %v", err)
	}

	database, err := db.Open(ctx, env.Driver, cfg, env.SQLitePath)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	if *rollback {
		log.Println("Rolling back migrations...")
		if err := db.Rollback(ctx, database, logger); err != nil {
			log.Fatalf("failed to roll back: %v", err)
		}
		log.Println("Rollback completed successfully.")
		return
	}

	log.Println("Running migrations...")
	if err := db.Migrate(ctx, database, logger); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	log.Println("Migrations completed successfully.")
}
