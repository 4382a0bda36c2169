package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/caremesh/hospital-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	down := flag.Bool("down", false, "roll back one migration instead of applying all")
	force := flag.Int("force", -1, "force the schema version without running migrations (recover a dirty state)")
	flag.Parse()

	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		log.Fatalf("create migrator: %v", err)
	}
	defer m.Close()

	if *force >= 0 {
		if err := m.Force(*force); err != nil {
			log.Fatalf("force version %d failed: %v", *force, err)
		}
		log.Printf("schema version forced to %d", *force)
		return
	}

	if *down {
		if err := m.Steps(-1); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Println("nothing to roll back")
				return
			}
			log.Fatalf("rollback failed: %v", err)
		}
		log.Println("rolled back one migration")
		return
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("schema already up to date")
			return
		}
		log.Fatalf("migration failed: %v", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		log.Fatalf("read version: %v", err)
	}
	log.Printf("migrations applied, version=%d dirty=%v", version, dirty)
}
