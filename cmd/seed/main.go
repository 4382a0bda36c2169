package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/db"
)

// Shared demo password so seeded accounts can be logged into.
const seedPassword = "password123"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		log.Fatalf("hash seed password: %v", err)
	}

	if err := seedHospitals(context.Background(), pool, hash, 40); err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	if err := seedPatients(context.Background(), pool, hash, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, passwordHash string, count int) error {
	log.Printf("seeding %d hospitals", count)

	specialties := []string{
		"Cardiology",
		"Neurology",
		"Orthopedics",
		"Gastroenterology",
		"Endocrinology",
		"Family Medicine",
		"Pediatrics",
		"Dermatology",
		"Oncology",
		"Psychiatry",
	}
	diseases := []string{
		"heart disease",
		"migraine",
		"diabetes",
		"back pain",
		"fever",
		"asthma",
		"arthritis",
		"hypertension",
	}
	hospitalTypes := []string{
		"Multi-Specialty Hospital",
		"General Hospital",
		"Specialty Clinic",
		"Community Health Center",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Hospital"
		email := gofakeit.Email()
		phone := gofakeit.Phone()
		hospitalType := hospitalTypes[gofakeit.Number(0, len(hospitalTypes)-1)]
		address := gofakeit.Address()

		hospitalSpecs := pickSome(specialties, gofakeit.Number(2, 4))
		hospitalDiseases := pickSome(diseases, gofakeit.Number(2, 4))

		rating := float64(gofakeit.Number(30, 50)) / 10

		_, err := tx.Exec(ctx, `
			INSERT INTO hospitals (id, name, email, phone, password_hash, hospital_type,
				address, latitude, longitude, specialties, diseases, rating, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		`, id, name, email, phone, passwordHash, hospitalType,
			address.Address, address.Latitude, address.Longitude,
			hospitalSpecs, hospitalDiseases, rating)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("hospitals seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, passwordHash string, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, password_hash, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, id, name, email, phone, passwordHash)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

func pickSome(pool []string, n int) []string {
	if n > len(pool) {
		n = len(pool)
	}
	shuffled := make([]string, len(pool))
	copy(shuffled, pool)
	gofakeit.ShuffleStrings(shuffled)
	return shuffled[:n]
}
