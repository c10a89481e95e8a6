package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	count := flag.Int("count", 50, "number of waiting appointments to create")
	flag.Parse()

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

	if err := seedWaiting(context.Background(), pool, *count); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedWaiting(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d waiting appointments", count)

	priorities := []appointment.Priority{
		appointment.PriorityHigh,
		appointment.PriorityMedium,
		appointment.PriorityMedium,
		appointment.PriorityMedium,
		appointment.PriorityLow,
	}

	repo := appointment.NewPgRepository(pool)

	for i := 0; i < count; i++ {
		a := appointment.Appointment{
			ID:          uuid.New(),
			SubjectID:   int64(gofakeit.Number(10_000_000, 99_999_999)),
			DisplayName: gofakeit.Name(),
			Priority:    priorities[gofakeit.Number(0, len(priorities)-1)],
			CreatedAt:   time.Now().Add(-time.Duration(gofakeit.Number(0, 600)) * time.Second),
		}

		if _, err := repo.Create(ctx, &a); err != nil {
			return err
		}
	}

	return nil
}
