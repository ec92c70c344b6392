package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
)

const (
	practitionerCount = 20
	patientCount      = 500
	daysAhead         = 14
	groupsPerDay      = 3
)

var serviceTypes = []string{
	"acupuncture",
	"massage",
	"physiotherapy",
	"osteopathy",
	"consultation",
	"chiropractic",
}

func main() {
	log := logger.New(logger.Config{Format: logger.FormatText, Service: "seed"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal("migrate", "error", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	practitioners, err := seedProfiles(context.Background(), log, pool, "practitioner", practitionerCount)
	if err != nil {
		log.Fatal("seed practitioners", "error", err)
	}
	patients, err := seedProfiles(context.Background(), log, pool, "patient", patientCount)
	if err != nil {
		log.Fatal("seed patients", "error", err)
	}

	svc := booking.NewService(booking.NewPgRepository(pool, cfg.StoreTimeout), nil, nil, log, cfg)
	if err := seedBookings(context.Background(), log, svc, practitioners, patients); err != nil {
		log.Fatal("seed bookings", "error", err)
	}

	log.Info("seed complete")
}

func seedProfiles(ctx context.Context, log *logger.Logger, pool *pgxpool.Pool, role string, count int) ([]uuid.UUID, error) {
	log.Info("seeding profiles", "role", role, "count", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO profiles (id, full_name, email, phone, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, gofakeit.Name(), gofakeit.Email(), gofakeit.Phone(), role)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedBookings fills the next days with single bookings, multi-session groups
// and blocked slots. Slot collisions are expected and skipped.
func seedBookings(ctx context.Context, log *logger.Logger, svc *booking.Service, practitioners, patients []uuid.UUID) error {
	start := time.Now().Truncate(24 * time.Hour)

	var created, conflicts, groups int
	for day := 0; day < daysAhead; day++ {
		date := start.AddDate(0, 0, day).Format(booking.DateLayout)

		for _, p := range practitioners {
			for slot := 0; slot < gofakeit.Number(2, 6); slot++ {
				_, err := svc.CreateBooking(ctx, randomBooking(p, pick(patients), date))
				switch {
				case err == nil:
					created++
				case errors.Is(err, booking.ErrSlotConflict):
					conflicts++
				default:
					return err
				}
			}

			if gofakeit.Number(0, 4) == 0 {
				_, err := svc.CreateBooking(ctx, booking.NewBooking{
					PractitionerID: p.String(),
					Date:           date,
					Time:           randomTime(),
					ServiceType:    booking.ServiceBlocked,
				})
				if err != nil && !errors.Is(err, booking.ErrSlotConflict) {
					return err
				}
			}
		}

		// A new book number has no rows yet, so rescheduling it creates the group.
		for g := 0; g < groupsPerDay; g++ {
			p, patient := pick(practitioners), pick(patients)
			bookNumber := fmt.Sprintf("BK%08d", gofakeit.Number(0, 99999999))

			var rows []booking.NewBooking
			for i := 0; i < gofakeit.Number(2, 4); i++ {
				rows = append(rows, randomBooking(p, patient, start.AddDate(0, 0, day+7*i).Format(booking.DateLayout)))
			}

			if _, err := svc.RescheduleGroup(ctx, bookNumber, rows); err != nil {
				if errors.Is(err, booking.ErrSlotConflict) {
					conflicts++
					continue
				}
				return err
			}
			groups++
		}
	}

	log.Info("bookings seeded", "created", created, "groups", groups, "conflicts_skipped", conflicts)
	return nil
}

func randomBooking(practitioner, patient uuid.UUID, date string) booking.NewBooking {
	price := float64(gofakeit.Number(40, 200))
	service := serviceTypes[gofakeit.Number(0, len(serviceTypes)-1)]
	return booking.NewBooking{
		PractitionerID: practitioner.String(),
		PatientID:      patient.String(),
		Date:           date,
		Time:           randomTime(),
		ServiceType:    service,
		Price:          &price,
		Reason:         fmt.Sprintf("%s session booked by %s", service, gofakeit.Name()),
	}
}

// randomTime returns a half-hour slot between 08:00 and 17:30.
func randomTime() string {
	return fmt.Sprintf("%02d:%02d", gofakeit.Number(8, 17), 30*gofakeit.Number(0, 1))
}

func pick(ids []uuid.UUID) uuid.UUID {
	return ids[gofakeit.Number(0, len(ids)-1)]
}
