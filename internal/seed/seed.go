// Package seed fills a store with demo clinics, doctors, patients, weekly
// schedules and generated slots.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

// Directory is the write side of the reference data.
type Directory interface {
	CreatePatient(ctx context.Context, p *appointment.Patient) error
	CreateDoctor(ctx context.Context, d *appointment.Doctor) error
	CreateClinic(ctx context.Context, c *appointment.Clinic) error
	CreateRoom(ctx context.Context, r *appointment.Room) error
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type Options struct {
	Clinics        int
	RoomsPerClinic int
	Doctors        int
	Patients       int
	// Days of slots to generate, starting at From.
	Days int
	From time.Time
	// Seed makes the fake data reproducible; zero picks a random one.
	Seed uint64
}

var DefaultOptions = Options{Clinics: 3, RoomsPerClinic: 2, Doctors: 10, Patients: 200, Days: 14}

// Result lists the ids that were created so callers can mint tokens for them.
type Result struct {
	ClinicIDs      []uuid.UUID
	DoctorIDs      []uuid.UUID
	PatientIDs     []uuid.UUID
	SlotsGenerated int
}

type Seeder struct {
	dir       Directory
	schedules *schedule.Service
	log       *zap.Logger
}

func New(dir Directory, schedules *schedule.Service, log *zap.Logger) *Seeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{dir: dir, schedules: schedules, log: log}
}

func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Clinics <= 0 || opts.Doctors <= 0 {
		return nil, fmt.Errorf("seed needs at least one clinic and one doctor")
	}
	if opts.From.IsZero() {
		opts.From = time.Now().UTC()
	}
	faker := gofakeit.New(opts.Seed)
	res := &Result{}

	rooms := make(map[uuid.UUID][]uuid.UUID, opts.Clinics)
	for i := 0; i < opts.Clinics; i++ {
		addr := fmt.Sprintf("%s, %s", faker.Street(), faker.City())
		c := &appointment.Clinic{ID: uuid.New(), Name: faker.Company() + " Clinic", Address: &addr}
		if err := s.dir.CreateClinic(ctx, c); err != nil {
			return nil, fmt.Errorf("create clinic: %w", err)
		}
		res.ClinicIDs = append(res.ClinicIDs, c.ID)

		for j := 0; j < opts.RoomsPerClinic; j++ {
			r := &appointment.Room{ID: uuid.New(), ClinicID: c.ID, Name: fmt.Sprintf("Room %d", j+1)}
			if err := s.dir.CreateRoom(ctx, r); err != nil {
				return nil, fmt.Errorf("create room: %w", err)
			}
			rooms[c.ID] = append(rooms[c.ID], r.ID)
		}
	}
	s.log.Info("clinics seeded", zap.Int("clinics", opts.Clinics), zap.Int("rooms_per_clinic", opts.RoomsPerClinic))

	for i := 0; i < opts.Patients; i++ {
		email := faker.Email()
		p := &appointment.Patient{ID: uuid.New(), Name: faker.Name(), Email: &email}
		if err := s.dir.CreatePatient(ctx, p); err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
		res.PatientIDs = append(res.PatientIDs, p.ID)
	}
	s.log.Info("patients seeded", zap.Int("patients", opts.Patients))

	from := opts.From.Format(time.DateOnly)
	to := opts.From.AddDate(0, 0, max(opts.Days-1, 0)).Format(time.DateOnly)

	for i := 0; i < opts.Doctors; i++ {
		spec := specialties[faker.Number(0, len(specialties)-1)]
		d := &appointment.Doctor{ID: uuid.New(), Name: "Dr. " + faker.Name(), Specialty: &spec}
		if err := s.dir.CreateDoctor(ctx, d); err != nil {
			return nil, fmt.Errorf("create doctor: %w", err)
		}
		res.DoctorIDs = append(res.DoctorIDs, d.ID)

		clinicID := res.ClinicIDs[faker.Number(0, len(res.ClinicIDs)-1)]
		actor := auth.Principal{ID: d.ID, Role: auth.RoleDoctor}
		if _, err := s.schedules.SaveWeeklySchedule(ctx, actor, weekdaySchedule(faker, clinicID, rooms[clinicID])); err != nil {
			return nil, fmt.Errorf("save schedule for %s: %w", d.ID, err)
		}

		if opts.Days > 0 {
			n, err := s.schedules.GenerateSlots(ctx, actor, from, to)
			if err != nil {
				return nil, fmt.Errorf("generate slots for %s: %w", d.ID, err)
			}
			res.SlotsGenerated += n
		}
	}
	s.log.Info("doctors seeded", zap.Int("doctors", opts.Doctors), zap.Int("slots", res.SlotsGenerated))

	return res, nil
}

// weekdaySchedule is Monday to Friday with a random morning start and one
// of a few common visit lengths.
func weekdaySchedule(faker *gofakeit.Faker, clinicID uuid.UUID, rooms []uuid.UUID) []schedule.DayInput {
	durations := []int{15, 20, 30, 45}
	duration := durations[faker.Number(0, len(durations)-1)]
	startHour := faker.Number(7, 10)

	var room string
	if len(rooms) > 0 {
		room = rooms[faker.Number(0, len(rooms)-1)].String()
	}

	days := make([]schedule.DayInput, 0, 5)
	for dow := time.Monday; dow <= time.Friday; dow++ {
		days = append(days, schedule.DayInput{
			DayOfWeek:           int(dow),
			ClinicID:            clinicID.String(),
			RoomID:              room,
			StartTime:           fmt.Sprintf("%02d:00", startHour),
			EndTime:             fmt.Sprintf("%02d:00", startHour+faker.Number(4, 8)),
			SlotDurationMinutes: duration,
			IsActive:            faker.Number(0, 9) > 0,
		})
	}
	return days
}
