package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/observability"
)

type slotKey struct {
	hospitalID uuid.UUID
	date       string
	timeSlot   string
}

func makeSlotKey(hospitalID uuid.UUID, date time.Time, timeSlot string) slotKey {
	return slotKey{hospitalID: hospitalID, date: NormalizeDate(date).Format("2006-01-02"), timeSlot: timeSlot}
}

// memState is the shared backing store for the fake slot and appointment
// stores. A single mutex stands in for row-level locking.
type memState struct {
	mu    sync.Mutex
	slots map[slotKey]SlotRecord
	appts map[uuid.UUID]Appointment
}

func newMemState() *memState {
	return &memState{
		slots: make(map[slotKey]SlotRecord),
		appts: make(map[uuid.UUID]Appointment),
	}
}

func (m *memState) snapshot() (map[slotKey]SlotRecord, map[uuid.UUID]Appointment) {
	slots := make(map[slotKey]SlotRecord, len(m.slots))
	for k, v := range m.slots {
		slots[k] = v
	}
	appts := make(map[uuid.UUID]Appointment, len(m.appts))
	for k, v := range m.appts {
		appts[k] = v
	}
	return slots, appts
}

type memSlotStore struct{ state *memState }

func (s *memSlotStore) Get(_ context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) (*SlotRecord, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	rec, ok := s.state.slots[makeSlotKey(hospitalID, date, timeSlot)]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &rec, nil
}

func (s *memSlotStore) ListForDate(_ context.Context, hospitalID uuid.UUID, date time.Time) ([]SlotRecord, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	key := makeSlotKey(hospitalID, date, "")
	var out []SlotRecord
	for k, v := range s.state.slots {
		if k.hospitalID == key.hospitalID && k.date == key.date {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memSlotStore) Materialize(_ context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) (*SlotRecord, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	key := makeSlotKey(hospitalID, date, timeSlot)
	rec, ok := s.state.slots[key]
	if !ok {
		rec = SlotRecord{
			ID:              uuid.New(),
			HospitalID:      hospitalID,
			Date:            NormalizeDate(date),
			TimeSlot:        timeSlot,
			IsAvailable:     true,
			MaxAppointments: 1,
		}
		s.state.slots[key] = rec
	}
	return &rec, nil
}

func (s *memSlotStore) UpsertAvailability(_ context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string, available bool) (*SlotRecord, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	key := makeSlotKey(hospitalID, date, timeSlot)
	rec, ok := s.state.slots[key]
	if !ok {
		rec = SlotRecord{
			ID:              uuid.New(),
			HospitalID:      hospitalID,
			Date:            NormalizeDate(date),
			TimeSlot:        timeSlot,
			MaxAppointments: 1,
		}
	}
	rec.IsAvailable = available
	s.state.slots[key] = rec
	return &rec, nil
}

func (s *memSlotStore) TryAcquire(_ context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	key := makeSlotKey(hospitalID, date, timeSlot)
	rec, ok := s.state.slots[key]
	if !ok || !rec.IsAvailable || rec.CurrentAppointments >= rec.MaxAppointments {
		return ErrSlotUnavailable
	}
	rec.CurrentAppointments++
	if rec.CurrentAppointments >= rec.MaxAppointments {
		rec.IsAvailable = false
	}
	s.state.slots[key] = rec
	return nil
}

func (s *memSlotStore) Release(_ context.Context, hospitalID uuid.UUID, date time.Time, timeSlot string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	key := makeSlotKey(hospitalID, date, timeSlot)
	rec, ok := s.state.slots[key]
	if !ok {
		return nil
	}
	if rec.CurrentAppointments > 0 {
		rec.CurrentAppointments--
	}
	rec.IsAvailable = true
	s.state.slots[key] = rec
	return nil
}

type memAppointmentStore struct{ state *memState }

func (s *memAppointmentStore) Create(_ context.Context, appt *Appointment) (*Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, existing := range s.state.appts {
		if existing.PatientID == appt.PatientID &&
			existing.Date.Equal(appt.Date) &&
			existing.TimeSlot == appt.TimeSlot &&
			existing.Status.IsActive() {
			return nil, ErrSchedulingConflict
		}
	}
	stored := *appt
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.state.appts[stored.ID] = stored
	return &stored, nil
}

func (s *memAppointmentStore) FindActiveConflict(_ context.Context, patientID uuid.UUID, date time.Time, timeSlot string, excludeID uuid.UUID) (*Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	for _, a := range s.state.appts {
		if a.PatientID == patientID &&
			a.Date.Equal(NormalizeDate(date)) &&
			a.TimeSlot == timeSlot &&
			a.Status.IsActive() &&
			a.ID != excludeID {
			found := a
			return &found, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (s *memAppointmentStore) GetScoped(_ context.Context, id uuid.UUID, principal auth.Principal) (*Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	a, ok := s.state.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	switch principal.Role {
	case auth.RolePatient:
		if a.PatientID != principal.ID {
			return nil, ErrAppointmentNotFound
		}
	case auth.RoleHospital:
		if a.HospitalID != principal.ID {
			return nil, ErrAppointmentNotFound
		}
	}
	found := a
	return &found, nil
}

func (s *memAppointmentStore) List(_ context.Context, principal auth.Principal, status *Status, limit, offset int) ([]Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	var out []Appointment
	for _, a := range s.state.appts {
		if principal.Role == auth.RolePatient && a.PatientID != principal.ID {
			continue
		}
		if principal.Role == auth.RoleHospital && a.HospitalID != principal.ID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memAppointmentStore) TransitionStatus(_ context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	a, ok := s.state.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	matched := false
	for _, f := range from {
		if a.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	s.state.appts[id] = a
	return &a, nil
}

func (s *memAppointmentStore) Reschedule(_ context.Context, id uuid.UUID, fromDate time.Time, fromTimeSlot string, toDate time.Time, toTimeSlot string) (*Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	a, ok := s.state.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.IsActive() || !a.Date.Equal(NormalizeDate(fromDate)) || a.TimeSlot != fromTimeSlot {
		return nil, ErrStatusChanged
	}
	for _, other := range s.state.appts {
		if other.ID != id &&
			other.PatientID == a.PatientID &&
			other.Date.Equal(NormalizeDate(toDate)) &&
			other.TimeSlot == toTimeSlot &&
			other.Status.IsActive() {
			return nil, ErrSchedulingConflict
		}
	}
	a.Date = NormalizeDate(toDate)
	a.TimeSlot = toTimeSlot
	a.UpdatedAt = time.Now()
	s.state.appts[id] = a
	return &a, nil
}

func (s *memAppointmentStore) Delete(_ context.Context, id uuid.UUID, principal auth.Principal) (*Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	a, ok := s.state.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if principal.Role == auth.RolePatient && a.PatientID != principal.ID {
		return nil, ErrAppointmentNotFound
	}
	if principal.Role == auth.RoleHospital && a.HospitalID != principal.ID {
		return nil, ErrAppointmentNotFound
	}
	delete(s.state.appts, id)
	return &a, nil
}

func (s *memAppointmentStore) UpcomingForPatient(_ context.Context, patientID uuid.UUID, from time.Time, limit int) ([]Appointment, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	var out []Appointment
	for _, a := range s.state.appts {
		if a.PatientID == patientID && a.Status == StatusScheduled && !a.Date.Before(NormalizeDate(from)) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		bi, _ := ParseBucket(out[i].TimeSlot)
		bj, _ := ParseBucket(out[j].TimeSlot)
		return bi.Before(bj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memAppointmentStore) StatsForPatient(_ context.Context, patientID uuid.UUID) (AppointmentStats, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	var stats AppointmentStats
	for _, a := range s.state.appts {
		if a.PatientID != patientID {
			continue
		}
		stats.Total++
		switch a.Status {
		case StatusScheduled:
			stats.Scheduled++
		case StatusCompleted:
			stats.Completed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// memTxManager serializes transactions and restores a snapshot of the whole
// state when the function fails, mirroring a database rollback.
type memTxManager struct {
	state *memState
	txMu  sync.Mutex
}

func (m *memTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.state.mu.Lock()
	slots, appts := m.state.snapshot()
	m.state.mu.Unlock()

	err := fn(ctx, Stores{
		Slots:        &memSlotStore{state: m.state},
		Appointments: &memAppointmentStore{state: m.state},
	})
	if err != nil {
		m.state.mu.Lock()
		m.state.slots = slots
		m.state.appts = appts
		m.state.mu.Unlock()
		return err
	}
	return nil
}

// gatedTxManager parks every transaction at the door until the test opens
// the gate, so racing callers all complete their pre-transaction reads
// against the same stale state before either transaction runs.
type gatedTxManager struct {
	inner   TxManager
	arrived chan struct{}
	gate    chan struct{}
}

func (g *gatedTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	g.arrived <- struct{}{}
	<-g.gate
	return g.inner.WithinTx(ctx, fn)
}

// interceptTxManager runs a hook between a caller's pre-transaction reads
// and its transaction, standing in for a writer that sneaks in between.
type interceptTxManager struct {
	inner  TxManager
	once   sync.Once
	before func()
}

func (m *interceptTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	m.once.Do(m.before)
	return m.inner.WithinTx(ctx, fn)
}

// memLocker blocks until the per-key lock frees, so racing bookers
// serialize the way the Redis lock serializes them in production.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	keyMu, ok := l.locks[key]
	if !ok {
		keyMu = &sync.Mutex{}
		l.locks[key] = keyMu
	}
	l.mu.Unlock()

	keyMu.Lock()
	defer keyMu.Unlock()
	return fn(ctx)
}

type memDirectory struct {
	hospitals map[uuid.UUID]*directory.Hospital
}

func (d *memDirectory) GetHospital(_ context.Context, id uuid.UUID) (*directory.Hospital, error) {
	h, ok := d.hospitals[id]
	if !ok {
		return nil, directory.ErrHospitalNotFound
	}
	return h, nil
}

type fixture struct {
	co       *Coordinator
	state    *memState
	hospital *directory.Hospital
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	state := newMemState()
	hospital := &directory.Hospital{ID: uuid.New(), Name: "City General"}

	co := NewCoordinator(
		&memTxManager{state: state},
		&memSlotStore{state: state},
		&memAppointmentStore{state: state},
		&memDirectory{hospitals: map[uuid.UUID]*directory.Hospital{hospital.ID: hospital}},
		newMemLocker(),
		nil,
		observability.NewBookingMetrics(prometheus.NewRegistry()),
	)

	return &fixture{co: co, state: state, hospital: hospital}
}

func patientPrincipal(name string) auth.Principal {
	return auth.Principal{ID: uuid.New(), Role: auth.RolePatient, Name: name}
}

func (f *fixture) slot(t *testing.T, date time.Time, timeSlot string) SlotRecord {
	t.Helper()
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	rec, ok := f.state.slots[makeSlotKey(f.hospital.ID, date, timeSlot)]
	if !ok {
		t.Fatalf("slot %s %s not materialized", date.Format("2006-01-02"), timeSlot)
	}
	return rec
}

var testDate = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

func TestCreateBooksSlot(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("Asha Rao")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "fever", "")
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, appt.Status)
	require.Equal(t, "City General", appt.HospitalName)
	require.Equal(t, "Asha Rao", appt.PatientName)

	slot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 1, slot.CurrentAppointments)
	require.False(t, slot.IsAvailable)
}

func TestCreateUnknownHospital(t *testing.T) {
	f := newFixture(t)

	_, err := f.co.Create(context.Background(), patientPrincipal("P"), uuid.New(), testDate, "10:00 AM", "", "")
	require.ErrorIs(t, err, directory.ErrHospitalNotFound)
}

func TestCreateRejectsDoubleBooking(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")
	otherHospital := &directory.Hospital{ID: uuid.New(), Name: "Other Clinic"}
	f.co.hospitals.(*memDirectory).hospitals[otherHospital.ID] = otherHospital

	_, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	// Same tuple at a different hospital is still a patient-side conflict.
	_, err = f.co.Create(context.Background(), patient, otherHospital.ID, testDate, "10:00 AM", "", "")
	require.ErrorIs(t, err, ErrSchedulingConflict)
}

func TestCreateFullSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.co.Create(context.Background(), patientPrincipal("A"), f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	_, err = f.co.Create(context.Background(), patientPrincipal("B"), f.hospital.ID, testDate, "10:00 AM", "", "")
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.co.Create(context.Background(), patientPrincipal("P"), f.hospital.ID, testDate, "11:00 AM", "", "")
		}(i)
	}
	wg.Wait()

	var won, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, n-1, unavailable)

	slot := f.slot(t, testDate, "11:00 AM")
	require.Equal(t, 1, slot.CurrentAppointments)
}

func TestConcurrentSamePatientSingleAppointment(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	// Capacity 2 so the second attempt fails on patient uniqueness,
	// not on capacity.
	f.state.mu.Lock()
	key := makeSlotKey(f.hospital.ID, testDate, "01:00 PM")
	f.state.slots[key] = SlotRecord{
		ID: uuid.New(), HospitalID: f.hospital.ID, Date: testDate,
		TimeSlot: "01:00 PM", IsAvailable: true, MaxAppointments: 2,
	}
	f.state.mu.Unlock()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "01:00 PM", "", "")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrSchedulingConflict)
		}
	}
	require.Equal(t, 1, won)

	slot := f.slot(t, testDate, "01:00 PM")
	require.Equal(t, 1, slot.CurrentAppointments, "rolled-back attempts must not leak capacity")
}

func TestCancelReleasesSlot(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	cancelled, err := f.co.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	slot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 0, slot.CurrentAppointments)
	require.True(t, slot.IsAvailable)

	// The freed capacity is immediately bookable by someone else.
	_, err = f.co.Create(context.Background(), patientPrincipal("Q"), f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)
}

func TestCancelIdempotent(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	_, err = f.co.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	_, err = f.co.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)

	slot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 0, slot.CurrentAppointments, "second cancel must not release again")
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	state := newMemState()
	hospital := &directory.Hospital{ID: uuid.New(), Name: "City General"}
	alice := patientPrincipal("Alice")
	bob := patientPrincipal("Bob")

	// Slot with capacity 2, fully booked by Alice and Bob.
	key := makeSlotKey(hospital.ID, testDate, "10:00 AM")
	state.slots[key] = SlotRecord{
		ID: uuid.New(), HospitalID: hospital.ID, Date: testDate,
		TimeSlot: "10:00 AM", MaxAppointments: 2, CurrentAppointments: 2,
	}
	aliceAppt := Appointment{
		ID: uuid.New(), PatientID: alice.ID, PatientName: alice.Name,
		HospitalID: hospital.ID, HospitalName: hospital.Name,
		Date: testDate, TimeSlot: "10:00 AM", Status: StatusScheduled,
	}
	bobAppt := Appointment{
		ID: uuid.New(), PatientID: bob.ID, PatientName: bob.Name,
		HospitalID: hospital.ID, HospitalName: hospital.Name,
		Date: testDate, TimeSlot: "10:00 AM", Status: StatusScheduled,
	}
	state.appts[aliceAppt.ID] = aliceAppt
	state.appts[bobAppt.ID] = bobAppt

	gated := &gatedTxManager{
		inner:   &memTxManager{state: state},
		arrived: make(chan struct{}, 2),
		gate:    make(chan struct{}),
	}
	co := NewCoordinator(
		gated,
		&memSlotStore{state: state},
		&memAppointmentStore{state: state},
		&memDirectory{hospitals: map[uuid.UUID]*directory.Hospital{hospital.ID: hospital}},
		newMemLocker(),
		nil,
		observability.NewBookingMetrics(prometheus.NewRegistry()),
	)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = co.Cancel(context.Background(), bob, bobAppt.ID)
		}(i)
	}

	// Hold both transactions until each caller has read the record while
	// it was still scheduled, then let them race.
	<-gated.arrived
	<-gated.arrived
	close(gated.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	state.mu.Lock()
	slot := state.slots[key]
	kept := state.appts[aliceAppt.ID]
	state.mu.Unlock()

	require.Equal(t, 1, slot.CurrentAppointments, "losing cancel must not release again")
	require.Equal(t, StatusScheduled, kept.Status)
}

func TestCancelAfterRescheduleReleasesMovedSlot(t *testing.T) {
	state := newMemState()
	hospital := &directory.Hospital{ID: uuid.New(), Name: "City General"}
	patient := patientPrincipal("P")
	hospitals := &memDirectory{hospitals: map[uuid.UUID]*directory.Hospital{hospital.ID: hospital}}
	metrics := observability.NewBookingMetrics(prometheus.NewRegistry())
	inner := &memTxManager{state: state}

	plain := NewCoordinator(inner, &memSlotStore{state: state}, &memAppointmentStore{state: state}, hospitals, newMemLocker(), nil, metrics)

	appt, err := plain.Create(context.Background(), patient, hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	// The reschedule lands between Cancel's read and its transaction.
	intercept := &interceptTxManager{
		inner: inner,
		before: func() {
			_, err := plain.Reschedule(context.Background(), patient, appt.ID, testDate, "02:00 PM")
			require.NoError(t, err)
		},
	}
	co := NewCoordinator(intercept, &memSlotStore{state: state}, &memAppointmentStore{state: state}, hospitals, newMemLocker(), nil, metrics)

	cancelled, err := co.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "02:00 PM", cancelled.TimeSlot)

	// The cancel must settle the slot the appointment occupies now, not
	// the one it sat on when the cancel started.
	state.mu.Lock()
	oldSlot := state.slots[makeSlotKey(hospital.ID, testDate, "10:00 AM")]
	newSlot := state.slots[makeSlotKey(hospital.ID, testDate, "02:00 PM")]
	state.mu.Unlock()
	require.Equal(t, 0, oldSlot.CurrentAppointments)
	require.Equal(t, 0, newSlot.CurrentAppointments)
}

func TestCancelCompletedRejected(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	hospital := auth.Principal{ID: f.hospital.ID, Role: auth.RoleHospital, Name: f.hospital.Name}
	_, err = f.co.SetStatus(context.Background(), hospital, appt.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = f.co.Cancel(context.Background(), patient, appt.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleMovesCapacity(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	moved, err := f.co.Reschedule(context.Background(), patient, appt.ID, testDate, "02:00 PM")
	require.NoError(t, err)
	require.Equal(t, "02:00 PM", moved.TimeSlot)

	oldSlot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 0, oldSlot.CurrentAppointments)
	require.True(t, oldSlot.IsAvailable)

	newSlot := f.slot(t, testDate, "02:00 PM")
	require.Equal(t, 1, newSlot.CurrentAppointments)
}

func TestRescheduleToFullSlotLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)
	_, err = f.co.Create(context.Background(), patientPrincipal("Q"), f.hospital.ID, testDate, "02:00 PM", "", "")
	require.NoError(t, err)

	_, err = f.co.Reschedule(context.Background(), patient, appt.ID, testDate, "02:00 PM")
	require.ErrorIs(t, err, ErrSlotUnavailable)

	// The failed move must leave the original booking and both slots intact.
	kept, err := f.co.Get(context.Background(), patient, appt.ID)
	require.NoError(t, err)
	require.Equal(t, "10:00 AM", kept.TimeSlot)
	require.Equal(t, StatusScheduled, kept.Status)

	oldSlot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 1, oldSlot.CurrentAppointments)
}

func TestRescheduleSameTupleNoOp(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	same, err := f.co.Reschedule(context.Background(), patient, appt.ID, testDate, "10:00 AM")
	require.NoError(t, err)
	require.Equal(t, appt.ID, same.ID)

	slot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 1, slot.CurrentAppointments)
}

func TestRescheduleCancelledRejected(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)
	_, err = f.co.Cancel(context.Background(), patient, appt.ID)
	require.NoError(t, err)

	_, err = f.co.Reschedule(context.Background(), patient, appt.ID, testDate, "02:00 PM")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatusHospitalOnly(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	_, err = f.co.SetStatus(context.Background(), patient, appt.ID, StatusConfirmed)
	require.ErrorIs(t, err, ErrForbidden)

	hospital := auth.Principal{ID: f.hospital.ID, Role: auth.RoleHospital, Name: f.hospital.Name}
	confirmed, err := f.co.SetStatus(context.Background(), hospital, appt.ID, StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	// Confirmation keeps the slot consumed.
	slot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 1, slot.CurrentAppointments)

	// Cancellation has to go through Cancel so capacity is released.
	_, err = f.co.SetStatus(context.Background(), hospital, appt.ID, StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteActiveReleasesSlot(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")

	appt, err := f.co.Create(context.Background(), patient, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	require.NoError(t, f.co.Delete(context.Background(), patient, appt.ID))

	slot := f.slot(t, testDate, "10:00 AM")
	require.Equal(t, 0, slot.CurrentAppointments)

	_, err = f.co.Get(context.Background(), patient, appt.ID)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestSlotsForDateMaterializesTemplate(t *testing.T) {
	f := newFixture(t)

	slots, err := f.co.SlotsForDate(context.Background(), f.hospital.ID, testDate)
	require.NoError(t, err)
	require.Len(t, slots, len(DefaultBuckets))
	for _, bucket := range DefaultBuckets {
		require.True(t, slots[bucket], "template slot %s should start available", bucket)
	}
}

func TestSlotsForDateReflectsBookings(t *testing.T) {
	f := newFixture(t)

	_, err := f.co.Create(context.Background(), patientPrincipal("P"), f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)

	slots, err := f.co.SlotsForDate(context.Background(), f.hospital.ID, testDate)
	require.NoError(t, err)
	require.False(t, slots["10:00 AM"])
}

func TestUpsertSlotOwnerOnly(t *testing.T) {
	f := newFixture(t)
	owner := auth.Principal{ID: f.hospital.ID, Role: auth.RoleHospital, Name: f.hospital.Name}

	rec, err := f.co.UpsertSlot(context.Background(), owner, f.hospital.ID, testDate, "10:00 AM", false)
	require.NoError(t, err)
	require.False(t, rec.IsAvailable)

	// A disabled slot rejects bookings even with capacity remaining.
	_, err = f.co.Create(context.Background(), patientPrincipal("P"), f.hospital.ID, testDate, "10:00 AM", "", "")
	require.ErrorIs(t, err, ErrSlotUnavailable)

	stranger := auth.Principal{ID: uuid.New(), Role: auth.RoleHospital, Name: "Other"}
	_, err = f.co.UpsertSlot(context.Background(), stranger, f.hospital.ID, testDate, "10:00 AM", true)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.co.UpsertSlot(context.Background(), patientPrincipal("P"), f.hospital.ID, testDate, "10:00 AM", true)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestPatientDashboard(t *testing.T) {
	f := newFixture(t)
	patient := patientPrincipal("P")
	date := NormalizeDate(time.Now().AddDate(0, 1, 0))

	afternoon, err := f.co.Create(context.Background(), patient, f.hospital.ID, date, "02:00 PM", "", "")
	require.NoError(t, err)
	morning, err := f.co.Create(context.Background(), patient, f.hospital.ID, date, "10:00 AM", "", "")
	require.NoError(t, err)
	cancelled, err := f.co.Create(context.Background(), patient, f.hospital.ID, date, "11:00 AM", "", "")
	require.NoError(t, err)
	_, err = f.co.Cancel(context.Background(), patient, cancelled.ID)
	require.NoError(t, err)

	upcoming, stats, err := f.co.PatientDashboard(context.Background(), patient)
	require.NoError(t, err)

	// Soonest first, and the morning bucket sorts before the afternoon one.
	require.Len(t, upcoming, 2)
	require.Equal(t, morning.ID, upcoming[0].ID)
	require.Equal(t, afternoon.ID, upcoming[1].ID)

	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.Scheduled)
	require.Equal(t, 1, stats.Cancelled)
	require.Equal(t, 0, stats.Completed)

	hospital := auth.Principal{ID: f.hospital.ID, Role: auth.RoleHospital, Name: f.hospital.Name}
	_, _, err = f.co.PatientDashboard(context.Background(), hospital)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestListScopedToPrincipal(t *testing.T) {
	f := newFixture(t)
	alice := patientPrincipal("Alice")
	bob := patientPrincipal("Bob")

	_, err := f.co.Create(context.Background(), alice, f.hospital.ID, testDate, "10:00 AM", "", "")
	require.NoError(t, err)
	_, err = f.co.Create(context.Background(), bob, f.hospital.ID, testDate, "11:00 AM", "", "")
	require.NoError(t, err)

	mine, err := f.co.List(context.Background(), alice, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, alice.ID, mine[0].PatientID)

	hospital := auth.Principal{ID: f.hospital.ID, Role: auth.RoleHospital, Name: f.hospital.Name}
	all, err := f.co.List(context.Background(), hospital, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
