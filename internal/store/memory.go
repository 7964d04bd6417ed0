// Package store provides storage backends for the chatbot service.
//
// This file implements an in-memory store used by tests and ephemeral runs.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/util"
)

// InMemoryStore is a mutex-guarded map-backed Store and JobRepo. It mirrors
// the SQL backends' semantics closely enough for service-level tests,
// including the conditional-write fences and reminder dedupe.
type InMemoryStore struct {
	mu sync.Mutex

	categories  map[int64]models.Category
	offerings   map[int64]models.Offering
	sessions    map[int64]models.Session
	users       map[int64]models.User
	nextUserID  int64
	flows       map[string]models.Flow
	enrollments map[string]models.Enrollment
	payments    map[string]models.Payment
	reminders   map[string]models.Reminder
	jobs        map[string]Job
}

// Compile-time checks.
var (
	_ Store   = (*InMemoryStore)(nil)
	_ JobRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		categories:  make(map[int64]models.Category),
		offerings:   make(map[int64]models.Offering),
		sessions:    make(map[int64]models.Session),
		users:       make(map[int64]models.User),
		flows:       make(map[string]models.Flow),
		enrollments: make(map[string]models.Enrollment),
		payments:    make(map[string]models.Payment),
		reminders:   make(map[string]models.Reminder),
		jobs:        make(map[string]Job),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// --- Seeding helpers (tests only have read access through Store) ---

// SeedCategory inserts or replaces a catalog category.
func (s *InMemoryStore) SeedCategory(c models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// SeedOffering inserts or replaces a catalog offering.
func (s *InMemoryStore) SeedOffering(o models.Offering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerings[o.ID] = o
}

// SeedSession inserts or replaces a course session.
func (s *InMemoryStore) SeedSession(sess models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func offeringAvailable(o models.Offering, now time.Time) bool {
	if !o.IsActive || !o.Published(now) {
		return false
	}
	if o.Type == models.OfferingTypeEvent && o.StartAt != nil && !o.StartAt.After(now) {
		return false
	}
	return true
}

// --- Catalog ---

func (s *InMemoryStore) GetCategory(id int64) (*models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.categories[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListCategoriesWithOfferings(t models.OfferingType, now time.Time) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var categories []models.Category
	for _, c := range s.categories {
		if !c.IsActive {
			continue
		}
		for _, o := range s.offerings {
			if o.CategoryID == c.ID && o.Type == t && offeringAvailable(o, now) {
				categories = append(categories, c)
				break
			}
		}
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].DisplayOrder != categories[j].DisplayOrder {
			return categories[i].DisplayOrder < categories[j].DisplayOrder
		}
		return categories[i].Name < categories[j].Name
	})
	return categories, nil
}

func (s *InMemoryStore) GetOffering(id int64) (*models.Offering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.offerings[id]; ok {
		return &o, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListOfferingsByCategory(categoryID int64, t models.OfferingType, now time.Time, limit int) ([]models.Offering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var offerings []models.Offering
	for _, o := range s.offerings {
		if o.CategoryID == categoryID && o.Type == t && offeringAvailable(o, now) {
			offerings = append(offerings, o)
		}
	}
	sort.Slice(offerings, func(i, j int) bool {
		ti, tj := offerings[i].CreatedAt, offerings[j].CreatedAt
		if offerings[i].StartAt != nil {
			ti = *offerings[i].StartAt
		}
		if offerings[j].StartAt != nil {
			tj = *offerings[j].StartAt
		}
		return ti.Before(tj)
	})
	if limit > 0 && len(offerings) > limit {
		offerings = offerings[:limit]
	}
	return offerings, nil
}

func (s *InMemoryStore) ListSessions(offeringID int64) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []models.Session
	for _, sess := range s.sessions {
		if sess.OfferingID == offeringID {
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionNumber < sessions[j].SessionNumber
	})
	return sessions, nil
}

// --- Users ---

func (s *InMemoryStore) GetUserByPhone(phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.PhoneNumber == phone {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetUserByEmail(email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateUser(u models.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u.ID = s.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = u
	return u.ID, nil
}

// --- Flows ---

func (s *InMemoryStore) GetFlow(phone string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[phone]; ok {
		cp := f
		cp.Context = make(map[string]string, len(f.Context))
		for k, v := range f.Context {
			cp.Context[k] = v
		}
		return &cp, nil
	}
	return nil, nil
}

func (s *InMemoryStore) SaveFlow(f models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := f
	cp.Context = make(map[string]string, len(f.Context))
	for k, v := range f.Context {
		cp.Context[k] = v
	}
	s.flows[f.PhoneNumber] = cp
	return nil
}

func (s *InMemoryStore) DeleteFlow(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, phone)
	return nil
}

func (s *InMemoryStore) DeleteExpiredFlows(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for phone, f := range s.flows {
		if !f.ExpiresAt.After(now) {
			delete(s.flows, phone)
			n++
		}
	}
	return n, nil
}

// --- Enrollments ---

func (s *InMemoryStore) CreateEnrollment(e models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.enrollments[e.ID] = e
	return nil
}

func (s *InMemoryStore) GetEnrollmentByPayment(paymentID string) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.PaymentID == paymentID {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func enrollmentActive(status models.EnrollmentStatus) bool {
	return status == models.EnrollmentStatusPending || status == models.EnrollmentStatusConfirmed
}

func (s *InMemoryStore) GetActiveEnrollment(phone string, offeringID int64) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Enrollment
	for _, e := range s.enrollments {
		if e.PhoneNumber == phone && e.OfferingID == offeringID && enrollmentActive(e.Status) {
			cp := e
			if latest == nil || cp.CreatedAt.After(latest.CreatedAt) {
				latest = &cp
			}
		}
	}
	return latest, nil
}

func (s *InMemoryStore) ListActiveEnrollments(phone string, limit int) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var enrollments []models.Enrollment
	for _, e := range s.enrollments {
		if e.PhoneNumber == phone && enrollmentActive(e.Status) {
			enrollments = append(enrollments, e)
		}
	}
	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].CreatedAt.After(enrollments[j].CreatedAt)
	})
	if limit > 0 && len(enrollments) > limit {
		enrollments = enrollments[:limit]
	}
	return enrollments, nil
}

func (s *InMemoryStore) CountConfirmedEnrollments(offeringID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.enrollments {
		if e.OfferingID == offeringID && e.Status == models.EnrollmentStatusConfirmed {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) UpdateEnrollmentStatus(id string, status models.EnrollmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	s.enrollments[id] = e
	return nil
}

// --- Payments ---

func (s *InMemoryStore) CreatePayment(p models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.payments[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPayment(id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetPaymentByReference(ref string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ReferenceNumber == ref {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) MarkPaymentPaid(id string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status.Terminal() {
		return false, nil
	}
	p.Status = models.PaymentStatusPaid
	p.PaidAt = &paidAt
	p.UpdatedAt = time.Now()
	s.payments[id] = p
	return true, nil
}

func (s *InMemoryStore) MarkPaymentFailed(id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status.Terminal() {
		return false, nil
	}
	p.Status = models.PaymentStatusFailed
	p.FailedReason = reason
	p.UpdatedAt = time.Now()
	s.payments[id] = p
	return true, nil
}

func (s *InMemoryStore) MarkPaymentRefunded(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusPaid {
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	p.UpdatedAt = time.Now()
	s.payments[id] = p
	return true, nil
}

func (s *InMemoryStore) MarkPaymentProcessing(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusProcessing
	p.UpdatedAt = time.Now()
	s.payments[id] = p
	return true, nil
}

func (s *InMemoryStore) FlagPaymentTimeout(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.TimeoutFlagged = true
		p.UpdatedAt = time.Now()
		s.payments[id] = p
	}
	return nil
}

func (s *InMemoryStore) RecordPaymentError(id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.LastError = msg
		p.UpdatedAt = time.Now()
		s.payments[id] = p
	}
	return nil
}

// --- Reminders ---

func (s *InMemoryStore) CreateReminder(r models.Reminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reminders {
		if existing.EnrollmentID == r.EnrollmentID && existing.Type == r.Type && existing.SessionID == r.SessionID {
			return false, nil
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.reminders[r.ID] = r
	return true, nil
}

func (s *InMemoryStore) ClaimDueReminders(now time.Time, limit int) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderStatusPending && !r.ScheduledFor.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	lockedAt := now
	for i, r := range due {
		r.Status = models.ReminderStatusSending
		r.LockedAt = &lockedAt
		s.reminders[r.ID] = r
		due[i] = r
	}
	return due, nil
}

func (s *InMemoryStore) RequeueStaleSendingReminders(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.Status == models.ReminderStatusSending && r.LockedAt != nil && r.LockedAt.Before(staleBefore) {
			r.Status = models.ReminderStatusPending
			r.LockedAt = nil
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) MarkReminderSent(id string, sentAt time.Time, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status != models.ReminderStatusSending {
		return false, nil
	}
	r.Status = models.ReminderStatusSent
	r.SentAt = &sentAt
	r.LockedAt = nil
	r.ProviderMessageID = providerMessageID
	s.reminders[id] = r
	return true, nil
}

func (s *InMemoryStore) RecordReminderFailure(id, errMsg string, retryCount int, final bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	r.RetryCount = retryCount
	r.LastError = errMsg
	r.LockedAt = nil
	if final {
		r.Status = models.ReminderStatusFailed
	} else {
		r.Status = models.ReminderStatusPending
	}
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) CancelPendingReminders(enrollmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.EnrollmentID == enrollmentID && r.Status == models.ReminderStatusPending {
			r.Status = models.ReminderStatusCancelled
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

// GetReminder retrieves a reminder by ID. Test helper.
func (s *InMemoryStore) GetReminder(id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reminders[id]; ok {
		return &r, nil
	}
	return nil, nil
}

// ListRemindersByEnrollment returns all reminders for an enrollment. Test helper.
func (s *InMemoryStore) ListRemindersByEnrollment(enrollmentID string) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if r.EnrollmentID == enrollmentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

// --- Jobs ---

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled && j.Status != JobStatusFailed {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := Job{
		ID:          util.GenerateJobID(),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: DefaultJobMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		j := s.jobs[due[i].ID]
		j.Status = JobStatusRunning
		t := now
		j.LockedAt = &t
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		due[i] = j
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusDone
		j.UpdatedAt = time.Now()
		s.jobs[id] = j
	}
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
		s.jobs[id] = j
		return true, nil
	}
	j.Status = JobStatusQueued
	j.RunAt = nextRunAt
	s.jobs[id] = j
	return false, nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusCanceled
		j.LockedAt = nil
		j.UpdatedAt = time.Now()
		s.jobs[id] = j
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return &j, nil
	}
	return nil, nil
}
