package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/events"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/testutil"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	db    *gorm.DB
	repos *repository.Repositories
	svc   *Services
	pub   *recordingPublisher
	clock *clock
	store *testutil.FakeObjectStore
}

func setupServices(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewServices(repos, nil, opts)

	env := &testEnv{
		db:    db,
		repos: repos,
		svc:   svc,
		pub:   &recordingPublisher{},
		clock: &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		store: testutil.NewFakeObjectStore(),
	}
	svc.SetPublisher(env.pub)
	svc.SetClock(env.clock.Now)
	svc.SetObjectStore(env.store)
	return env
}

func TestNewServicesDefaults(t *testing.T) {
	env := setupServices(t, Options{DueSoonDays: -1})
	if env.svc.Compliance.dueSoonDays != 3 {
		t.Errorf("negative threshold should fall back to 3, got %d", env.svc.Compliance.dueSoonDays)
	}
	if env.svc.Photo.expiry != 15*time.Minute {
		t.Errorf("photo expiry = %v, want 15m default", env.svc.Photo.expiry)
	}
}
