package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/notify"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recorder is a Notifier that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// profileStub serves display names from a map.
type profileStub struct {
	names map[string]string
}

func (p *profileStub) CreateProfile(*models.Profile) error { return nil }

func (p *profileStub) GetProfileByUID(uid string) (*models.Profile, error) {
	name, ok := p.names[uid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.Profile{UID: uid, DisplayName: name}, nil
}

func (p *profileStub) GetProfileByEmail(string) (*models.Profile, error) {
	return nil, gorm.ErrRecordNotFound
}

func (p *profileStub) GetProfilesByUIDs([]string) ([]models.Profile, error) { return nil, nil }
func (p *profileStub) UpdateProfile(*models.Profile) error                  { return nil }
func (p *profileStub) DeleteProfile(string) error                           { return nil }

func (p *profileStub) SearchProfiles(string, int) ([]models.Profile, error) { return nil, nil }

type fixture struct {
	repo     *repositories.MemoryConnectionRepository
	svc      *ConnectionService
	notifier *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repositories.NewMemoryConnectionRepository()
	names, err := NewNameResolver(nil, &profileStub{names: map[string]string{"alice": "Alice", "bob": "Bob"}}, 16, zap.NewNop())
	require.NoError(t, err)
	rec := &recorder{}
	return &fixture{
		repo:     repo,
		svc:      NewConnectionService(repo, names, rec, zap.NewNop()),
		notifier: rec,
	}
}
