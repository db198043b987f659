package services

import (
	"context"
	"errors"
	"time"

	"github.com/akram-events/apiserver/internal/clock"
	"github.com/akram-events/apiserver/internal/store"
	"github.com/akram-events/apiserver/types"
)

// ErrCancellationWindowClosed is returned when a cancellation arrives
// later than the cutoff allows.
var ErrCancellationWindowClosed = errors.New("cancellation window closed")

// Cancellation is allowed only while strictly more than this much time
// remains before the event. Exactly at the boundary it is refused.
const defaultCancelCutoff = 15 * 24 * time.Hour

// EventRepository defines persistence operations for events and rosters.
type EventRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.Event, int, error)
	Get(ctx context.Context, id int) (types.Event, error)
	Create(ctx context.Context, event types.Event) (types.Event, error)
	Update(ctx context.Context, event types.Event) (types.Event, error)
	Delete(ctx context.Context, id int) error
	SetPosterKey(ctx context.Context, id int, key string) error
	AddRegistration(ctx context.Context, eventID, userID int) error
	RemoveRegistration(ctx context.Context, eventID, userID int) error
	Registrants(ctx context.Context, eventID int) ([]types.User, error)
}

// EventService encapsulates event use-cases, including the
// registration state machine.
type EventService struct {
	repo         EventRepository
	clock        clock.Clock
	cancelCutoff time.Duration
}

type EventServiceOption func(*EventService)

// WithCancelCutoff overrides the cancellation cutoff window.
func WithCancelCutoff(d time.Duration) EventServiceOption {
	return func(s *EventService) {
		if d > 0 {
			s.cancelCutoff = d
		}
	}
}

func NewEventService(repo EventRepository, clk clock.Clock, opts ...EventServiceOption) *EventService {
	svc := &EventService{
		repo:         repo,
		clock:        clk,
		cancelCutoff: defaultCancelCutoff,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *EventService) List(ctx context.Context, offset, limit int) ([]types.Event, int, error) {
	return s.repo.List(ctx, offset, limit)
}

func (s *EventService) Get(ctx context.Context, id int) (types.Event, error) {
	return s.repo.Get(ctx, id)
}

func (s *EventService) Create(ctx context.Context, event types.Event) (types.Event, error) {
	return s.repo.Create(ctx, event)
}

func (s *EventService) Update(ctx context.Context, event types.Event) (types.Event, error) {
	return s.repo.Update(ctx, event)
}

func (s *EventService) Delete(ctx context.Context, id int) error {
	return s.repo.Delete(ctx, id)
}

// SetPoster records the storage key of the event's poster image.
func (s *EventService) SetPoster(ctx context.Context, id int, key string) error {
	return s.repo.SetPosterKey(ctx, id, key)
}

// Roster lists the users registered for the event.
func (s *EventService) Roster(ctx context.Context, eventID int) ([]types.User, error) {
	if _, err := s.repo.Get(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.Registrants(ctx, eventID)
}

// Register adds the user to the event roster. The insert is at-most-once:
// of two concurrent registrations for the same pair exactly one succeeds
// and the other observes store.ErrAlreadyRegistered.
func (s *EventService) Register(ctx context.Context, eventID, userID int) (types.Event, error) {
	if err := s.repo.AddRegistration(ctx, eventID, userID); err != nil {
		return types.Event{}, err
	}
	return s.repo.Get(ctx, eventID)
}

// Cancel removes the user from the event roster, provided strictly more
// than the cutoff window remains before the event. The roster is left
// unchanged when the window has closed.
func (s *EventService) Cancel(ctx context.Context, eventID, userID int) (types.Event, error) {
	event, err := s.repo.Get(ctx, eventID)
	if err != nil {
		return types.Event{}, err
	}
	if !event.IsRegistered(userID) {
		return types.Event{}, store.ErrNotRegistered
	}
	if event.Date.Sub(s.clock.Now()) <= s.cancelCutoff {
		return types.Event{}, ErrCancellationWindowClosed
	}
	if err := s.repo.RemoveRegistration(ctx, eventID, userID); err != nil {
		return types.Event{}, err
	}
	return s.repo.Get(ctx, eventID)
}
