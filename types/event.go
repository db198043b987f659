package types

import "time"

// Event represents a published event members can register for.
type Event struct {
	// ID is the unique identifier of the event.
	ID int `json:"id" db:"id"`

	// Title is the event's display title.
	Title string `json:"title" db:"title"`

	// Date is the instant the event takes place.
	Date time.Time `json:"date" db:"date"`

	// Location is a free-form venue description.
	Location string `json:"location" db:"location"`

	// Description is the event's long-form description.
	Description string `json:"description" db:"description"`

	// Organizer names the organizing person or group.
	Organizer string `json:"organizer" db:"organizer"`

	// PosterKey is the object-storage key of the event poster,
	// empty when no poster was uploaded.
	PosterKey string `json:"-" db:"poster_key"`

	// RegisteredUsers holds the IDs of users registered for the event.
	// Membership is a set; a user appears at most once.
	RegisteredUsers []int `json:"registered_users"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the event.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsRegistered reports whether the given user is on the event roster.
func (e Event) IsRegistered(userID int) bool {
	for _, id := range e.RegisteredUsers {
		if id == userID {
			return true
		}
	}
	return false
}
