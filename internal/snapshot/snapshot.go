package snapshot

import (
	"context"
	"time"
)

// Snapshot is a point-in-time copy of the harvester's entity caches.
type Snapshot struct {
	// Map of userID -> profile
	Users map[string]User `json:"users"`

	// Map of channelID -> channel name and members
	Channels map[string]Channel `json:"channels"`

	TeamDomain string `json:"teamDomain,omitempty"`

	// Time the snapshot was taken
	GeneratedAt time.Time `json:"generatedAt"`
}

// User is a cached user profile.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Channel is a cached channel with its member ids.
type Channel struct {
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}

// New returns an empty snapshot stamped with now.
func New() Snapshot {
	return Snapshot{
		Users:       make(map[string]User),
		Channels:    make(map[string]Channel),
		GeneratedAt: time.Now().UTC(),
	}
}

// countMembers counts member entries across all channels
func countMembers(channels map[string]Channel) int {
	count := 0
	for _, ch := range channels {
		count += len(ch.Members)
	}
	return count
}

// Sink persists snapshots.
type Sink interface {
	Save(ctx context.Context, s Snapshot) error
}

// Source restores snapshots.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Source
}
