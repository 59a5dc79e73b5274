// Package room implements the authoritative room store from spec.md §4.3:
// rooms, membership, playback state, and cursors, all mediated through
// the KV/PubSub port so the same code runs standalone or clustered.
package room

import "time"

// Room is the stable, rarely-changing metadata for one watch party.
type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"` // ms since epoch; never changes once set
	MaxUsers  int    `json:"maxUsers"`
	IsPublic  bool   `json:"isPublic"`
}

// User is one connected session's presence record.
type User struct {
	ID          string `json:"id"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
	Flag        string `json:"flag"`
	ConnectedAt int64  `json:"connectedAt"`
	LastSeen    int64  `json:"lastSeen"`
	Instance    string `json:"instance"`
}

// VideoState is the server-authoritative playback position for a room.
type VideoState struct {
	IsPlaying       bool    `json:"isPlaying"`
	CurrentTime     float64 `json:"currentTime"`
	Duration        float64 `json:"duration"`
	ServerTimestamp int64   `json:"serverTimestamp"`
	LastUpdateTime  int64   `json:"lastUpdateTime"`
}

// Cursor is one user's ephemeral pointer position.
type Cursor struct {
	UserID    string  `json:"userId"`
	City      string  `json:"city"`
	Flag      string  `json:"flag"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// Reaction is one ephemeral emoji burst.
type Reaction struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	City      string  `json:"city"`
	Flag      string  `json:"flag"`
	Emoji     string  `json:"emoji"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VideoTime float64 `json:"videoTime"`
	Timestamp int64   `json:"timestamp"`
}

// VideoStatePartial carries only the fields a caller wants to overwrite
// via Manager.SetVideoState; nil fields are left untouched.
type VideoStatePartial struct {
	IsPlaying   *bool
	CurrentTime *float64
}

// CreateOptions customizes CreateRoom beyond the required id/creator.
type CreateOptions struct {
	Name     string
	MaxUsers int
	IsPublic *bool
}

func nowMillis() int64 { return time.Now().UnixMilli() }
