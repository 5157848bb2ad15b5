package client

import (
	"sort"

	"driftline/server/internal/net/proto"
)

// smoothingFactor is the fraction of the remaining distance a render position
// covers per tick. The same factor applies regardless of distance, so a
// teleporting peer eases toward its new position instead of snapping.
const smoothingFactor = 0.18

// RemoteAvatar is one peer's view state: the last authoritative position from
// a players broadcast plus the independently smoothed render position.
type RemoteAvatar struct {
	ID          string
	TargetX     float64
	TargetY     float64
	RenderX     float64
	RenderY     float64
	FacingRight bool
	Name        string
	Avatar      string
	HasRod      bool
	RodSprite   string
	HeldSprite  string
	HeldWeight  float64
	HeldRarity  string
	Money       int
	PingMs      int64
}

// Tracker maintains the set of remote avatars keyed by connection id. Ids are
// stable per connection and never reused, so a reconnecting peer appears as a
// new avatar rather than teleporting an old one.
type Tracker struct {
	selfID  string
	avatars map[string]*RemoteAvatar
}

func NewTracker() *Tracker {
	return &Tracker{avatars: make(map[string]*RemoteAvatar)}
}

// SetSelfID records the local connection id so the local avatar is excluded
// from tracking. Call it again after every reconnect.
func (t *Tracker) SetSelfID(id string) {
	t.selfID = id
}

// Observe applies one players broadcast: targets update, newly seen peers
// spawn at their reported position, and peers absent from the broadcast are
// pruned.
func (t *Tracker) Observe(players []proto.PlayerSnapshot) {
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if p.ID == "" || p.ID == t.selfID {
			continue
		}
		seen[p.ID] = struct{}{}

		avatar, ok := t.avatars[p.ID]
		if !ok {
			avatar = &RemoteAvatar{ID: p.ID, RenderX: p.X, RenderY: p.Y}
			t.avatars[p.ID] = avatar
		}
		avatar.TargetX = p.X
		avatar.TargetY = p.Y
		avatar.FacingRight = p.FacingRight
		avatar.Name = p.Name
		avatar.Avatar = p.Avatar
		avatar.HasRod = p.HasRod
		avatar.RodSprite = p.RodSprite
		avatar.HeldSprite = p.HeldSprite
		avatar.HeldWeight = p.HeldWeight
		avatar.HeldRarity = p.HeldRarity
		avatar.Money = p.Money
		avatar.PingMs = p.PingMs
	}

	for id := range t.avatars {
		if _, ok := seen[id]; !ok {
			delete(t.avatars, id)
		}
	}
}

// Step advances every render position one tick toward its target.
func (t *Tracker) Step() {
	for _, avatar := range t.avatars {
		avatar.RenderX += (avatar.TargetX - avatar.RenderX) * smoothingFactor
		avatar.RenderY += (avatar.TargetY - avatar.RenderY) * smoothingFactor
	}
}

// Avatars returns a stable-ordered copy of the tracked peers.
func (t *Tracker) Avatars() []RemoteAvatar {
	out := make([]RemoteAvatar, 0, len(t.avatars))
	for _, avatar := range t.avatars {
		out = append(out, *avatar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the tracked avatar for one connection id.
func (t *Tracker) Lookup(id string) (RemoteAvatar, bool) {
	avatar, ok := t.avatars[id]
	if !ok {
		return RemoteAvatar{}, false
	}
	return *avatar, true
}
