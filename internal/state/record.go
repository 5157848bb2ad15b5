package state

import "strings"

// HotbarSlots is the number of hotbar slots carried in a saved blob.
const HotbarSlots = 5

// Item is one inventory entry inside a saved blob. The relay never interprets
// these fields beyond the wire-identity matching below; everything else is
// round-tripped verbatim for the game client.
type Item struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name,omitempty"`
	Sprite string  `json:"sprite"`
	Type   string  `json:"type,omitempty"`
	Rarity string  `json:"rarity,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	Price  int     `json:"price,omitempty"`
	Count  int     `json:"count,omitempty"`
}

// MatchesWire reports whether two items describe the same thing across a
// gift or trade. Unique ids are assigned per persistence context, so identity
// on the wire is (sprite, weight) for weighted items and (sprite, type)
// otherwise.
func (i Item) MatchesWire(other Item) bool {
	if i.Sprite != other.Sprite {
		return false
	}
	if i.Weight > 0 || other.Weight > 0 {
		return i.Weight == other.Weight
	}
	return i.Type == other.Type
}

// Blob is the opaque saved progress for one player. Name and Passcode ride
// along on save-state payloads so the relay can re-check ownership before
// writing; the remaining fields belong to the game client.
type Blob struct {
	Name         string          `json:"name,omitempty"`
	Passcode     string          `json:"passcode,omitempty"`
	Money        int             `json:"money"`
	X            float64         `json:"x"`
	Y            float64         `json:"y"`
	DevMode      bool            `json:"devMode,omitempty"`
	NextItemID   int64           `json:"nextItemId"`
	SellFilters  map[string]bool `json:"sellFilters,omitempty"`
	Inventory    []Item          `json:"inventory"`
	Hotbar       []*int64        `json:"hotbar"`
	SelectedSlot int             `json:"selectedSlot"`
}

// NewBlob returns an empty blob with a normalized hotbar.
func NewBlob() Blob {
	return Blob{Hotbar: make([]*int64, HotbarSlots)}
}

// Clone returns a deep copy so callers can hand blobs across goroutines
// without sharing the inventory or hotbar slices.
func (b Blob) Clone() Blob {
	cloned := b
	if b.Inventory != nil {
		cloned.Inventory = make([]Item, len(b.Inventory))
		copy(cloned.Inventory, b.Inventory)
	}
	if b.Hotbar != nil {
		cloned.Hotbar = make([]*int64, len(b.Hotbar))
		for i, ref := range b.Hotbar {
			if ref != nil {
				id := *ref
				cloned.Hotbar[i] = &id
			}
		}
	}
	if b.SellFilters != nil {
		cloned.SellFilters = make(map[string]bool, len(b.SellFilters))
		for k, v := range b.SellFilters {
			cloned.SellFilters[k] = v
		}
	}
	return cloned
}

// Normalize pads or trims the hotbar to exactly HotbarSlots entries and drops
// hotbar references that no longer resolve to an inventory item.
func (b *Blob) Normalize() {
	if b == nil {
		return
	}
	known := make(map[int64]struct{}, len(b.Inventory))
	for _, item := range b.Inventory {
		known[item.ID] = struct{}{}
	}
	hotbar := make([]*int64, HotbarSlots)
	for i := 0; i < HotbarSlots && i < len(b.Hotbar); i++ {
		ref := b.Hotbar[i]
		if ref == nil {
			continue
		}
		if _, ok := known[*ref]; ok {
			id := *ref
			hotbar[i] = &id
		}
	}
	b.Hotbar = hotbar
	if b.SelectedSlot < 0 || b.SelectedSlot >= HotbarSlots {
		b.SelectedSlot = 0
	}
}

// TakeItem removes one unit of the inventory item with the given unique id
// and returns the removed unit. Stacks decrement; the last unit removes the
// entry and drops any hotbar reference to it.
func (b *Blob) TakeItem(id int64) (Item, bool) {
	if b == nil {
		return Item{}, false
	}
	for i, item := range b.Inventory {
		if item.ID != id {
			continue
		}
		taken := item
		if item.Count > 1 {
			b.Inventory[i].Count--
			taken.Count = 1
			return taken, true
		}
		b.Inventory = append(b.Inventory[:i], b.Inventory[i+1:]...)
		b.Normalize()
		return taken, true
	}
	return Item{}, false
}

// AddItem inserts an item received over the wire. Unique ids never travel
// between persistence contexts, so the item is assigned a fresh id here;
// stackable unweighted items merge into an existing matching stack instead.
func (b *Blob) AddItem(item Item) Item {
	if b == nil {
		return item
	}
	if item.Count > 0 && item.Weight == 0 {
		for i, existing := range b.Inventory {
			if existing.Count > 0 && existing.MatchesWire(item) {
				b.Inventory[i].Count += item.Count
				return b.Inventory[i]
			}
		}
	}
	b.NextItemID++
	item.ID = b.NextItemID
	b.Inventory = append(b.Inventory, item)
	return item
}

// ItemByID returns the inventory item with the given unique id.
func (b *Blob) ItemByID(id int64) (Item, bool) {
	if b == nil {
		return Item{}, false
	}
	for _, item := range b.Inventory {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// NamesEqualFold reports whether two display names match case-insensitively.
// Lookups prefer the exact casing and fall back to this comparison.
func NamesEqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
