package filter

import (
	"encoding/json"
	"slices"
)

// BotSet is an ordered set of bot ids. Operations return new sets;
// the backing slice is never modified after construction.
type BotSet struct {
	ids []string
}

// NewBotSet builds a set from ids, dropping blanks and duplicates
// while keeping first-seen order.
func NewBotSet(ids ...string) BotSet {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return BotSet{ids: out}
}

// IDs returns a copy of the members in order.
func (b BotSet) IDs() []string {
	return slices.Clone(b.ids)
}

func (b BotSet) Len() int    { return len(b.ids) }
func (b BotSet) Empty() bool { return len(b.ids) == 0 }

// Contains reports whether id is a member.
func (b BotSet) Contains(id string) bool {
	return slices.Contains(b.ids, id)
}

// With returns a set that also contains id.
func (b BotSet) With(id string) BotSet {
	if id == "" || b.Contains(id) {
		return b
	}
	return BotSet{ids: append(slices.Clone(b.ids), id)}
}

// Without returns a set with id removed.
func (b BotSet) Without(id string) BotSet {
	i := slices.Index(b.ids, id)
	if i < 0 {
		return b
	}
	return BotSet{ids: slices.Delete(slices.Clone(b.ids), i, i+1)}
}

// Equal reports whether both sets hold the same members in the
// same order.
func (b BotSet) Equal(o BotSet) bool {
	return slices.Equal(b.ids, o.ids)
}

func (b BotSet) MarshalJSON() ([]byte, error) {
	if b.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.ids)
}

func (b *BotSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*b = NewBotSet(ids...)
	return nil
}
