package core

import "fmt"

// SlimTarget is the slimmed down form of a Target that travels between
// tasks. It carries only what a request handler needs to address the
// target, not the accumulated statistics of the full document.
type SlimTarget struct {
	// ID of the corresponding Target, empty if the target has not
	// been persisted yet.
	ID string `json:"id,omitempty" bson:"id,omitempty"`
	// Tags of the corresponding Target.
	Tags []string `json:"tags,omitempty" bson:"tags,omitempty"`
	// Kwargs of the corresponding Target. These seed the first
	// request of a stage.
	Kwargs Kwargs `json:"kwargs,omitempty" bson:"kwargs,omitempty"`
}

// Clone returns a deep copy.
func (t SlimTarget) Clone() SlimTarget {
	return SlimTarget{
		ID:     t.ID,
		Tags:   append([]string(nil), t.Tags...),
		Kwargs: t.Kwargs.Clone(),
	}
}

// Update merges other into t. Tags are combined without duplicates and
// kwargs of other take precedence. Other must not carry an ID, updates
// never re-identify a target.
func (t *SlimTarget) Update(other SlimTarget) error {
	if other.ID != "" {
		return fmt.Errorf("cannot update slim target using a slim target with an id")
	}
	t.Tags = unionTags(t.Tags, other.Tags)
	if t.Kwargs == nil {
		t.Kwargs = make(Kwargs, len(other.Kwargs))
	}
	t.Kwargs.Merge(other.Kwargs)
	return nil
}

// MergeSlimTargets combines two slim targets into a new one without
// modifying either. Tags are united, kwargs of b win on collisions and
// the ID is taken from whichever side has one. Two differing IDs cannot
// be merged.
func MergeSlimTargets(a, b SlimTarget) (SlimTarget, error) {
	if a.ID != "" && b.ID != "" && a.ID != b.ID {
		return SlimTarget{}, fmt.Errorf("cannot merge slim targets with unequal ids %q and %q", a.ID, b.ID)
	}
	id := a.ID
	if id == "" {
		id = b.ID
	}
	kwargs := a.Kwargs.Clone()
	if kwargs == nil {
		kwargs = make(Kwargs, len(b.Kwargs))
	}
	kwargs.Merge(b.Kwargs)
	return SlimTarget{
		ID:     id,
		Tags:   unionTags(a.Tags, b.Tags),
		Kwargs: kwargs,
	}, nil
}

// unionTags keeps first-seen order so merges stay deterministic.
func unionTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, tags := range [][]string{a, b} {
		for _, tag := range tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
