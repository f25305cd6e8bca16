package profiles

import (
	"fmt"
	"maps"
	"slices"

	"github.com/jmylchreest/pandactl/internal/panda"
)

// ActionKind identifies what a reconciliation step does remotely.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
)

// Action is one remote write needed to align the service with the
// declared profiles.
type Action struct {
	Kind ActionKind
	// ID is the remote profile id, set for updates only.
	ID      string
	Name    string
	Payload Profile
}

func (a Action) String() string {
	if a.Kind == ActionUpdate {
		return fmt.Sprintf("%s %q (%s)", a.Kind, a.Name, a.ID)
	}
	return fmt.Sprintf("%s %q", a.Kind, a.Name)
}

// PlanOptions tunes Plan.
type PlanOptions struct {
	// SkipUnchanged drops updates that would not change any attribute.
	SkipUnchanged bool
}

// Plan computes the writes that align remote with desired. Remote profiles
// whose name is declared are updated with the declared attributes layered
// over the remote ones, in remote order. Declared names not found remotely
// are created, sorted by declared key and labelled with their name
// attribute. Nothing is ever deleted and neither argument is modified.
func Plan(remote []Profile, desired map[string]Profile, opts PlanOptions) []Action {
	pending := maps.Clone(desired)
	var actions []Action

	for _, current := range remote {
		name := current.Name()
		want, ok := pending[name]
		if !ok {
			continue
		}
		delete(pending, name)

		merged := current.Clone()
		maps.Copy(merged, want)
		id := panda.StringValue(merged[AttrID])
		delete(merged, AttrPresetName)
		delete(merged, AttrID)

		if opts.SkipUnchanged && sameOnWire(stripped(current), merged) {
			continue
		}
		actions = append(actions, Action{
			Kind:    ActionUpdate,
			ID:      id,
			Name:    name,
			Payload: merged,
		})
	}

	for _, key := range slices.Sorted(maps.Keys(pending)) {
		payload := pending[key].Clone()
		name := payload.Name()
		if name == "" {
			name = key
		}
		actions = append(actions, Action{
			Kind:    ActionCreate,
			Name:    name,
			Payload: payload,
		})
	}
	return actions
}

func stripped(p Profile) Profile {
	out := p.Clone()
	delete(out, AttrPresetName)
	delete(out, AttrID)
	return out
}

// sameOnWire reports whether a and b encode to the same form fields.
// Declared values are strings while remote ones are typed JSON, so they are
// compared the way the service receives them.
func sameOnWire(a, b Profile) bool {
	return maps.EqualFunc(panda.FormValues(a), panda.FormValues(b), slices.Equal[[]string])
}
