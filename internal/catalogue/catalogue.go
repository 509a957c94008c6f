// Package catalogue builds the two-level light catalogue (spec.md §3, §6)
// once from configuration and exposes the pre-allocated per-light state the
// coordinator mutates in place — no catalogue or state structure is grown
// after startup.
package catalogue

import (
	"fmt"
	"sort"

	"github.com/apex/log"
)

// ChannelBinding ties one DMX slot to a color and an optional UI alias.
type ChannelBinding struct {
	Slot    int    // 1..512
	Color   string // resolved hex, e.g. "#FF0000"
	Alias   string // channel_alias from config, or the config color tag if empty
}

// LightSpec is the configuration-level description of one light, before
// catalogue construction resolves and validates it.
type LightSpec struct {
	Group    string
	Light    string
	Channels []ChannelBindingSpec
}

// ChannelBindingSpec mirrors the raw YAML shape: {ch, color, name?}.
type ChannelBindingSpec struct {
	Slot  int
	Color string
	Alias string
}

// LightState is the pre-allocated, in-place-mutated state of one light: an
// ordered channel list (for stable iteration/UI rendering) plus a name→value
// map for O(1) alias lookups. Both are sized once at construction.
type LightState struct {
	Group    string
	Light    string
	Bindings []ChannelBinding
	Values   map[string]byte // alias -> current value, pre-sized
}

// Catalogue is the immutable group→light→bindings map plus the
// pre-allocated per-light state the coordinator references directly.
type Catalogue struct {
	Groups    []string               // sorted, stable iteration order
	Lights    map[string][]string    // group -> sorted light names
	States    map[string]*LightState // "group/light" -> state
	SlotIndex map[int]*LightState    // dmx slot -> owning light, for fast set_channel fan-out
}

// unknownColor is substituted for any color tag the palette doesn't
// recognize, with a logged warning (spec.md §6).
const unknownColor = "#FFFFFF"

var knownColors = map[string]string{
	"red":    "#FF0000",
	"green":  "#00FF00",
	"blue":   "#0000FF",
	"white":  "#FFFFFF",
	"amber":  "#FFBF00",
	"uv":     "#8B00FF",
	"warm_white": "#FFE9C4",
	"cold_white": "#D6EFFF",
}

// Build validates specs and constructs a Catalogue. It rejects unknown
// colors by substituting unknownColor and logging, but treats out-of-range
// slots, duplicate slot usage, and empty lights as fatal configuration
// errors (spec.md §6, §7 Fatal class).
func Build(specs []LightSpec, logger *log.Entry) (*Catalogue, error) {
	if logger == nil {
		logger = log.WithField("component", "catalogue")
	}

	cat := &Catalogue{
		Lights:    make(map[string][]string),
		States:    make(map[string]*LightState),
		SlotIndex: make(map[int]*LightState),
	}
	groupSet := make(map[string]bool)
	seenSlots := make(map[int]string)

	for _, spec := range specs {
		if spec.Light == "" {
			return nil, fmt.Errorf("catalogue: empty light name in group %q", spec.Group)
		}
		if len(spec.Channels) == 0 {
			return nil, fmt.Errorf("catalogue: light %s/%s has no channels", spec.Group, spec.Light)
		}

		key := spec.Group + "/" + spec.Light
		state := &LightState{
			Group:    spec.Group,
			Light:    spec.Light,
			Bindings: make([]ChannelBinding, 0, len(spec.Channels)),
			Values:   make(map[string]byte, len(spec.Channels)),
		}

		for _, ch := range spec.Channels {
			if ch.Slot < 1 || ch.Slot > 512 {
				return nil, fmt.Errorf("catalogue: light %s/%s: slot %d out of range [1,512]", spec.Group, spec.Light, ch.Slot)
			}
			if owner, dup := seenSlots[ch.Slot]; dup {
				return nil, fmt.Errorf("catalogue: slot %d used by both %s and %s/%s", ch.Slot, owner, spec.Group, spec.Light)
			}
			seenSlots[ch.Slot] = key

			color, ok := knownColors[ch.Color]
			if !ok {
				logger.WithField("color", ch.Color).WithField("light", key).Warn("catalogue: unknown color tag, defaulting to white")
				color = unknownColor
			}
			alias := ch.Alias
			if alias == "" {
				alias = ch.Color
			}
			binding := ChannelBinding{Slot: ch.Slot, Color: color, Alias: alias}
			state.Bindings = append(state.Bindings, binding)
			state.Values[alias] = 0
			cat.SlotIndex[ch.Slot] = state
		}

		cat.States[key] = state
		if !groupSet[spec.Group] {
			groupSet[spec.Group] = true
		}
		cat.Lights[spec.Group] = append(cat.Lights[spec.Group], spec.Light)
	}

	for g := range groupSet {
		cat.Groups = append(cat.Groups, g)
	}
	sort.Strings(cat.Groups)
	for g := range cat.Lights {
		sort.Strings(cat.Lights[g])
	}

	return cat, nil
}

// Light returns the pre-allocated state for group/light, or nil if absent.
func (c *Catalogue) Light(group, light string) *LightState {
	return c.States[group+"/"+light]
}

// LightsIn returns the sorted light names in group.
func (c *Catalogue) LightsIn(group string) []string {
	return c.Lights[group]
}
