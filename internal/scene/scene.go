// Package scene implements the per-output 128-entry scene table: call,
// save and undo semantics against a caller-supplied set of channels.
package scene

import (
	"strconv"
	"sync"

	"github.com/digitalstrom/vdchost/pkg/vdcapi"
)

// ChannelEntry is the target value stored for one channel within a
// scene. DontCare true means the channel is left untouched when the
// scene is called.
type ChannelEntry struct {
	Value    float64 `yaml:"value"`
	DontCare bool    `yaml:"dontCare"`
}

// Entry is one of the 128 slots of an output's scene table.
type Entry struct {
	DontCare            bool                 `yaml:"dontCare"`
	IgnoreLocalPriority bool                 `yaml:"ignoreLocalPriority"`
	Effect              vdcapi.SceneEffect   `yaml:"effect"`
	Channels            map[int]ChannelEntry `yaml:"channels"`
}

// ChannelAccess is the narrow view of an output's channels the scene
// table needs: reading current values for save, and applying values
// for call/undo. dsIndex identifies a channel within the owning
// output, matching the vDC API's per-channel addressing.
type ChannelAccess interface {
	CurrentValue(dsIndex int) (float64, bool)
	ApplyValue(dsIndex int, value float64)
}

// Table is the 128-entry scene table belonging to one Output.
type Table struct {
	mu       sync.Mutex
	entries  [vdcapi.SceneTableSize]Entry
	lastCall *callSnapshot
}

type callSnapshot struct {
	scene    int
	channels map[int]ChannelEntry
}

// NewTable builds a scene table with the standard digitalSTROM
// defaults: preset-0 (and its area variants 1-4) at min, preset-1 (and
// its area-on variants 6-9) at max, everything else dontCare until a
// saveScene overwrites it.
func NewTable(channels ChannelAccess, dsIndices []int, min, max float64) *Table {
	t := &Table{}
	for i := range t.entries {
		t.entries[i] = Entry{DontCare: true, Effect: vdcapi.EffectSmooth}
	}

	zeroScenes := []int{
		int(vdcapi.ScenePreset0),
		int(vdcapi.SceneArea1Off),
		int(vdcapi.SceneArea2Off),
		int(vdcapi.SceneArea3Off),
		int(vdcapi.SceneArea4Off),
	}
	maxScenes := []int{
		int(vdcapi.ScenePreset1),
		int(vdcapi.SceneArea1On),
		int(vdcapi.SceneArea2On),
		int(vdcapi.SceneArea3On),
		int(vdcapi.SceneArea4On),
	}

	for _, n := range zeroScenes {
		t.entries[n] = presetEntry(dsIndices, min)
	}
	for _, n := range maxScenes {
		t.entries[n] = presetEntry(dsIndices, max)
	}

	return t
}

func presetEntry(dsIndices []int, value float64) Entry {
	channels := make(map[int]ChannelEntry, len(dsIndices))
	for _, idx := range dsIndices {
		channels[idx] = ChannelEntry{Value: value, DontCare: false}
	}
	return Entry{DontCare: false, Effect: vdcapi.EffectSmooth, Channels: channels}
}

// Get returns a copy of scene n's entry. n must be within [0,127].
func (t *Table) Get(n int) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[n]
}

// Set replaces scene n's entry wholesale, e.g. when restoring from
// persisted state.
func (t *Table) Set(n int, entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[n] = entry
}

// All returns every scene entry, for persistence.
func (t *Table) All() [vdcapi.SceneTableSize]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

// Call invokes scene n against access: a dontCare entry has no effect;
// otherwise every non-dontCare channel in the entry is applied. The
// pre-call values are kept so a subsequent Undo can revert them.
func (t *Table) Call(n int, access ChannelAccess) {
	t.mu.Lock()
	entry := t.entries[n]
	t.mu.Unlock()

	if entry.DontCare {
		return
	}

	snapshot := make(map[int]ChannelEntry, len(entry.Channels))
	for dsIndex, target := range entry.Channels {
		if target.DontCare {
			continue
		}
		if prev, ok := access.CurrentValue(dsIndex); ok {
			snapshot[dsIndex] = ChannelEntry{Value: prev}
		}
		access.ApplyValue(dsIndex, target.Value)
	}

	t.mu.Lock()
	t.lastCall = &callSnapshot{scene: n, channels: snapshot}
	t.mu.Unlock()
}

// Save snapshots access's current channel values into scene n,
// clearing dontCare and preserving the entry's effect and
// ignoreLocalPriority settings.
func (t *Table) Save(n int, dsIndices []int, access ChannelAccess) {
	channels := make(map[int]ChannelEntry, len(dsIndices))
	for _, dsIndex := range dsIndices {
		value, ok := access.CurrentValue(dsIndex)
		if !ok {
			continue
		}
		channels[dsIndex] = ChannelEntry{Value: value, DontCare: false}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	existing := t.entries[n]
	t.entries[n] = Entry{
		DontCare:            false,
		IgnoreLocalPriority: existing.IgnoreLocalPriority,
		Effect:              existing.Effect,
		Channels:            channels,
	}
}

// PersistedEntries returns every scene slot that carries non-default
// information (not plain dontCare), suitable for writing to the
// property tree. Each element is keyed by its scene index so Save()
// does not need to walk all 128 slots to find the handful that matter.
func (t *Table) PersistedEntries() []interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]interface{}, 0)
	for i, entry := range t.entries {
		if entry.DontCare && !entry.IgnoreLocalPriority {
			continue
		}
		channels := make(map[string]interface{}, len(entry.Channels))
		for dsIndex, ch := range entry.Channels {
			channels[strconv.Itoa(dsIndex)] = map[string]interface{}{
				"value":    ch.Value,
				"dontCare": ch.DontCare,
			}
		}
		out = append(out, map[string]interface{}{
			"index":               int64(i),
			"dontCare":            entry.DontCare,
			"ignoreLocalPriority": entry.IgnoreLocalPriority,
			"effect":              int64(entry.Effect),
			"channels":            channels,
		})
	}
	return out
}

// RestorePersistedEntry applies one decoded entry produced by
// PersistedEntries back into slot index, replacing whatever default
// NewTable seeded there.
func (t *Table) RestorePersistedEntry(index int, dontCare, ignoreLocalPriority bool, effect vdcapi.SceneEffect, channels map[int]ChannelEntry) {
	if index < 0 || index >= vdcapi.SceneTableSize {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[index] = Entry{
		DontCare:            dontCare,
		IgnoreLocalPriority: ignoreLocalPriority,
		Effect:              effect,
		Channels:            channels,
	}
}

// Undo reverts the channels touched by the most recent Call back to
// their pre-call values. Only the last call is remembered; calling
// Undo with no prior Call is a no-op.
func (t *Table) Undo(access ChannelAccess) {
	t.mu.Lock()
	snapshot := t.lastCall
	t.lastCall = nil
	t.mu.Unlock()

	if snapshot == nil {
		return
	}
	for dsIndex, prev := range snapshot.channels {
		access.ApplyValue(dsIndex, prev.Value)
	}
}
