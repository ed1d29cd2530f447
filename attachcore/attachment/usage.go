package attachment

import (
	"encoding/json"
	"sort"
)

// UsageInfo records which owning records reference an attachment:
// entity type -> entity usage. It is the only source of truth for "is this
// file referenced by anything".
type UsageInfo map[string]*EntityUsage

// FieldSet is a sorted, duplicate-free set of field names.
type FieldSet []string

// EntityUsage is an explicit two-variant union. IDs carries field-level
// granularity; Legacy carries the flat entity-id list written by older
// producers that never supplied a field name. The legacy variant is kept on
// the wire for external readers: an entity type whose ids all lack field
// granularity serializes back to a plain JSON array.
type EntityUsage struct {
	IDs    map[string]FieldSet
	Legacy []string
}

func (s FieldSet) contains(field string) bool {
	i := sort.SearchStrings(s, field)
	return i < len(s) && s[i] == field
}

func (s FieldSet) insert(field string) FieldSet {
	i := sort.SearchStrings(s, field)
	if i < len(s) && s[i] == field {
		return s
	}
	out := append(s, "")
	copy(out[i+1:], out[i:])
	out[i] = field
	return out
}

func (s FieldSet) remove(field string) FieldSet {
	i := sort.SearchStrings(s, field)
	if i >= len(s) || s[i] != field {
		return s
	}
	return append(s[:i], s[i+1:]...)
}

func (eu *EntityUsage) empty() bool {
	return len(eu.IDs) == 0 && len(eu.Legacy) == 0
}

func (eu *EntityUsage) hasID(entityID string) bool {
	if _, ok := eu.IDs[entityID]; ok {
		return true
	}
	for _, id := range eu.Legacy {
		if id == entityID {
			return true
		}
	}
	return false
}

// MarshalJSON writes the legacy flat array when no id carries field
// granularity, and the field-keyed object otherwise (legacy ids appear with
// an empty field array).
func (eu *EntityUsage) MarshalJSON() ([]byte, error) {
	if len(eu.IDs) == 0 {
		ids := append([]string{}, eu.Legacy...)
		sort.Strings(ids)
		return json.Marshal(ids)
	}
	m := make(map[string]FieldSet, len(eu.IDs)+len(eu.Legacy))
	for id, fields := range eu.IDs {
		m[id] = fields
	}
	for _, id := range eu.Legacy {
		if _, ok := m[id]; !ok {
			m[id] = FieldSet{}
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON normalizes both wire shapes: a JSON array is the legacy flat
// list, an object maps entity ids to field-name arrays (empty array = legacy
// entry).
func (eu *EntityUsage) UnmarshalJSON(data []byte) error {
	eu.IDs = nil
	eu.Legacy = nil

	var flat []string
	if err := json.Unmarshal(data, &flat); err == nil {
		sort.Strings(flat)
		eu.Legacy = flat
		return nil
	}

	var keyed map[string][]string
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}
	for id, fields := range keyed {
		if len(fields) == 0 {
			eu.Legacy = append(eu.Legacy, id)
			continue
		}
		if eu.IDs == nil {
			eu.IDs = map[string]FieldSet{}
		}
		set := FieldSet{}
		for _, f := range fields {
			set = set.insert(f)
		}
		eu.IDs[id] = set
	}
	sort.Strings(eu.Legacy)
	return nil
}

// Add records a usage. With a field name the id gains (or extends) field
// granularity; without one the id lands in the legacy flat list. Idempotent.
// Reports whether the usage map changed.
func (u UsageInfo) Add(entityType, entityID, fieldName string) bool {
	eu := u[entityType]
	if eu == nil {
		eu = &EntityUsage{}
		u[entityType] = eu
	}

	if fieldName == "" {
		if eu.hasID(entityID) {
			return false
		}
		eu.Legacy = append(eu.Legacy, entityID)
		sort.Strings(eu.Legacy)
		return true
	}

	if eu.IDs == nil {
		eu.IDs = map[string]FieldSet{}
	}
	set := eu.IDs[entityID]
	if set.contains(fieldName) {
		return false
	}
	eu.IDs[entityID] = set.insert(fieldName)
	// a legacy entry for the same id is promoted to the field-keyed form
	eu.Legacy = removeString(eu.Legacy, entityID)
	return true
}

// Remove drops a usage, pruning now-empty containers at every level. With a
// field name only that field goes; without one the whole entity id goes.
// Reports whether the usage map changed.
func (u UsageInfo) Remove(entityType, entityID, fieldName string) bool {
	eu := u[entityType]
	if eu == nil {
		return false
	}

	changed := false
	if fieldName == "" {
		if _, ok := eu.IDs[entityID]; ok {
			delete(eu.IDs, entityID)
			changed = true
		}
		if before := len(eu.Legacy); before > 0 {
			eu.Legacy = removeString(eu.Legacy, entityID)
			changed = changed || len(eu.Legacy) != before
		}
	} else if set, ok := eu.IDs[entityID]; ok {
		after := set.remove(fieldName)
		changed = len(after) != len(set)
		if len(after) == 0 {
			delete(eu.IDs, entityID)
		} else {
			eu.IDs[entityID] = after
		}
	}

	if len(eu.IDs) == 0 {
		eu.IDs = nil
	}
	if eu.empty() {
		delete(u, entityType)
	}
	return changed
}

// IsUsedInField reports whether the exact (type, id, field) triple is
// recorded. Legacy entries have no field granularity and never match.
func (u UsageInfo) IsUsedInField(entityType, entityID, fieldName string) bool {
	eu := u[entityType]
	if eu == nil {
		return false
	}
	return eu.IDs[entityID].contains(fieldName)
}

// IsUsed reports whether anything references the attachment.
func (u UsageInfo) IsUsed() bool {
	for _, eu := range u {
		if !eu.empty() {
			return true
		}
	}
	return false
}

// Count returns the number of distinct (entity type, entity id) pairs.
func (u UsageInfo) Count() int {
	n := 0
	for _, eu := range u {
		n += len(eu.IDs) + len(eu.Legacy)
	}
	return n
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// AddUsage records a usage on the attachment and persists the derived state:
// a used file is never temporary and never expires.
func AddUsage(a *Attachment, entityType, entityID, fieldName string) error {
	u, err := a.Usage()
	if err != nil {
		return err
	}
	u.Add(entityType, entityID, fieldName)
	if err := a.SetUsage(u); err != nil {
		return err
	}
	a.IsTemporary = false
	a.ExpiresAt = 0
	return nil
}

// RemoveUsage drops a usage. It does not re-mark the file temporary and does
// not delete anything; an unused persistent file is a GC candidate only.
func RemoveUsage(a *Attachment, entityType, entityID, fieldName string) error {
	u, err := a.Usage()
	if err != nil {
		return err
	}
	u.Remove(entityType, entityID, fieldName)
	return a.SetUsage(u)
}

// IsUsedInField queries the attachment's usage map for the exact triple.
func IsUsedInField(a *Attachment, entityType, entityID, fieldName string) bool {
	u, err := a.Usage()
	if err != nil {
		return false
	}
	return u.IsUsedInField(entityType, entityID, fieldName)
}
