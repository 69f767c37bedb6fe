package agency

import "strings"

// StatusTable maps an agency's raw status codes onto standard statuses.
// Keys are compared after trimming whitespace; lookups are case-insensitive.
type StatusTable map[string]Status

// Map translates a raw status code. Unknown codes map to StatusUploaded:
// a parcel the agency knows about but reports oddly is not broken.
func (t StatusTable) Map(raw string) Status {
	key := strings.TrimSpace(raw)
	if st, ok := t[key]; ok {
		return st
	}
	for k, st := range t {
		if strings.EqualFold(k, key) {
			return st
		}
	}
	return StatusUploaded
}

// Known reports whether the raw code has an explicit mapping.
func (t StatusTable) Known(raw string) bool {
	key := strings.TrimSpace(raw)
	if _, ok := t[key]; ok {
		return true
	}
	for k := range t {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
