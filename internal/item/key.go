package item

import "strings"

// Key is the composite identity of a scheduled item: payload id, option
// variant, and surface. The three components stay distinct fields; the
// string form exists only for storage keys and debug output, never as the
// primary equality mechanism (Key is comparable).
type Key struct {
	ID      string
	Variant string
	Surface Surface
}

// keySep separates key components in the serialized form.
const keySep = "::"

// String serializes the key for storage and debug boundaries,
// e.g. "welcome_tour::compact::home_top_banner".
func (k Key) String() string {
	var b strings.Builder
	b.Grow(len(k.ID) + len(k.Variant) + len(k.Surface) + 2*len(keySep))
	b.WriteString(k.ID)
	b.WriteString(keySep)
	b.WriteString(k.Variant)
	b.WriteString(keySep)
	b.WriteString(string(k.Surface))
	return b.String()
}

// ParseKey splits a serialized key back into its components.
// Returns false if the input does not have exactly three parts.
func ParseKey(s string) (Key, bool) {
	parts := strings.Split(s, keySep)
	if len(parts) != 3 {
		return Key{}, false
	}
	return Key{ID: parts[0], Variant: parts[1], Surface: Surface(parts[2])}, true
}
