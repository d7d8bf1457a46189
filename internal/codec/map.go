package codec

// Accessors used by the HTTP handlers to pull typed fields out of a
// decoded request. Each reports whether the field was present with the
// expected type.

// Int returns the named field as an int64.
func (m Map) Int(name string) (int64, bool) {
	v, ok := m[name].(int64)
	return v, ok
}

// String returns the named field as a string.
func (m Map) String(name string) (string, bool) {
	v, ok := m[name].(string)
	return v, ok
}

// Object returns the named field as a nested message.
func (m Map) Object(name string) (Map, bool) {
	v, ok := m[name].(Map)
	return v, ok
}

// Objects returns the named field as a list of nested messages.
func (m Map) Objects(name string) ([]Map, bool) {
	v, ok := m[name].([]Map)
	return v, ok
}

// Strings returns the named field as a list of strings.
func (m Map) Strings(name string) ([]string, bool) {
	v, ok := m[name].([]string)
	return v, ok
}
