package httpconn

import "strings"

// Headers is an ordered, case-insensitive multi-map of HTTP header fields.
//
// The backing slice preserves insertion order (needed for wire framing);
// the index is built lazily on first lookup or Set to avoid an allocation for
// the common case of a handful of headers copied straight from the wire.
type Headers struct {
	fields [][2]string
	index  map[string]int
}

// NewHeaders returns an empty Headers set.
func NewHeaders() Headers {
	return Headers{}
}

// HeadersFromSlice wraps an existing ordered [2]string slice without copying.
// The caller must not mutate the slice afterwards.
func HeadersFromSlice(fields [][2]string) Headers {
	return Headers{fields: fields}
}

func canonicalKey(key string) string {
	return strings.ToLower(key)
}

func (h *Headers) ensureIndex() {
	if h.index != nil {
		return
	}
	h.index = make(map[string]int, len(h.fields))
	for i, f := range h.fields {
		ck := canonicalKey(f[0])
		if _, ok := h.index[ck]; !ok {
			h.index[ck] = i
		}
	}
}

// Get returns the first value for key, or "" if absent.
func (h *Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	h.ensureIndex()
	if i, ok := h.index[canonicalKey(key)]; ok {
		return h.fields[i][1]
	}
	return ""
}

// Has reports whether key is present.
func (h *Headers) Has(key string) bool {
	if h == nil {
		return false
	}
	h.ensureIndex()
	_, ok := h.index[canonicalKey(key)]
	return ok
}

// HasValue reports whether key is present with the given value, compared
// case-insensitively — used for directives like "Connection: close".
func (h *Headers) HasValue(key, value string) bool {
	v := h.Get(key)
	return v != "" && strings.EqualFold(strings.TrimSpace(v), value)
}

// Set replaces all existing values for key with a single value, appending
// if key was absent.
func (h *Headers) Set(key, value string) {
	h.ensureIndex()
	ck := canonicalKey(key)
	if i, ok := h.index[ck]; ok {
		h.fields[i][1] = value
		out := h.fields[:i+1]
		for _, f := range h.fields[i+1:] {
			if canonicalKey(f[0]) != ck {
				out = append(out, f)
			}
		}
		h.fields = out
		h.index = nil
		return
	}
	h.index[ck] = len(h.fields)
	h.fields = append(h.fields, [2]string{key, value})
}

// Add appends a value for key without removing existing values.
func (h *Headers) Add(key, value string) {
	h.fields = append(h.fields, [2]string{key, value})
	if h.index != nil {
		if _, ok := h.index[canonicalKey(key)]; !ok {
			h.index[canonicalKey(key)] = len(h.fields) - 1
		}
	}
}

// Del removes all values for key.
func (h *Headers) Del(key string) {
	if len(h.fields) == 0 {
		return
	}
	ck := canonicalKey(key)
	out := h.fields[:0]
	for _, f := range h.fields {
		if canonicalKey(f[0]) != ck {
			out = append(out, f)
		}
	}
	h.fields = out
	h.index = nil
}

// Len returns the number of header fields (counting repeats).
func (h *Headers) Len() int {
	return len(h.fields)
}

// Fields returns the ordered header fields. The returned slice must not be
// mutated by the caller.
func (h *Headers) Fields() [][2]string {
	return h.fields
}

// Clone returns a deep copy safe for independent mutation.
func (h *Headers) Clone() Headers {
	if len(h.fields) == 0 {
		return Headers{}
	}
	out := make([][2]string, len(h.fields))
	copy(out, h.fields)
	return Headers{fields: out}
}
