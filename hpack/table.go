package hpack

// HeaderField is one (name, value) header entry. Sensitive entries are
// encoded in the never-indexed literal form and are never inserted into a
// dynamic table.
type HeaderField struct {
	Name      string
	Value     string
	Sensitive bool
}

// Size is the entry's table size per RFC 7541 §4.1: name and value octets
// plus a 32-byte overhead.
func (f HeaderField) Size() uint32 {
	return uint32(len(f.Name)+len(f.Value)) + 32
}

func (f HeaderField) String() string {
	return f.Name + ": " + f.Value
}

// dynamicTable holds recently seen header entries, newest first. The sum of
// entry sizes never exceeds maxSize; insertion evicts from the oldest end.
type dynamicTable struct {
	entries []HeaderField
	size    uint32
	maxSize uint32
}

func (t *dynamicTable) add(f HeaderField) {
	f.Sensitive = false
	if f.Size() > t.maxSize {
		// An entry larger than the table empties it (RFC 7541 §4.4).
		t.entries = t.entries[:0]
		t.size = 0
		return
	}
	t.entries = append(t.entries, HeaderField{})
	copy(t.entries[1:], t.entries)
	t.entries[0] = f
	t.size += f.Size()
	t.evict()
}

func (t *dynamicTable) setMaxSize(n uint32) {
	t.maxSize = n
	t.evict()
}

func (t *dynamicTable) evict() {
	for t.size > t.maxSize {
		last := len(t.entries) - 1
		t.size -= t.entries[last].Size()
		t.entries = t.entries[:last]
	}
}

// at resolves a combined static+dynamic table index (1-based).
func (t *dynamicTable) at(index uint64) (HeaderField, error) {
	if index == 0 {
		return HeaderField{}, ErrInvalidIndex
	}
	if index <= staticTableSize {
		return staticTable[index], nil
	}
	di := index - staticTableSize - 1
	if di >= uint64(len(t.entries)) {
		return HeaderField{}, ErrInvalidIndex
	}
	return t.entries[di], nil
}

// lookup returns the combined index of an exact (name, value) match, or of
// a name-only match, or zero.
func (t *dynamicTable) lookup(f HeaderField) (index uint64, exact bool) {
	key := tableKey{f.Name, f.Value}
	if i, ok := staticByField[key]; ok {
		return i, true
	}
	for i, e := range t.entries {
		if e.Name == f.Name && e.Value == f.Value {
			return staticTableSize + uint64(i) + 1, true
		}
	}
	if i, ok := staticByName[f.Name]; ok {
		return i, false
	}
	for i, e := range t.entries {
		if e.Name == f.Name {
			return staticTableSize + uint64(i) + 1, false
		}
	}
	return 0, false
}
