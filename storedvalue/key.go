// Package storedvalue defines the data-model types from spec.md §3:
// Key and StoredValue. Grounded on
// _examples/original_source/engines/ep/src/collections/collections_types.h
// (DefaultCollectionIdentifier, DefaultSeparator, SystemEventPrefix) for
// the key-namespace constants.
package storedvalue

import "strings"

// Namespace tags which kind of key this is, per spec.md §3.
type Namespace int

const (
	DefaultCollection Namespace = iota
	NamedCollection
	SystemEvent
)

const (
	// DefaultCollectionName is the reserved name of the system-owned
	// default collection (collections_types.h's _DefaultCollectionIdentifier).
	DefaultCollectionName = "$default"
	// DefaultSeparator is the default separator for identifying a
	// collection's name within a key (collections_types.h's DefaultSeparator).
	DefaultSeparator = "::"
	// SystemEventPrefix is the reserved prefix for system-event keys
	// (collections_types.h's SystemEventPrefix).
	SystemEventPrefix = "$collections"
)

// Key is an opaque byte sequence tagged with a namespace. Named-collection
// keys carry their collection name; the raw bytes keep the full key,
// separator included, and the separator itself is supplied by the caller
// when the key is parsed.
type Key struct {
	Namespace      Namespace
	CollectionName string // valid for NamedCollection and DefaultCollection
	raw            []byte // the full on-wire key bytes
}

// NewDefaultCollectionKey wraps raw bytes as belonging to the default
// collection.
func NewDefaultCollectionKey(raw []byte) Key {
	return Key{Namespace: DefaultCollection, CollectionName: DefaultCollectionName, raw: raw}
}

// NewSystemEventKey builds the reserved key for a system event; system
// event keys are never visible to ordinary GET/SET traffic.
func NewSystemEventKey(suffix string) Key {
	return Key{Namespace: SystemEvent, raw: []byte(SystemEventPrefix + DefaultSeparator + suffix)}
}

// ParseNamedCollectionKey splits raw on the first occurrence of
// separator, per spec.md §3's "collection_name, a configurable
// separator, and the user portion". Returns ok=false if no separator is
// present, in which case the caller should treat the key as belonging to
// the default collection.
func ParseNamedCollectionKey(raw []byte, separator string) (Key, bool) {
	s := string(raw)
	idx := strings.Index(s, separator)
	if idx < 0 {
		return Key{}, false
	}
	return Key{
		Namespace:      NamedCollection,
		CollectionName: s[:idx],
		raw:            raw,
	}, true
}

// Bytes returns the full on-wire key.
func (k Key) Bytes() []byte {
	return k.raw
}

func (k Key) String() string {
	return string(k.raw)
}

// DoesKeyContainValidCollection reproduces spec.md S1's
// does_key_contain_valid_collection helper: true if raw, parsed against
// separator, names collectionName.
func DoesKeyContainValidCollection(raw []byte, separator, collectionName string) bool {
	k, ok := ParseNamedCollectionKey(raw, separator)
	if !ok {
		return collectionName == DefaultCollectionName
	}
	return k.CollectionName == collectionName
}
