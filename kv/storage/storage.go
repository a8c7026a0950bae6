package storage

// Key identifies a record. Keys are ordered and hashable; nothing else
// about them matters to the processor.
type Key uint64

// Value is the payload stored under a key.
type Value int64

// Storage is a versioned key/value store. Every write stamps the key with
// the wall-clock time of the write; optimistic validation compares these
// stamps against transaction start times.
//
// Read and Timestamp never fail: a missing key reads as not-found with a
// zero timestamp.
type Storage interface {
	Read(key Key) (Value, bool)
	Write(key Key, value Value)
	Timestamp(key Key) int64
}
