package types

import (
	"bytes"
	"fmt"
)

// TypeTag identifies which primitive owns a key.
type TypeTag byte

const (
	TagKV TypeTag = iota + 1
	TagEvent
	TagState
	TagRun
	TagJSON
	TagVector
	TagVectorConfig
)

func (t TypeTag) String() string {
	switch t {
	case TagKV:
		return "KV"
	case TagEvent:
		return "Event"
	case TagState:
		return "State"
	case TagRun:
		return "Run"
	case TagJSON:
		return "Json"
	case TagVector:
		return "Vector"
	case TagVectorConfig:
		return "VectorConfig"
	default:
		return "Unknown"
	}
}

// Namespace is the four-part ownership root of every key: tenant, app,
// agent, and run. Namespaces order lexicographically by (tenant, app,
// agent, run) so that prefix scans bounded by a shorter namespace never
// cross a run boundary.
type Namespace struct {
	Tenant string
	App    string
	Agent  string
	Run    RunID
}

// Compare orders namespaces by (tenant, app, agent, run).
func (n Namespace) Compare(other Namespace) int {
	if c := compareStrings(n.Tenant, other.Tenant); c != 0 {
		return c
	}
	if c := compareStrings(n.App, other.App); c != 0 {
		return c
	}
	if c := compareStrings(n.Agent, other.Agent); c != 0 {
		return c
	}
	return n.Run.Compare(other.Run)
}

func compareStrings(a, b string) int {
	return bytes.Compare([]byte(a), []byte(b))
}

// Encode renders the namespace as an ordered byte prefix: each component
// length-prefixed so that no component's contents can bleed into the
// next one's ordering.
func (n Namespace) Encode() []byte {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(n.Tenant))
	writeLenPrefixed(&buf, []byte(n.App))
	writeLenPrefixed(&buf, []byte(n.Agent))
	runBytes := n.Run.Bytes()
	buf.Write(runBytes[:])
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	l := uint32(len(b))
	lenBuf[0] = byte(l >> 24)
	lenBuf[1] = byte(l >> 16)
	lenBuf[2] = byte(l >> 8)
	lenBuf[3] = byte(l)
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLenPrefixed(data []byte) (value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	l := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	data = data[4:]
	if uint32(len(data)) < l {
		return nil, nil, fmt.Errorf("truncated length-prefixed field")
	}
	return data[:l], data[l:], nil
}

// DecodeNamespace reverses Namespace.Encode, returning the namespace and
// any bytes remaining after it (the tag byte and user bytes, for a full
// Key encoding).
func DecodeNamespace(data []byte) (Namespace, []byte, error) {
	tenant, rest, err := readLenPrefixed(data)
	if err != nil {
		return Namespace{}, nil, fmt.Errorf("namespace tenant: %w", err)
	}
	app, rest, err := readLenPrefixed(rest)
	if err != nil {
		return Namespace{}, nil, fmt.Errorf("namespace app: %w", err)
	}
	agent, rest, err := readLenPrefixed(rest)
	if err != nil {
		return Namespace{}, nil, fmt.Errorf("namespace agent: %w", err)
	}
	if len(rest) < 16 {
		return Namespace{}, nil, fmt.Errorf("namespace run: truncated")
	}
	var runBytes [16]byte
	copy(runBytes[:], rest[:16])
	rest = rest[16:]
	return Namespace{Tenant: string(tenant), App: string(app), Agent: string(agent), Run: RunIDFromBytes(runBytes)}, rest, nil
}

// DecodeKey reverses Key.Encode. It is used to reconstruct a structured
// Key from bytes read back out of a snapshot section or WAL payload,
// where only the encoded form was persisted.
func DecodeKey(data []byte) (Key, error) {
	ns, rest, err := DecodeNamespace(data)
	if err != nil {
		return Key{}, fmt.Errorf("decode key namespace: %w", err)
	}
	if len(rest) < 1 {
		return Key{}, fmt.Errorf("decode key: missing tag byte")
	}
	tag := TypeTag(rest[0])
	userBytes := rest[1:]
	return NewKey(ns, tag, userBytes), nil
}

// Key is the fully-qualified, totally-ordered identifier of a stored
// value: (namespace, type_tag, user_bytes). Keys order by namespace first,
// then type tag, then the raw user-supplied bytes — so prefix scans
// bounded by a namespace (optionally plus a tag) exploit a single sorted
// range.
type Key struct {
	Namespace Namespace
	Tag       TypeTag
	UserBytes []byte
}

// NewKey constructs a Key.
func NewKey(ns Namespace, tag TypeTag, userBytes []byte) Key {
	cp := make([]byte, len(userBytes))
	copy(cp, userBytes)
	return Key{Namespace: ns, Tag: tag, UserBytes: cp}
}

// Encode serializes the key to its total-order byte representation: the
// namespace's length-prefixed encoding, the tag byte, then the raw user
// bytes. Because user bytes come last with nothing after them, this is
// safe to use directly as a byte-comparable sort key.
func (k Key) Encode() []byte {
	ns := k.Namespace.Encode()
	buf := make([]byte, 0, len(ns)+1+len(k.UserBytes))
	buf = append(buf, ns...)
	buf = append(buf, byte(k.Tag))
	buf = append(buf, k.UserBytes...)
	return buf
}

// Compare orders two keys by their encoded byte representation.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k.Encode(), other.Encode())
}

// HasPrefix reports whether k's encoded bytes extend prefix's encoded
// bytes — the basis of every scan_prefix operation.
func (k Key) HasPrefix(prefix []byte) bool {
	return bytes.HasPrefix(k.Encode(), prefix)
}

// NamespacePrefix returns the byte prefix that bounds every key owned by
// ns, regardless of tag. Used to implement cascading run deletes and
// cross-run isolation checks.
func NamespacePrefix(ns Namespace) []byte {
	return ns.Encode()
}

// NamespaceTagPrefix bounds every key owned by ns with the given tag.
func NamespaceTagPrefix(ns Namespace, tag TypeTag) []byte {
	buf := ns.Encode()
	return append(buf, byte(tag))
}
