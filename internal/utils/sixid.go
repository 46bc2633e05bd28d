package utils

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SixID is a 6-byte identifier stored in Mongo as BinData with custom
// subtype 0x80 and rendered to clients as Crockford Base32.
type SixID [6]byte

// SixIDHookFunc lets tests override NewSixID with deterministic values.
type SixIDHookFunc func() (id SixID, override bool)

var NewSixIDHook SixIDHookFunc

// NewSixID returns a random SixID.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		return SixID{}
	}
	return id
}

// IsZero reports whether the id is the zero value.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockfordDecodeMap = func() map[byte]byte {
	m := make(map[byte]byte, 40)
	for i := 0; i < len(crockfordAlphabet); i++ {
		m[crockfordAlphabet[i]] = byte(i)
	}
	lower := strings.ToLower(crockfordAlphabet)
	for i := 10; i < len(lower); i++ {
		m[lower[i]] = byte(i)
	}
	// Commonly confused characters decode leniently.
	m['o'] = m['O']
	m['i'] = m['1']
	m['l'] = m['1']
	return m
}()

// String returns the 10-character Crockford Base32 form (48 bits -> 10 chars).
func (u SixID) String() string {
	out := make([]byte, 0, 10)
	var bits, offset uint
	for i := 0; i < 6; i++ {
		bits |= uint(u[i]) << offset
		offset += 8
		for offset >= 5 {
			out = append(out, crockfordAlphabet[bits&0x1F])
			bits >>= 5
			offset -= 5
		}
	}
	if offset > 0 {
		out = append(out, crockfordAlphabet[bits&0x1F])
	}
	return string(out)
}

// ParseSixID decodes a Crockford Base32 string back into a SixID.
// Hyphens and spaces are stripped for leniency; an empty string parses
// to the zero id.
func ParseSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != 10 {
		return SixID{}, errors.New("sixid: encoded length must be 10")
	}

	var id SixID
	var bits uint64
	var offset uint
	byteIndex := 0
	for i := 0; i < 10; i++ {
		val, ok := crockfordDecodeMap[s[i]]
		if !ok {
			return SixID{}, errors.New("sixid: invalid Crockford Base32 character")
		}
		bits |= uint64(val) << offset
		offset += 5
		for offset >= 8 && byteIndex < 6 {
			id[byteIndex] = byte(bits & 0xFF)
			byteIndex++
			bits >>= 8
			offset -= 8
		}
	}
	if byteIndex != 6 {
		return SixID{}, errors.New("sixid: could not decode 6 bytes")
	}
	return id, nil
}

// MarshalBSONValue implements bson.ValueMarshaler, encoding the id as
// binary with custom subtype 0x80.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(primitive.Binary{Subtype: 0x80, Data: u[:]})
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bson.TypeNull {
		*u = SixID{}
		return nil
	}
	var bin primitive.Binary
	rv := bson.RawValue{Type: t, Value: data}
	if err := rv.Unmarshal(&bin); err != nil {
		return errors.New("sixid: expected BSON binary value")
	}
	if bin.Subtype != 0x80 || len(bin.Data) != 6 {
		return errors.New("sixid: binary value has wrong subtype or length")
	}
	copy(u[:], bin.Data)
	return nil
}

// MarshalJSON renders the id as a Crockford Base32 JSON string.
func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON parses a Crockford Base32 JSON string.
func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
