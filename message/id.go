package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

type idKind uint8

const (
	idAbsent idKind = iota // no id at all: notification
	idNull                 // explicit JSON null
	idNumber
	idString
)

// ErrInvalidID is returned when an id is neither an integer, a string nor null.
var ErrInvalidID = errors.New("message: id must be an integer, a string or null")

// ID is a correlation identifier. The zero value is the absent id.
//
// IDs are comparable and can be used as map keys: a numeric id 7 and a string id "7" are distinct.
type ID struct {
	kind idKind
	num  int64
	str  string
}

// NullID is the explicit JSON null id, used when replying to a request whose id could not be read.
var NullID = ID{kind: idNull}

// NumberID returns an integer id.
func NumberID(n int64) ID {
	return ID{kind: idNumber, num: n}
}

// StringID returns a string id.
func StringID(s string) ID {
	return ID{kind: idString, str: s}
}

// IsAbsent reports whether the id was omitted.
func (id ID) IsAbsent() bool { return id.kind == idAbsent }

// IsNull reports whether the id is an explicit null.
func (id ID) IsNull() bool { return id.kind == idNull }

// Number returns the integer value of a numeric id.
func (id ID) Number() (int64, bool) {
	return id.num, id.kind == idNumber
}

// Str returns the value of a string id.
func (id ID) Str() (string, bool) {
	return id.str, id.kind == idString
}

func (id ID) String() string {
	switch id.kind {
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return strconv.Quote(id.str)
	case idNull:
		return "null"
	default:
		return "<none>"
	}
}

// MarshalJSON encodes absent and null ids as null.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return strconv.AppendInt(nil, id.num, 10), nil
	case idString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts integers, strings and null. Fractional numbers and
// composite values are rejected.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return ErrInvalidID
	case bytes.Equal(data, []byte("null")):
		*id = NullID
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return ErrInvalidID
		}
		*id = NumberID(n)
		return nil
	default:
		return ErrInvalidID
	}
}
