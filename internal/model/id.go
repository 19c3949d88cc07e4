// Package model defines the engine's core entities: tasks, segments, streams,
// progress samples, batches, and history records.
package model

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID-backed identifier shared by tasks, batches, and history records.
type ID ulid.ULID

// NewID generates a new time-ordered identifier.
func NewID() ID {
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseID parses a string-form identifier.
func ParseID(s string) (ID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(id), nil
}

// MustParseID parses s and panics on failure. Reserved for constants/tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return ulid.ULID(id).String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return ulid.ULID(id).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer so ID can be stored by database/sql and GORM.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return ulid.ULID(id).String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(value any) error {
	if value == nil {
		*id = ID{}
		return nil
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			*id = ID{}
			return nil
		}
		parsed, err := ulid.Parse(v)
		if err != nil {
			return fmt.Errorf("scanning id: %w", err)
		}
		*id = ID(parsed)
	case []byte:
		return id.Scan(string(v))
	default:
		return fmt.Errorf("unsupported type for ID: %T", value)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ID{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid id JSON: %s", string(data))
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("parsing id JSON: %w", err)
	}
	*id = ID(parsed)
	return nil
}

// GormDataType tells GORM how to provision the backing column.
func (ID) GormDataType() string {
	return "varchar(26)"
}
