package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is a k-sortable unique identifier used for every persisted entity.
// The zero value is invalid; use MustNewID or ParseID.
type ID string

func MustNewID() ID {
	return ID(ksuid.New().String())
}

func ParseID(s string) (ID, error) {
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(s), nil
}

func (i ID) String() string {
	return string(i)
}

func (i ID) IsZero() bool {
	return i == ""
}
