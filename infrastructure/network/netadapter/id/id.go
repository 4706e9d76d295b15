package id

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ID identifies a network connection
type ID struct {
	uuid uuid.UUID
}

// GenerateID generates a new random ID
func GenerateID() (*ID, error) {
	generated, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, "failed generating a connection ID")
	}
	return &ID{uuid: generated}, nil
}

// FromString parses an ID previously produced by String
func FromString(s string) (*ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid connection ID %s", s)
	}
	return &ID{uuid: parsed}, nil
}

// IsEqual returns whether id equals other
func (id *ID) IsEqual(other *ID) bool {
	return id.uuid == other.uuid
}

func (id *ID) String() string {
	return id.uuid.String()
}
