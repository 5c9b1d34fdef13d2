package id

import "github.com/google/uuid"

// UUIDGenerator issues random (v4) identifiers.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// PrefixedGenerator prepends a fixed prefix, e.g. "mshop_" for payment transaction tags.
type PrefixedGenerator struct {
	Prefix string
}

func (g PrefixedGenerator) NewID() string { return g.Prefix + uuid.NewString() }
