package qdrant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointUUIDIsDeterministic(t *testing.T) {
	a := PointUUID("c-1/2024#000")
	b := PointUUID("c-1/2024#000")
	c := PointUUID("c-1/2024#001")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}
