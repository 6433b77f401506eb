package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_ListBackendsReturnsACopy(t *testing.T) {
	s := NewStatic([]Tuple{{Name: "B1", Address: "10.0.0.1", Port: 8080, InstanceID: "i-1"}})

	got, err := s.ListBackends(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)

	got[0].Name = "mutated"
	got2, err := s.ListBackends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B1", got2[0].Name)
}

func TestStatic_ByAddressFindsMatch(t *testing.T) {
	s := NewStatic([]Tuple{{Name: "B1", Address: "10.0.0.1", InstanceID: "i-1"}})

	id, found, err := s.ByAddress(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "i-1", id)
}

func TestStatic_ByAddressNoMatch(t *testing.T) {
	s := NewStatic(nil)
	_, found, err := s.ByAddress(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, found)
}
