package resultstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &Stream{}

	key := r.Register(s)
	got, err := r.Get(key)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistryAssignsDistinctKeys(t *testing.T) {
	r := NewRegistry()
	key1 := r.Register(&Stream{})
	key2 := r.Register(&Stream{})
	assert.NotEqual(t, key1, key2)
}

func TestRegistryGetUnknownKeyErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(42)
	assert.Error(t, err)
}

func TestRegistryReleaseRemovesStream(t *testing.T) {
	r := NewRegistry()
	key := r.Register(&Stream{})

	r.Release(key)

	_, err := r.Get(key)
	assert.Error(t, err)
}

func TestRegistryReleaseUnknownKeyIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Release(999) })
}
