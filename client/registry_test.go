package client

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
)

func TestRegistryAllocate(t *testing.T) {
	r := NewChannelRegistry(10)

	res, err := r.Allocate(3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ID())
	assert.True(t, r.IsReserved(3))
	assert.Equal(t, 1, r.Len())

	_, err = r.Allocate(3)
	assert.ErrorIs(t, err, amqperrors.ErrDuplicateID)
	assert.EqualError(t, err, "channel id 3 already in use")

	_, err = r.Allocate(0)
	assert.ErrorIs(t, err, amqperrors.ErrIDOutOfRange)
	assert.EqualError(t, err, "channel id 0 too low")

	_, err = r.Allocate(11)
	assert.ErrorIs(t, err, amqperrors.ErrIDOutOfRange)
	assert.EqualError(t, err, "channel id 11 too high")

	res.Release()
	assert.False(t, r.IsReserved(3))

	// Releasing twice is harmless and does not free a new holder's id
	again, err := r.Allocate(3)
	require.NoError(t, err)
	res.Release()
	assert.True(t, r.IsReserved(again.ID()))
}

func TestRegistryFullRange(t *testing.T) {
	r := NewChannelRegistry(65535)

	res, err := r.Allocate(65535)
	require.NoError(t, err)
	assert.Equal(t, 65535, res.ID())

	_, err = r.Allocate(65536)
	assert.EqualError(t, err, "channel id 65536 too high")
	_, err = r.Allocate(65537)
	assert.EqualError(t, err, "channel id 65537 too high")

	for _, id := range []int{1, 2, 11, 1024} {
		_, err := r.Allocate(id)
		require.NoError(t, err)
		_, err = r.Allocate(id)
		assert.ErrorIs(t, err, amqperrors.ErrDuplicateID)
		r.Release(id)
		_, err = r.Allocate(id)
		assert.NoError(t, err)
	}
}

func TestRegistryAllocateNext(t *testing.T) {
	r := NewChannelRegistry(4)

	for want := 1; want <= 4; want++ {
		res, err := r.AllocateNext()
		require.NoError(t, err)
		assert.Equal(t, want, res.ID())
	}

	_, err := r.AllocateNext()
	assert.ErrorIs(t, err, amqperrors.ErrIDOutOfRange)
	_, ok := r.NextFreeID()
	assert.False(t, ok)

	r.Release(2)
	id, ok := r.NextFreeID()
	require.True(t, ok)
	assert.Equal(t, 2, id)

	res, err := r.AllocateNext()
	require.NoError(t, err)
	assert.Equal(t, 2, res.ID())
}

func TestRegistryAllocateNextSkipsExplicitIDs(t *testing.T) {
	r := NewChannelRegistry(10)
	_, err := r.Allocate(1)
	require.NoError(t, err)
	_, err = r.Allocate(2)
	require.NoError(t, err)
	_, err = r.Allocate(4)
	require.NoError(t, err)

	res, err := r.AllocateNext()
	require.NoError(t, err)
	assert.Equal(t, 3, res.ID())

	res, err = r.AllocateNext()
	require.NoError(t, err)
	assert.Equal(t, 5, res.ID())
}

func TestRegistryReleaseUnknown(t *testing.T) {
	r := NewChannelRegistry(10)
	r.Release(5)
	r.Release(0)
	r.Release(99)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAllocate(t *testing.T) {
	r := NewChannelRegistry(100)
	var won atomic.Int32
	var g errgroup.Group

	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := r.Allocate(11)
			if err == nil {
				won.Add(1)
				return nil
			}
			if !assert.ErrorIs(t, err, amqperrors.ErrDuplicateID) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrentAllocateNext(t *testing.T) {
	r := NewChannelRegistry(64)
	ids := make([]int, 64)
	var g errgroup.Group

	for i := range ids {
		g.Go(func() error {
			res, err := r.AllocateNext()
			if err != nil {
				return err
			}
			ids[i] = res.ID()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	assert.Equal(t, 64, r.Len())
}
