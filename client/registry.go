package client

import (
	"sync"

	"github.com/RoaringBitmap/roaring"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
)

// ChannelRegistry tracks which channel ids of a connection are reserved.
// Id 0 belongs to the connection itself and is never handed out.
type ChannelRegistry struct {
	mu  sync.Mutex
	ids *roaring.Bitmap
	max int
	// every id in [1, low) is reserved
	low int
}

// NewChannelRegistry creates a registry for ids in [1, max].
func NewChannelRegistry(max int) *ChannelRegistry {
	return &ChannelRegistry{
		ids: roaring.New(),
		max: max,
		low: 1,
	}
}

// Reservation is a reserved channel id. Releasing it twice is harmless.
type Reservation struct {
	registry *ChannelRegistry
	id       int
	once     sync.Once
}

// ID returns the reserved channel id.
func (r *Reservation) ID() int {
	return r.id
}

// Release returns the id to the registry.
func (r *Reservation) Release() {
	r.once.Do(func() { r.registry.Release(r.id) })
}

// Allocate reserves id. It fails with ErrDuplicateID when the id is taken
// and ErrIDOutOfRange when it falls outside [1, max].
func (r *ChannelRegistry) Allocate(id int) (*Reservation, error) {
	if id < 1 || id > r.max {
		return nil, amqperrors.NewIDOutOfRange(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ids.CheckedAdd(uint32(id)) {
		return nil, amqperrors.NewDuplicateID(id)
	}
	if id == r.low {
		r.low++
	}
	return &Reservation{registry: r, id: id}, nil
}

// AllocateNext reserves the lowest free id.
func (r *ChannelRegistry) AllocateNext() (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.nextFreeLocked()
	if !ok {
		return nil, amqperrors.NewIDOutOfRange(r.max + 1)
	}
	r.ids.Add(uint32(id))
	r.low = id + 1
	return &Reservation{registry: r, id: id}, nil
}

// Release frees id. Releasing an id that is not reserved is a no-op.
func (r *ChannelRegistry) Release(id int) {
	if id < 1 || id > r.max {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ids.CheckedRemove(uint32(id)) && id < r.low {
		r.low = id
	}
}

// NextFreeID returns the lowest id that is not reserved, without reserving it.
func (r *ChannelRegistry) NextFreeID() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextFreeLocked()
}

func (r *ChannelRegistry) nextFreeLocked() (int, bool) {
	for id := r.low; id <= r.max; id++ {
		if !r.ids.Contains(uint32(id)) {
			r.low = id
			return id, true
		}
	}
	r.low = r.max + 1
	return 0, false
}

// IsReserved reports whether id is currently reserved.
func (r *ChannelRegistry) IsReserved(id int) bool {
	if id < 1 || id > r.max {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.Contains(uint32(id))
}

// Len returns the number of reserved ids.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.ids.GetCardinality())
}

// Max returns the highest id the registry hands out.
func (r *ChannelRegistry) Max() int {
	return r.max
}
