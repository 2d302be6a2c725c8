package telemetry

import "sync"

// LatestCache holds the most recent reading per device in memory.
//
// Put refuses to regress: a reading whose ReceivedAt is older than the
// cached entry is ignored, so concurrent writers cannot make the cache
// go backwards relative to what has already been served.
type LatestCache struct {
	mu      sync.RWMutex
	entries map[string]*Reading
}

// NewLatestCache creates an empty latest-reading cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{
		entries: make(map[string]*Reading),
	}
}

// Put stores the reading as the latest for its device unless a newer
// reading is already cached. Returns true if the cache was updated.
func (c *LatestCache) Put(reading *Reading) bool {
	if reading == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[reading.DeviceID]; ok && cur.ReceivedAt.After(reading.ReceivedAt) {
		return false
	}
	c.entries[reading.DeviceID] = reading.Copy()
	return true
}

// Get returns a copy of the latest cached reading for a device, or
// false if nothing is cached.
func (c *LatestCache) Get(deviceID string) (*Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	reading, ok := c.entries[deviceID]
	if !ok {
		return nil, false
	}
	return reading.Copy(), true
}

// Invalidate drops the cached reading for a device.
func (c *LatestCache) Invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deviceID)
}
