package store

import (
	"sync"

	"github.com/wesm/chatvault/internal/model"
)

// cache is the read-through cache of spec §4.2.7: it holds `datasets`
// and a per-dataset `users` map, rebuilt lazily on first read after an
// invalidation. Mutating methods invalidate it at the *start* of the
// call (see Store.withWriteLock), so a reader observing a read after a
// failed mutation may see pre-mutation state — acceptable because
// mutations already hold the write lock for their whole duration.
type cache struct {
	mu       sync.Mutex
	valid    bool
	datasets []model.Dataset

	usersMu sync.Mutex
	users   map[model.DatasetUUID]map[model.UserID]model.User
	myself  map[model.DatasetUUID]model.UserID
}

func (c *cache) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.datasets = nil
	c.mu.Unlock()

	c.usersMu.Lock()
	c.users = nil
	c.myself = nil
	c.usersMu.Unlock()
}

func (c *cache) getDatasets(load func() ([]model.Dataset, error)) ([]model.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		return c.datasets, nil
	}
	ds, err := load()
	if err != nil {
		return nil, err
	}
	c.datasets = ds
	c.valid = true
	return ds, nil
}

func (c *cache) getUsers(ds model.DatasetUUID, load func() (map[model.UserID]model.User, model.UserID, error)) (map[model.UserID]model.User, model.UserID, error) {
	c.usersMu.Lock()
	defer c.usersMu.Unlock()
	if c.users != nil {
		if u, ok := c.users[ds]; ok {
			return u, c.myself[ds], nil
		}
	}
	users, myself, err := load()
	if err != nil {
		return nil, 0, err
	}
	if c.users == nil {
		c.users = make(map[model.DatasetUUID]map[model.UserID]model.User)
		c.myself = make(map[model.DatasetUUID]model.UserID)
	}
	c.users[ds] = users
	c.myself[ds] = myself
	return users, myself, nil
}
