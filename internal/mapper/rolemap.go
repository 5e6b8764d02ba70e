package mapper

import (
	lru "github.com/hashicorp/golang-lru/v2"

	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/mapping"
)

// defaultRoleCacheSize bounds the number of cached role maps.
const defaultRoleCacheSize = 128

// RoleCache projects an index's enabled role mappings onto role -> target
// field name, so display logic can find canonical title/image/summary/url/
// date/iiif fields without schema knowledge. Entries are invalidated
// explicitly whenever an index's mappings change.
type RoleCache struct {
	cache *lru.Cache[string, map[mapping.Role]string]
}

// NewRoleCache creates a role-map cache.
func NewRoleCache() (*RoleCache, error) {
	c, err := lru.New[string, map[mapping.Role]string](defaultRoleCacheSize)
	if err != nil {
		return nil, err
	}
	return &RoleCache{cache: c}, nil
}

// RoleMap returns the role projection for an index, building and caching it
// on first access.
func (rc *RoleCache) RoleMap(idx domidx.Index) map[mapping.Role]string {
	if cached, ok := rc.cache.Get(idx.Handle()); ok {
		return cached
	}
	roles := BuildRoleMap(idx)
	rc.cache.Add(idx.Handle(), roles)
	return roles
}

// Invalidate drops the cached projection for an index handle.
func (rc *RoleCache) Invalidate(handle string) {
	rc.cache.Remove(handle)
}

// BuildRoleMap computes the role projection without caching.
func BuildRoleMap(idx domidx.Index) map[mapping.Role]string {
	roles := make(map[mapping.Role]string)
	for _, m := range idx.EnabledMappings() {
		if r := m.MappingRole(); r != mapping.RoleNone {
			roles[r] = m.TargetField()
		}
	}
	return roles
}
