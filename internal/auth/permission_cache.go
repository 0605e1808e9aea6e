package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mautops/docflow-gin/internal/types"
)

// PermissionCache 权限缓存
type PermissionCache struct {
	cache *sync.Map
	ttl   time.Duration
}

// cacheEntry 缓存条目
type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// NewPermissionCache 创建权限缓存
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		cache: &sync.Map{},
		ttl:   ttl,
	}
}

// Get 获取缓存
func (c *PermissionCache) Get(key string) (bool, bool) {
	val, found := c.cache.Load(key)
	if !found {
		return false, false
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		// 已过期，删除
		c.cache.Delete(key)
		return false, false
	}

	return entry.value, true
}

// Set 设置缓存
func (c *PermissionCache) Set(key string, value bool) {
	c.cache.Store(key, &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Clear 清空缓存
func (c *PermissionCache) Clear() {
	c.cache.Range(func(key, value interface{}) bool {
		c.cache.Delete(key)
		return true
	})
}

// CachedChecker 带缓存的权限检查器
// 只缓存成功的检查结果
type CachedChecker struct {
	next  types.PermissionChecker
	cache *PermissionCache
}

// NewCachedChecker 创建带缓存的权限检查器
func NewCachedChecker(next types.PermissionChecker, cache *PermissionCache) *CachedChecker {
	return &CachedChecker{next: next, cache: cache}
}

func (c *CachedChecker) cached(key string, check func() (bool, error)) (bool, error) {
	if value, found := c.cache.Get(key); found {
		return value, nil
	}
	allowed, err := check()
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

// HasRole 检查角色（带缓存）
func (c *CachedChecker) HasRole(ctx context.Context, actor types.Actor, roleID string) (bool, error) {
	key := fmt.Sprintf("user:%s:role:%s", actor.ID, strings.ToLower(roleID))
	return c.cached(key, func() (bool, error) {
		return c.next.HasRole(ctx, actor, roleID)
	})
}

// HasAnyRole 检查任一角色（带缓存）
func (c *CachedChecker) HasAnyRole(ctx context.Context, actor types.Actor, roleNames []string) (bool, error) {
	names := make([]string, len(roleNames))
	for i, name := range roleNames {
		names[i] = strings.ToLower(name)
	}
	sort.Strings(names)
	key := fmt.Sprintf("user:%s:roles:%s", actor.ID, strings.Join(names, ","))
	return c.cached(key, func() (bool, error) {
		return c.next.HasAnyRole(ctx, actor, roleNames)
	})
}

// HasPermission 检查权限（带缓存）
func (c *CachedChecker) HasPermission(ctx context.Context, actor types.Actor, permission string) (bool, error) {
	key := fmt.Sprintf("user:%s:permission:%s", actor.ID, permission)
	return c.cached(key, func() (bool, error) {
		return c.next.HasPermission(ctx, actor, permission)
	})
}

// Invalidate 清空缓存，在授权关系变更后调用
func (c *CachedChecker) Invalidate() {
	c.cache.Clear()
}
