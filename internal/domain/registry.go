package domain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/any-hub/offline-hub/internal/config"
)

// Registry 保存已注册的业务域，按注册顺序解析关键写接口。
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
	order  []string
}

// NewRegistry 构建空注册表。
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

// FromConfig 根据配置中的 [[Domain]] 段构建注册表。
func FromConfig(domains []config.DomainConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, d := range domains {
		store := Store{
			Name:        d.Name,
			Description: d.Description,
			Match:       append([]string(nil), d.Match...),
			Endpoint:    d.Endpoint,
		}
		if err := reg.Register(store); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register 将业务域加入注册表，重复名称会返回错误。
func (r *Registry) Register(store Store) error {
	name := normalizeName(store.Name)
	if name == "" {
		return fmt.Errorf("domain name is required")
	}
	if name == AllName {
		return fmt.Errorf("domain name %q is reserved", AllName)
	}
	store.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("domain %s already registered", name)
	}
	r.stores[name] = store
	r.order = append(r.order, name)
	return nil
}

// Lookup 按名称返回业务域，名称大小写不敏感。
func (r *Registry) Lookup(name string) (Store, bool) {
	if name == "" {
		return Store{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[normalizeName(name)]
	return store, ok
}

// Resolve 返回拥有该请求路径的业务域；按注册顺序第一个命中者胜出。
func (r *Registry) Resolve(path string) (Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		store := r.stores[name]
		if store.Matches(path) {
			return store, true
		}
	}
	return Store{}, false
}

// List 按注册顺序返回全部业务域。
func (r *Registry) List() []Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	result := make([]Store, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.stores[name])
	}
	return result
}

// Names 返回所有业务域名称，供诊断接口使用。
func (r *Registry) Names() []string {
	items := r.List()
	result := make([]string, len(items))
	for i, store := range items {
		result[i] = store.Name
	}
	return result
}

// Fragments 汇总全部关键写接口片段。
func (r *Registry) Fragments() []string {
	var result []string
	for _, store := range r.List() {
		result = append(result, store.Match...)
	}
	return result
}

// ResolveTag 将 sync 标签展开为业务域列表。sync-all 返回全部已注册业务域。
func (r *Registry) ResolveTag(tag string) ([]Store, bool, error) {
	name, all, err := ParseTag(tag)
	if err != nil {
		return nil, false, err
	}
	if all {
		return r.List(), true, nil
	}
	store, ok := r.Lookup(name)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return []Store{store}, false, nil
}
