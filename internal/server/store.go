package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nulzo/gatewayctl/pkg/api"
)

// Store is the simulator's control-plane state.
type Store struct {
	mu        sync.RWMutex
	routes    map[string]api.Route
	consumers map[string]api.Consumer
	index     int64
}

func NewStore() *Store {
	return &Store{
		routes:    make(map[string]api.Route),
		consumers: make(map[string]api.Consumer),
	}
}

// Routes returns routes sorted by id, filtered by a "key:value" label
// selector when one is given.
func (s *Store) Routes(label string) []api.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, value, filter := strings.Cut(label, ":")
	out := make([]api.Route, 0, len(s.routes))
	for _, r := range s.routes {
		if filter && r.Labels[key] != value {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Route(id string) (api.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	return r, ok
}

// PutRoute stores r under id and reports whether it was newly created.
func (s *Store) PutRoute(id string, r api.Route) (api.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	prev, exists := s.routes[id]
	r.ID = id
	r.UpdateTime = now
	r.CreateTime = now
	if exists {
		r.CreateTime = prev.CreateTime
	}
	if r.Status == nil {
		r.Status = api.StatusPtr(true)
	}
	s.index++
	s.routes[id] = r
	return r, !exists
}

func (s *Store) DeleteRoute(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[id]; !ok {
		return false
	}
	delete(s.routes, id)
	s.index++
	return true
}

func (s *Store) Consumer(username string) (api.Consumer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consumers[username]
	return c, ok
}

func (s *Store) PutConsumer(c api.Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.consumers[c.Username]
	s.consumers[c.Username] = c
	s.index++
	return !exists
}

func (s *Store) DeleteConsumer(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[username]; !ok {
		return false
	}
	delete(s.consumers, username)
	s.index++
	return true
}

// ConsumerByKey finds the consumer whose key-auth key equals key.
func (s *Store) ConsumerByKey(key string) (api.Consumer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consumers {
		if k := c.Key(); k != "" && k == key {
			return c, true
		}
	}
	return api.Consumer{}, false
}

// Match returns the first enabled route, by id, whose uri and methods accept
// the request. A route without methods never matches.
func (s *Store) Match(method, path string) (api.Route, bool) {
	for _, r := range s.Routes("") {
		if !r.Enabled() || !uriMatches(r.URI, path) {
			continue
		}
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				return r, true
			}
		}
	}
	return api.Route{}, false
}

// Index is bumped on every mutation.
func (s *Store) Index() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

func uriMatches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == path
}
