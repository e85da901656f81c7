// Package registry tracks which users currently hold live connections.
//
// A user is online iff at least one connection is registered for them. The
// backing maps are never exposed; callers get snapshots only.
package registry

import (
	"sort"
	"sync"
)

type Registry struct {
	mu    sync.RWMutex
	conns map[string]string              // connection id -> user id
	users map[string]map[string]struct{} // user id -> set of connection ids
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]string),
		users: make(map[string]map[string]struct{}),
	}
}

// Register binds connID to userID. It reports whether this was the user's
// first live connection (i.e. the user just came online). Registering the
// same connID twice is a no-op.
func (r *Registry) Register(connID, userID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return false
	}

	r.conns[connID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Unregister removes connID and reports the owning user and whether that
// user has no connections left (i.e. just went offline). Unknown connIDs
// are ignored, so disconnect handling may run twice without harm.
func (r *Registry) Unregister(connID string) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	if !ok {
		return "", false
	}

	delete(r.conns, connID)
	set := r.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return userID, true
	}
	return userID, false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// OnlineUsers returns a sorted snapshot of every user id with at least one
// live connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connections returns the number of live connections held by userID.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}
