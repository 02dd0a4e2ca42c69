package feed

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/orsinium-labs/enum"
)

// GroupStatus is the published lifecycle state of a group. The socket's
// finer-grained connect progression collapses into these four:
// dialing/init map to PENDING, a subscribed socket is ALIVE, a closed or
// errored one is DEAD, and an empty non-pinned group is CLEANUP until the
// reaper drops it.
type GroupStatus enum.Member[string]

var (
	StatusPending = GroupStatus{"PENDING"}
	StatusAlive   = GroupStatus{"ALIVE"}
	StatusDead    = GroupStatus{"DEAD"}
	StatusCleanup = GroupStatus{"CLEANUP"}

	GroupStatuses = enum.New(StatusPending, StatusAlive, StatusDead, StatusCleanup)
)

// Group is one shard of subscription keys backed by at most one live
// websocket. Keys is safe for concurrent reads by the socket's receive
// filter; status and the socket handle are guarded by the group's own
// mutex so socket goroutines never need the registry lock.
type Group struct {
	ID   string
	Keys mapset.Set[string]

	mu     sync.Mutex
	status GroupStatus
	sock   *groupSocket
	pinned bool // subscribeToAll: keeps the group alive with zero keys
}

func newGroup(pinned bool) *Group {
	return &Group{
		ID:     uuid.NewString(),
		Keys:   mapset.NewSet[string](),
		status: StatusPending,
		pinned: pinned,
	}
}

// Status returns the group's published status.
func (g *Group) Status() GroupStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Group) setStatus(s GroupStatus) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}

// Pinned reports whether the group survives with zero keys.
func (g *Group) Pinned() bool {
	return g.pinned
}

// shouldCleanup is the variant-agnostic cleanup test: no keys and not pinned.
func (g *Group) shouldCleanup() bool {
	return g.Keys.Cardinality() == 0 && !g.pinned
}

func (g *Group) socket() *groupSocket {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sock
}

// swapSocket installs s as the group's current socket and returns the
// previous one so the caller can close it outside the lock.
func (g *Group) swapSocket(s *groupSocket) *groupSocket {
	g.mu.Lock()
	prev := g.sock
	g.sock = s
	g.mu.Unlock()
	return prev
}

// isCurrentSocket lets a socket detect that it has been replaced; a stale
// socket must not touch the group's status on its way out.
func (g *Group) isCurrentSocket(s *groupSocket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sock == s
}

// GroupView is a read-only copy of a group's registry-visible state.
type GroupView struct {
	ID     string
	Keys   []string
	Status GroupStatus
	Pinned bool
}

// Registry shards subscription keys into groups behind a single mutex.
// Every mutation happens inside that one critical section and never
// performs I/O, invokes callbacks, or blocks on anything else. Reads used
// for dispatch (FindGroupByID, HasKey, ...) also take the lock but return
// promptly; callers treat a miss as "just removed" and drop the event.
type Registry struct {
	mu     sync.Mutex
	groups []*Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddKeys shards newKeys into groups of at most maxPerGroup keys
// (maxPerGroup <= 0 means unbounded). Keys already present anywhere are
// dropped. Remaining keys fill the first group that has room and is not in
// CLEANUP; DEAD groups are refilled and redialed. Returns the ids of groups
// that gained at least one key and are not currently ALIVE (they need a
// dial), plus a map of ALIVE group id -> keys it gained (they need an
// in-band subscribe on the live socket).
func (r *Registry) AddKeys(newKeys []string, maxPerGroup int) (dialIDs []string, resub map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resub = make(map[string][]string)
	dialSeen := make(map[string]bool)

	for _, key := range newKeys {
		if key == "" || r.holderLocked(key) != nil {
			continue
		}
		g := r.fittingGroupLocked(maxPerGroup)
		if g == nil {
			g = newGroup(false)
			r.groups = append(r.groups, g)
		}
		g.Keys.Add(key)
		if g.Status() == StatusAlive {
			resub[g.ID] = append(resub[g.ID], key)
			continue
		}
		if !dialSeen[g.ID] {
			dialSeen[g.ID] = true
			dialIDs = append(dialIDs, g.ID)
		}
	}
	return dialIDs, resub
}

// RemoveKeys removes each key from whichever group holds it and returns the
// keys actually removed. Emptied groups are left in place: the socket's
// heartbeat flips them to CLEANUP and the next reaper pass drops them, so
// in-flight events drain naturally.
func (r *Registry) RemoveKeys(oldKeys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]string, 0, len(oldKeys))
	for _, key := range oldKeys {
		if g := r.holderLocked(key); g != nil {
			g.Keys.Remove(key)
			removed = append(removed, key)
		}
	}
	return removed
}

// ReconnectAndCleanup classifies every group: empty non-pinned groups are
// dropped from the registry and returned for out-of-lock teardown, DEAD
// groups that still matter are flipped to PENDING and returned for redial.
// A CLEANUP group that still holds keys lost a retire race (its socket shut
// down just as a refill landed in-band) and is revived like a DEAD one.
func (r *Registry) ReconnectAndCleanup() (redialIDs []string, removed []*Group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.groups[:0]
	for _, g := range r.groups {
		if g.shouldCleanup() {
			removed = append(removed, g)
			continue
		}
		if s := g.Status(); s == StatusDead || s == StatusCleanup {
			g.setStatus(StatusPending)
			redialIDs = append(redialIDs, g.ID)
		}
		kept = append(kept, g)
	}
	r.groups = kept
	return redialIDs, removed
}

// FindGroupByID returns the group or nil.
func (r *Registry) FindGroupByID(id string) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// ClearAllGroups atomically detaches every group from the registry and
// returns them so the caller can close sockets outside the lock.
func (r *Registry) ClearAllGroups() []*Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := r.groups
	r.groups = nil
	return groups
}

// EnsurePinnedGroup returns the id of the pinned subscribe-to-all group,
// creating it if necessary. needsDial is true when the group is not ALIVE.
func (r *Registry) EnsurePinnedGroup() (id string, needsDial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Pinned() {
			return g.ID, g.Status() != StatusAlive
		}
	}
	g := newGroup(true)
	r.groups = append(r.groups, g)
	return g.ID, true
}

// HasKey reports whether any group currently holds key.
func (r *Registry) HasKey(key string) bool {
	return r.GroupCountForKey(key) > 0
}

// GroupCountForKey counts the groups holding key. More than one is a
// violation of the sharding invariant and worth a warning upstream.
func (r *Registry) GroupCountForKey(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.groups {
		if g.Keys.Contains(key) {
			n++
		}
	}
	return n
}

// HasSubscribeToAll reports whether any group is pinned subscribe-to-all.
func (r *Registry) HasSubscribeToAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Pinned() {
			return true
		}
	}
	return false
}

// Len returns the number of groups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// Snapshot returns a copy of the registry's visible state, primarily for
// tests and debug logging.
func (r *Registry) Snapshot() []GroupView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]GroupView, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, GroupView{
			ID:     g.ID,
			Keys:   g.Keys.ToSlice(),
			Status: g.Status(),
			Pinned: g.Pinned(),
		})
	}
	return out
}

// holderLocked returns the group holding key. Callers hold r.mu.
func (r *Registry) holderLocked(key string) *Group {
	for _, g := range r.groups {
		if g.Keys.Contains(key) {
			return g
		}
	}
	return nil
}

// fittingGroupLocked returns the first group with room that is not being
// cleaned up. Callers hold r.mu.
func (r *Registry) fittingGroupLocked(maxPerGroup int) *Group {
	for _, g := range r.groups {
		if g.Status() == StatusCleanup {
			continue
		}
		if g.Pinned() {
			continue
		}
		if maxPerGroup > 0 && g.Keys.Cardinality() >= maxPerGroup {
			continue
		}
		return g
	}
	return nil
}
