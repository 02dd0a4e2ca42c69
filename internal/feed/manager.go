// Package feed multiplexes Polymarket websocket subscriptions across a
// bounded fleet of connections.
//
// Keys (asset IDs on the market channel, condition IDs on the user channel)
// are sharded into groups, each served by one websocket. Incoming events are
// demultiplexed back to user-supplied handlers, the market channel maintains
// local order book replicas, and a derived price_update event is synthesized
// whenever the book implies a new fair price. A background reaper drops
// drained groups and redials dead ones, so transient faults heal without
// caller involvement.
//
// Two independent feeds run concurrently:
//
//   - Market feed (public): subscribes by asset ID (token ID), receives
//     "book" snapshots plus "price_change", "tick_size_change" and
//     "last_trade_price" updates.
//
//   - User feed (authenticated): subscribes by condition ID, receives
//     "trade" fills and "order" lifecycle events.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"polymarket-feed/internal/book"
	"polymarket-feed/internal/clob"
	"polymarket-feed/internal/metrics"
	"polymarket-feed/pkg/types"
)

// DefaultWSBaseURL is the public Polymarket subscriptions endpoint.
const DefaultWSBaseURL = "wss://ws-subscriptions-clob.polymarket.com"

const (
	defaultReapInterval  = 10 * time.Second
	defaultUserGroupKeys = 100 // user channel caps markets per socket
)

// Options configures a Manager. The zero value works for both channels.
type Options struct {
	// WSBaseURL overrides the websocket endpoint, e.g. for tests.
	WSBaseURL string

	// BurstLimiter gates outbound dials. Nil installs the default
	// 5-per-second DialGate.
	BurstLimiter DialLimiter

	// ReconnectAndCleanupInterval is the reaper cadence. Default 10s.
	ReconnectAndCleanupInterval time.Duration

	// MaxKeysPerSocket caps keys per group. Zero means unbounded on the
	// market channel and 100 on the user channel.
	MaxKeysPerSocket int

	// InitialDump controls whether a market subscription requests book
	// snapshots up front. Nil defaults to true.
	InitialDump *bool

	// BootstrapBooks seeds book replicas over REST after each market
	// subscribe, for feeds running with InitialDump disabled.
	BootstrapBooks bool

	// RestBaseURL overrides the REST endpoint used by BootstrapBooks.
	RestBaseURL string

	// Metrics receives the manager's counters and gauges. Nil wires a
	// private registry so collectors never collide across instances.
	Metrics *metrics.Feed

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager coordinates one channel's subscriptions: it shards keys through
// the registry, dials group sockets through the gate, and keeps the fleet
// healthy with a periodic reconnect/cleanup pass. All failures surface
// through the handler's OnError; the public methods never return errors.
type Manager struct {
	registry *Registry
	policy   channelPolicy
	gate     DialLimiter
	metrics  *metrics.Feed
	logger   *slog.Logger
	cache    *book.Cache // market channel only, nil otherwise

	wsURL       string
	maxPerGroup int
	reapEvery   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewMarketManager creates a manager for the public market channel. A nil
// handler is replaced by BaseMarketHandler.
func NewMarketManager(handler MarketHandler, opts Options) *Manager {
	if handler == nil {
		handler = BaseMarketHandler{}
	}
	m := newManager(channelMarket, opts)

	initialDump := opts.InitialDump
	if initialDump == nil {
		dump := true
		initialDump = &dump
	}
	mc := &marketChannel{
		registry:    m.registry,
		cache:       book.NewCache(),
		handler:     handler,
		metrics:     m.metrics,
		logger:      m.logger,
		initialDump: initialDump,
	}
	if opts.BootstrapBooks {
		mc.bootstrap = m.bookSeeder(clob.NewClient(opts.RestBaseURL, m.logger), mc.cache)
	}
	m.cache = mc.cache
	m.policy = mc
	m.start()
	return m
}

// NewUserManager creates a manager for the authenticated user channel. The
// credential triplet is sent with every subscription payload.
func NewUserManager(auth types.Auth, handler UserHandler, opts Options) *Manager {
	if handler == nil {
		handler = BaseUserHandler{}
	}
	m := newManager(channelUser, opts)
	if m.maxPerGroup <= 0 {
		m.maxPerGroup = defaultUserGroupKeys
	}
	m.policy = &userChannel{
		registry: m.registry,
		auth:     &auth,
		handler:  handler,
		metrics:  m.metrics,
		logger:   m.logger,
	}
	m.start()
	return m
}

func newManager(channel string, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.NewFeed(prometheus.NewRegistry())
	}
	gate := opts.BurstLimiter
	if gate == nil {
		gate = NewDialGate(defaultDialRate, defaultDialBurst, defaultDialConcurrent)
	}
	wsURL := opts.WSBaseURL
	if wsURL == "" {
		wsURL = DefaultWSBaseURL
	}
	reap := opts.ReconnectAndCleanupInterval
	if reap <= 0 {
		reap = defaultReapInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:    NewRegistry(),
		gate:        gate,
		metrics:     met,
		logger:      logger.With("component", "feed_"+channel),
		wsURL:       wsURL,
		maxPerGroup: opts.MaxKeysPerSocket,
		reapEvery:   reap,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (m *Manager) start() {
	m.wg.Add(1)
	go m.reaperLoop()
}

// AddSubscriptions shards keys into groups, dials groups that need a
// connection, and subscribes keys landing in already-live groups in-band.
func (m *Manager) AddSubscriptions(ctx context.Context, keys []string) {
	if m.closed.Load() || ctx.Err() != nil {
		return
	}
	dialIDs, resub := m.registry.AddKeys(keys, m.maxPerGroup)
	for _, id := range dialIDs {
		m.dialGroup(id)
	}
	for id, newKeys := range resub {
		m.updateGroup(id, newKeys)
	}
}

// RemoveSubscriptions drops keys from the registry. Sockets are not closed
// here: events for removed keys stop being delivered immediately, and the
// next reaper pass closes any group left empty.
func (m *Manager) RemoveSubscriptions(ctx context.Context, keys []string) {
	if m.closed.Load() || ctx.Err() != nil {
		return
	}
	removed := m.registry.RemoveKeys(keys)
	m.policy.onRemovedKeys(removed)
}

// SubscribeAll pins a zero-key group whose subscription covers every market
// the account touches. Only meaningful on the user channel.
func (m *Manager) SubscribeAll(ctx context.Context) {
	if m.closed.Load() || ctx.Err() != nil {
		return
	}
	if m.policy.name() != channelUser {
		m.policy.onError(fmt.Errorf("%w: subscribe-all requires the user channel", ErrConfiguration))
		return
	}
	id, needsDial := m.registry.EnsurePinnedGroup()
	if needsDial {
		m.dialGroup(id)
	}
}

// ClearState stops the reaper, detaches every group, closes their sockets,
// and clears channel state (the market book cache). The manager must not be
// used afterwards.
func (m *Manager) ClearState() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.cancel()

	groups := m.registry.ClearAllGroups()
	for _, g := range groups {
		g.setStatus(StatusCleanup)
		if sock := g.socket(); sock != nil {
			sock.close()
		}
	}
	m.policy.onCleared()
	m.wg.Wait()
	m.logger.Info("state cleared", "groups", len(groups))
}

// Groups returns a point-in-time view of every group, for diagnostics.
func (m *Manager) Groups() []GroupView {
	return m.registry.Snapshot()
}

// Books exposes the market channel's order book replicas. Nil on the user
// channel.
func (m *Manager) Books() *book.Cache {
	return m.cache
}

// dialGroup starts a fresh socket for the group on its own goroutine; the
// dial gate may block it, never the caller.
func (m *Manager) dialGroup(id string) {
	g := m.registry.FindGroupByID(id)
	if g == nil {
		m.policy.onError(fmt.Errorf("%w: no group %s to dial", ErrConfiguration, id))
		return
	}
	sock := newGroupSocket(g, m.wsURL+m.policy.path(), m.policy, m.gate, m.metrics, m.logger)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sock.run(m.ctx)
	}()
}

// updateGroup subscribes newly assigned keys on a group's live socket. A
// failed write flips the group to DEAD so the reaper redials it with the
// full key set.
func (m *Manager) updateGroup(id string, newKeys []string) {
	g := m.registry.FindGroupByID(id)
	if g == nil {
		m.policy.onError(fmt.Errorf("%w: no group %s to update", ErrConfiguration, id))
		return
	}
	sock := g.socket()
	if sock == nil {
		m.dialGroup(id)
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := sock.sendUpdate(newKeys); err != nil {
			sock.markDead(fmt.Errorf("%w: subscribe update: %v", ErrTransport, err))
		}
	}()
}

func (m *Manager) reaperLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reapEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reconnectAndCleanup()
		}
	}
}

// reconnectAndCleanup runs one reaper pass: drained groups are dropped and
// their sockets closed, dead groups are redialed, gauges refreshed. Nothing
// in here can stop the loop.
func (m *Manager) reconnectAndCleanup() {
	redialIDs, removed := m.registry.ReconnectAndCleanup()

	for _, g := range removed {
		g.setStatus(StatusCleanup)
		if sock := g.socket(); sock != nil {
			sock.close()
		}
	}
	if len(removed) > 0 {
		m.logger.Info("dropped drained groups", "count", len(removed))
	}

	m.metrics.RecordRedials(m.policy.name(), len(redialIDs))
	for _, id := range redialIDs {
		m.dialGroup(id)
	}

	counts := make(map[GroupStatus]int)
	for _, v := range m.registry.Snapshot() {
		counts[v.Status]++
	}
	for _, status := range GroupStatuses.Members() {
		m.metrics.SetGroups(m.policy.name(), status.Value, counts[status])
	}
}

// bookSeeder returns the hook the market channel runs after each subscribe:
// snapshots are batch-fetched over REST and installed only for assets the
// live feed has not already populated.
func (m *Manager) bookSeeder(client *clob.Client, cache *book.Cache) func([]string) {
	return func(keys []string) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			books, err := client.GetOrderBooks(m.ctx, keys)
			if err != nil {
				m.logger.Warn("book bootstrap failed", "error", err)
				return
			}
			seeded := 0
			for _, b := range books {
				ok, err := cache.SeedBook(b.Event())
				if err != nil {
					m.logger.Warn("seed book failed", "asset", b.AssetID, "error", err)
					continue
				}
				if ok {
					seeded++
				}
			}
			m.logger.Info("book bootstrap complete", "requested", len(keys), "seeded", seeded)
		}()
	}
}
