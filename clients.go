package offlinecache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxClients is the capacity of a registry created by NewClientRegistry.
	DefaultMaxClients = 4096
	// DefaultClientIdle is how long a client is remembered after its last request.
	DefaultClientIdle = 24 * time.Hour
)

// Clients keeps track of the open application instances and the worker controlling each.
type Clients interface {
	// Register adds a new client controlled by the given worker
	// (no worker if the id is empty) and returns the client id.
	Register(controllerID string) string
	// Controller returns the id of the worker controlling the client.
	// It returns false for unknown clients.
	Controller(clientID string) (string, bool)
	// Claim makes the given worker the controller of all clients.
	Claim(ctx context.Context, controllerID string) error
}

// Client is a registered client and its controller.
type Client struct {
	ID         string `json:"id"`
	Controller string `json:"controller"`
}

type clientEntry struct {
	controller string
	lastSeen   time.Time
}

// ClientRegistry is an in-memory Clients implementation.
// Clients not seen for the idle duration are forgotten, and when the registry
// is full the least recently seen client makes room for a new one.
// A forgotten client that comes back is registered again.
type ClientRegistry struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	maxClients int
	idle       time.Duration
	now        func() time.Time
}

func NewClientRegistry() *ClientRegistry {
	return NewBoundedClientRegistry(DefaultMaxClients, DefaultClientIdle)
}

// NewBoundedClientRegistry creates a registry of at most maxClients clients
// that forgets clients idle for longer than idle.
func NewBoundedClientRegistry(maxClients int, idle time.Duration) *ClientRegistry {
	if maxClients < 1 {
		maxClients = 1
	}
	return &ClientRegistry{
		clients:    make(map[string]*clientEntry),
		maxClients: maxClients,
		idle:       idle,
		now:        time.Now,
	}
}

func (c *ClientRegistry) Register(controllerID string) string {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.expire(now)
	if len(c.clients) >= c.maxClients {
		c.evictOldest()
	}
	c.clients[id] = &clientEntry{controller: controllerID, lastSeen: now}
	return id
}

// Controller also marks the client as seen.
func (c *ClientRegistry) Controller(clientID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.clients[clientID]
	if !ok {
		return "", false
	}
	now := c.now()
	if c.expired(entry, now) {
		delete(c.clients, clientID)
		return "", false
	}
	entry.lastSeen = now
	return entry.controller, true
}

func (c *ClientRegistry) Claim(ctx context.Context, controllerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(c.now())
	for _, entry := range c.clients {
		entry.controller = controllerID
	}
	return nil
}

// List returns all clients ordered by id.
func (c *ClientRegistry) List() []Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire(c.now())
	list := make([]Client, 0, len(c.clients))
	for id, entry := range c.clients {
		list = append(list, Client{ID: id, Controller: entry.controller})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (c *ClientRegistry) expired(entry *clientEntry, now time.Time) bool {
	return c.idle > 0 && now.Sub(entry.lastSeen) > c.idle
}

func (c *ClientRegistry) expire(now time.Time) {
	for id, entry := range c.clients {
		if c.expired(entry, now) {
			delete(c.clients, id)
		}
	}
}

func (c *ClientRegistry) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, entry := range c.clients {
		if oldestID == "" || entry.lastSeen.Before(oldest) {
			oldestID, oldest = id, entry.lastSeen
		}
	}
	delete(c.clients, oldestID)
}
