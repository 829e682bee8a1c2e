package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"geoforge/internal/auth"
	"geoforge/internal/messaging"
	"geoforge/internal/realtime"
)

// Options tunes the per-connection collaboration features.
type Options struct {
	CursorThrottle time.Duration
	// HeartbeatInterval is how often each connection refreshes its presence.
	// It must be shorter than the presence sweep TTL. Zero disables it.
	HeartbeatInterval time.Duration
}

// Hub tracks live gateway connections per project.
type Hub struct {
	rt        *realtime.Client
	messaging *messaging.Service
	validator *auth.Validator
	opts      Options

	// Map: projectId -> set of clients
	projects map[string]map[*Client]bool
	mu       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	quitOnce   sync.Once
}

func NewHub(rt *realtime.Client, validator *auth.Validator, opts Options) *Hub {
	return &Hub{
		rt:         rt,
		messaging:  messaging.NewService(rt),
		validator:  validator,
		opts:       opts,
		projects:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("[HUB] Starting hub event loop")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.projects[client.projectID] == nil {
		h.projects[client.projectID] = make(map[*Client]bool)
	}
	h.projects[client.projectID][client] = true

	slog.Info("[HUB] Client registered", "user", client.userID, "project", client.projectID, "clients", len(h.projects[client.projectID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.projects[client.projectID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)

	slog.Info("[HUB] Client unregistered", "user", client.userID, "project", client.projectID, "clients", len(clients))

	if len(clients) == 0 {
		delete(h.projects, client.projectID)
	}
}

func (h *Hub) shutdown() {
	h.quitOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for project, clients := range h.projects {
		for client := range clients {
			client.close()
			count++
		}
		delete(h.projects, project)
	}
	slog.Info("[HUB] Hub stopped", "closed", count)
}

type Stats struct {
	Connections int `json:"connections"`
	Projects    int `json:"projects"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Projects: len(h.projects)}
	for _, clients := range h.projects {
		s.Connections += len(clients)
	}
	return s
}

// ProjectUsers returns the user ids connected to a project.
func (h *Hub) ProjectUsers(projectID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := []string{}
	for client := range h.projects[projectID] {
		users = append(users, client.userID)
	}
	return users
}
