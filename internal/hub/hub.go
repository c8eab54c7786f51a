package hub

import "sync"

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	UserID       string
	ConnectionID string
	Writer       Writer
}

// Hub is the in-process connection registry backing the realtime gateway.
// Connections are indexed per user and may additionally join named groups
// (per-user command channels, the presence feed).
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
	groups      map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{
		connections: make(map[string]map[*Connection]struct{}),
		groups:      make(map[string]map[*Connection]struct{}),
	}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[*Connection]struct{})
	}
	h.connections[conn.UserID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(conn)
}

func (h *Hub) unregisterLocked(conn *Connection) {
	set := h.connections[conn.UserID]
	if set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.connections, conn.UserID)
		}
	}
	for name, members := range h.groups {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
}

func (h *Hub) Join(group string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Connection]struct{})
	}
	h.groups[group][conn] = struct{}{}
}

func (h *Hub) Leave(group string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.groups[group]
	if members == nil {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Broadcast writes to every member of a group, dropping connections whose
// writer fails.
func (h *Hub) Broadcast(group string, message []byte) error {
	h.mu.RLock()
	set := h.groups[group]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.write(conns, message)
	return nil
}

// SendToUser writes to every connection a user currently holds.
func (h *Hub) SendToUser(userID string, message []byte) error {
	h.mu.RLock()
	set := h.connections[userID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.write(conns, message)
	return nil
}

func (h *Hub) write(conns []*Connection, message []byte) {
	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range failed {
		_ = c.Writer.Close()
		h.unregisterLocked(c)
	}
}

// ListLiveConnections returns the ids of users with at least one live
// connection. This is the registry side of reconciliation.
func (h *Hub) ListLiveConnections() ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.connections))
	for userID := range h.connections {
		users = append(users, userID)
	}
	return users, nil
}

// ConnectionCount reports how many sockets a user currently holds.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}
