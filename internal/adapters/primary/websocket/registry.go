package websocket

import "github.com/google/uuid"

// registry tracks every live connection plus a secondary index by user, so
// user-targeted fanout resolves without scanning. Owned exclusively by the
// hub's command loop; never shared, never locked.
type registry struct {
	byConn map[uuid.UUID]*Client
	byUser map[uuid.UUID]map[*Client]struct{}
}

func newRegistry() *registry {
	return &registry{
		byConn: make(map[uuid.UUID]*Client),
		byUser: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// register admits a connection. Idempotent per connection id.
func (r *registry) register(c *Client) {
	if _, ok := r.byConn[c.ID]; ok {
		return
	}
	r.byConn[c.ID] = c

	if r.byUser[c.Identity.UserID] == nil {
		r.byUser[c.Identity.UserID] = make(map[*Client]struct{})
	}
	r.byUser[c.Identity.UserID][c] = struct{}{}
}

// remove drops a connection from both indices. Reports whether the
// connection was registered.
func (r *registry) remove(c *Client) bool {
	if _, ok := r.byConn[c.ID]; !ok {
		return false
	}
	delete(r.byConn, c.ID)

	if userConns, ok := r.byUser[c.Identity.UserID]; ok {
		delete(userConns, c)
		if len(userConns) == 0 {
			delete(r.byUser, c.Identity.UserID)
		}
	}
	return true
}

// lookupByUser returns the live connections owned by a user. The returned
// map is the index itself; callers must not retain it across commands.
func (r *registry) lookupByUser(userID uuid.UUID) map[*Client]struct{} {
	return r.byUser[userID]
}

// contains reports whether the connection is still registered.
func (r *registry) contains(c *Client) bool {
	_, ok := r.byConn[c.ID]
	return ok
}

// size returns the number of live connections.
func (r *registry) size() int {
	return len(r.byConn)
}
