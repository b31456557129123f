package websocket

import "github.com/teamgrid/realtime-hub/internal/core/domain"

// roomIndex maintains the reverse side of room membership: room -> member
// set. The forward side lives on each Client's rooms map; both are mutated
// only by the hub's command loop, which keeps them in agreement.
//
// Rooms exist implicitly: a room springs into being with its first member
// and is deleted when its member set empties.
type roomIndex struct {
	byRoom map[domain.Room]map[*Client]struct{}
}

func newRoomIndex() *roomIndex {
	return &roomIndex{
		byRoom: make(map[domain.Room]map[*Client]struct{}),
	}
}

// join adds the connection to the room. Joining twice is a no-op.
func (ri *roomIndex) join(c *Client, room domain.Room) {
	if _, ok := c.rooms[room]; ok {
		return
	}
	if ri.byRoom[room] == nil {
		ri.byRoom[room] = make(map[*Client]struct{})
	}
	ri.byRoom[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// leave removes the connection from the room. Leaving a room the
// connection is not a member of is a no-op.
func (ri *roomIndex) leave(c *Client, room domain.Room) {
	if _, ok := c.rooms[room]; !ok {
		return
	}
	delete(c.rooms, room)

	if members, ok := ri.byRoom[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(ri.byRoom, room)
		}
	}
}

// leaveAll removes the connection from every room it belongs to.
func (ri *roomIndex) leaveAll(c *Client) {
	for room := range c.rooms {
		ri.leave(c, room)
	}
}

// members returns a room's member set, or nil for an empty room. Callers
// must not retain the map across commands.
func (ri *roomIndex) members(room domain.Room) map[*Client]struct{} {
	return ri.byRoom[room]
}

// size returns the number of rooms with at least one member.
func (ri *roomIndex) size() int {
	return len(ri.byRoom)
}
