// Package server coordinates the shared user and room registry for the Relay
// Chat system via the Directory type. Every command that reads or mutates
// registry state runs inside the Directory's single mutual-exclusion domain,
// including the composition and sending of all reply and notification frames.
package server

import (
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

// User is the directory's canonical record for a logged-in user: the unique
// display name and the push handle of the connection it arrived on.
type User struct {
	name    string
	session FramePusher
}

// Room is a named chat room. The owner is always a member, so a room can
// never exist with zero members; membership is keyed by username for O(1)
// join, leave, and uniqueness checks.
type Room struct {
	name    string
	owner   string
	members map[string]*User
}

// Directory is the shared in-memory registry of users and rooms. It is the
// single owner of both record sets: no other component mutates them, and all
// operations acquire the directory lock internally.
type Directory struct {
	mu    sync.Mutex
	users map[string]*User
	rooms map[string]*Room
}

// NewDirectory creates an empty Directory ready for concurrent use.
func NewDirectory() *Directory {
	return &Directory{
		users: make(map[string]*User),
		rooms: make(map[string]*Room),
	}
}

// Login atomically checks that no user with the given name exists and
// registers one. The check and the insert happen under one critical section
// so two simultaneous logins with the same name can never both succeed.
// The reply frame (OK or EUSREXISTS) is pushed before the lock is released.
func (d *Directory) Login(name string, session FramePusher) (UserRef, wire.MsgType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[name]; exists {
		d.push(session, name, wire.ErrUserExists, nil)
		return UserRef{}, wire.ErrUserExists
	}

	d.users[name] = &User{name: name, session: session}
	log.Printf("User %q logged in. Total users: %d", name, len(d.users))

	d.push(session, name, wire.OK, nil)
	return UserRef{Name: name, Session: session}, wire.OK
}

// Logout removes the user and everything it owns: every owned room is closed
// (members other than the owner are notified), the user leaves every other
// room it belongs to, and the user record is deregistered. When reply is
// false the OK frame is suppressed; disconnects without an explicit LOGOUT
// run the same cleanup that way.
func (d *Directory) Logout(user UserRef, reply bool) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[user.Name]; !exists {
		if reply {
			return d.reply(user, wire.ErrServer, nil)
		}
		return wire.ErrServer
	}

	// Snapshot the owned room names first: closing a room mutates the room
	// map being iterated.
	var owned []string
	for name, room := range d.rooms {
		if room.owner == user.Name {
			owned = append(owned, name)
		}
	}
	for _, name := range owned {
		d.closeRoomLocked(d.rooms[name])
	}

	for _, room := range d.rooms {
		delete(room.members, user.Name)
	}

	delete(d.users, user.Name)
	log.Printf("User %q logged out. Total users: %d", user.Name, len(d.users))

	if reply {
		return d.reply(user, wire.OK, nil)
	}
	return wire.OK
}

// CreateRoom creates a room owned by the requester, who is auto-joined as
// its first member.
func (d *Directory) CreateRoom(req UserRef, name string) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.rooms[name]; exists {
		return d.reply(req, wire.ErrRoomExists, nil)
	}

	owner, ok := d.users[req.Name]
	if !ok {
		// Stale snapshot: the requester logged out between enqueue and execution.
		return d.reply(req, wire.ErrServer, nil)
	}

	d.rooms[name] = &Room{
		name:    name,
		owner:   req.Name,
		members: map[string]*User{req.Name: owner},
	}
	log.Printf("Room %q created by %q. Total rooms: %d", name, req.Name, len(d.rooms))

	return d.reply(req, wire.OK, nil)
}

// DeleteRoom removes the named room if the requester owns it, pushing a
// RMCLOSED notification to every other member first.
func (d *Directory) DeleteRoom(req UserRef, name string) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[name]
	if !exists {
		return d.reply(req, wire.ErrRoomNotFound, nil)
	}
	if room.owner != req.Name {
		return d.reply(req, wire.ErrRoomDenied, nil)
	}

	d.closeRoomLocked(room)
	return d.reply(req, wire.OK, nil)
}

// ListRooms pushes a RMLIST frame whose payload holds one
// "<room>: <member1>,<member2>\n" line per room. An empty directory yields a
// zero-length payload with no terminator.
func (d *Directory) ListRooms(req UserRef) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	var listing strings.Builder
	for _, name := range names {
		room := d.rooms[name]
		members := make([]string, 0, len(room.members))
		for member := range room.members {
			members = append(members, member)
		}
		sort.Strings(members)

		listing.WriteString(name)
		listing.WriteString(": ")
		listing.WriteString(strings.Join(members, ","))
		listing.WriteByte('\n')
	}

	return d.reply(req, wire.RoomList, []byte(listing.String()))
}

// JoinRoom adds the requester to the named room's membership. Joining a room
// the requester already belongs to succeeds without duplicating the entry.
func (d *Directory) JoinRoom(req UserRef, name string) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[name]
	if !exists {
		return d.reply(req, wire.ErrRoomNotFound, nil)
	}

	user, ok := d.users[req.Name]
	if !ok {
		return d.reply(req, wire.ErrServer, nil)
	}

	room.members[req.Name] = user
	return d.reply(req, wire.OK, nil)
}

// LeaveRoom removes the requester from the named room's membership. The
// owner is denied: an owner leaving would strand the room, so it must be
// deleted instead.
func (d *Directory) LeaveRoom(req UserRef, name string) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[name]
	if !exists {
		return d.reply(req, wire.ErrRoomNotFound, nil)
	}
	if room.owner == req.Name {
		return d.reply(req, wire.ErrRoomDenied, nil)
	}

	delete(room.members, req.Name)
	return d.reply(req, wire.OK, nil)
}

// SendRoomMessage pushes a RMRECV frame carrying the room name, sender name,
// and text to every member of the room other than the sender. Only members
// may send.
func (d *Directory) SendRoomMessage(req UserRef, name, text string) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[name]
	if !exists {
		return d.reply(req, wire.ErrRoomNotFound, nil)
	}
	if _, member := room.members[req.Name]; !member {
		return d.reply(req, wire.ErrRoomDenied, nil)
	}

	payload := wire.JoinTarget(name, string(wire.JoinTarget(req.Name, text)))
	for memberName, member := range room.members {
		if memberName == req.Name {
			continue
		}
		d.push(member.session, memberName, wire.RoomReceive, payload)
	}

	return d.reply(req, wire.OK, nil)
}

// ListUsers pushes a USRLIST frame whose payload is the newline-joined names
// of every user except the requester. No users besides the requester yields
// a zero-length payload.
func (d *Directory) ListUsers(req UserRef) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.users))
	for name := range d.users {
		if name == req.Name {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return d.reply(req, wire.UserList, []byte(strings.Join(names, "\n")))
}

// SendUserMessage pushes a USRRECV frame carrying the sender name and text
// directly to the target user.
func (d *Directory) SendUserMessage(req UserRef, target, text string) wire.MsgType {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, exists := d.users[target]
	if !exists {
		return d.reply(req, wire.ErrUserNotFound, nil)
	}

	d.push(user.session, target, wire.UserReceive, wire.JoinTarget(req.Name, text))
	return d.reply(req, wire.OK, nil)
}

// UserNames returns the sorted names of all registered users.
func (d *Directory) UserNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.users))
	for name := range d.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoomNames returns the sorted names of all existing rooms.
func (d *Directory) RoomNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoomMembers returns the owner and the sorted member names of the named
// room, or ok=false if no such room exists.
func (d *Directory) RoomMembers(name string) (owner string, members []string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, exists := d.rooms[name]
	if !exists {
		return "", nil, false
	}

	members = make([]string, 0, len(room.members))
	for member := range room.members {
		members = append(members, member)
	}
	sort.Strings(members)
	return room.owner, members, true
}

// closeRoomLocked notifies every member other than the owner that the room
// closed, then removes the room. Callers hold the directory lock. The member
// list is snapshotted before iterating so notification order is stable even
// though the whole room is about to go away.
func (d *Directory) closeRoomLocked(room *Room) {
	members := make([]string, 0, len(room.members))
	for name := range room.members {
		if name != room.owner {
			members = append(members, name)
		}
	}
	sort.Strings(members)

	notice := []byte(room.name)
	for _, name := range members {
		d.push(room.members[name].session, name, wire.RoomClosed, notice)
	}

	delete(d.rooms, room.name)
	log.Printf("Room %q closed. Total rooms: %d", room.name, len(d.rooms))
}

// reply pushes a frame to the requester and reports the type that was sent.
func (d *Directory) reply(req UserRef, msgType wire.MsgType, payload []byte) wire.MsgType {
	d.push(req.Session, req.Name, msgType, payload)
	return msgType
}

// push writes one frame to a session handle, tolerating sessions that are
// already gone. A failed push never fails the command that triggered it.
func (d *Directory) push(session FramePusher, name string, msgType wire.MsgType, payload []byte) {
	if session == nil {
		return
	}
	if err := session.Push(msgType, payload); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error pushing %v frame to %q: %v", msgType, name, err)
	}
}
