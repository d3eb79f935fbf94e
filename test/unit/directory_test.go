package unit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay-chat-server/internal/server"
	"github.com/relaychat/relay-chat-server/internal/wire"
	"github.com/relaychat/relay-chat-server/test/testhelpers"
)

// loginUser registers a user backed by a recording session and fails the
// test if the login is rejected.
func loginUser(t *testing.T, directory *server.Directory, name string) (server.UserRef, *testhelpers.RecordingSession) {
	t.Helper()

	session := &testhelpers.RecordingSession{}
	user, result := directory.Login(name, session)
	require.Equal(t, wire.OK, result, "login for %q should succeed", name)
	return user, session
}

// TestLoginUniqueness verifies that a second login with a name already
// present receives EUSREXISTS and is not registered.
func TestLoginUniqueness(t *testing.T) {
	directory := server.NewDirectory()

	loginUser(t, directory, "alice")

	imposter := &testhelpers.RecordingSession{}
	_, result := directory.Login("alice", imposter)
	assert.Equal(t, wire.ErrUserExists, result)

	last, ok := imposter.LastFrame()
	require.True(t, ok)
	assert.Equal(t, wire.ErrUserExists, last.Type)
	assert.Equal(t, []string{"alice"}, directory.UserNames(), "rejected login must not be registered")
}

// TestConcurrentLoginsSameName verifies that for any number of simultaneous
// logins with one name, exactly one succeeds.
func TestConcurrentLoginsSameName(t *testing.T) {
	directory := server.NewDirectory()

	const attempts = 32
	results := make([]wire.MsgType, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = directory.Login("highlander", &testhelpers.RecordingSession{})
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, result := range results {
		if result == wire.OK {
			okCount++
		} else {
			assert.Equal(t, wire.ErrUserExists, result)
		}
	}
	assert.Equal(t, 1, okCount, "exactly one concurrent login may win")
	assert.Equal(t, []string{"highlander"}, directory.UserNames())
}

// TestCreateRoomOwnerAutoJoins verifies that creating a room registers the
// requester as both owner and first member.
func TestCreateRoomOwnerAutoJoins(t *testing.T) {
	directory := server.NewDirectory()
	alice, session := loginUser(t, directory, "alice")

	assert.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))

	owner, members, ok := directory.RoomMembers("lobby")
	require.True(t, ok)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, []string{"alice"}, members)

	last, ok := session.LastFrame()
	require.True(t, ok)
	assert.Equal(t, wire.OK, last.Type)

	assert.Equal(t, wire.ErrRoomExists, directory.CreateRoom(alice, "lobby"))
}

// TestJoinRoomIdempotent verifies that joining a room twice succeeds without
// duplicating the membership entry.
func TestJoinRoomIdempotent(t *testing.T) {
	directory := server.NewDirectory()
	alice, _ := loginUser(t, directory, "alice")
	bob, _ := loginUser(t, directory, "bob")

	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))
	assert.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))
	assert.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))

	_, members, ok := directory.RoomMembers("lobby")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, members)
}

// TestJoinUnknownRoom verifies that joining a room that does not exist
// returns ERMNOTFOUND and does not mutate the directory.
func TestJoinUnknownRoom(t *testing.T) {
	directory := server.NewDirectory()
	alice, _ := loginUser(t, directory, "alice")

	assert.Equal(t, wire.ErrRoomNotFound, directory.JoinRoom(alice, "nope"))
	assert.Empty(t, directory.RoomNames())
}

// TestLeaveRoomOwnerDenied verifies the ownership invariant: the owner can
// never leave its own room, so it always stays a member.
func TestLeaveRoomOwnerDenied(t *testing.T) {
	directory := server.NewDirectory()
	alice, _ := loginUser(t, directory, "alice")
	bob, _ := loginUser(t, directory, "bob")

	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))
	require.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))

	assert.Equal(t, wire.ErrRoomDenied, directory.LeaveRoom(alice, "lobby"))
	assert.Equal(t, wire.OK, directory.LeaveRoom(bob, "lobby"))

	owner, members, ok := directory.RoomMembers("lobby")
	require.True(t, ok)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, []string{"alice"}, members, "removing the last non-owner leaves the owner")
}

// TestDeleteRoomNotifications verifies that deleting a room with members
// {owner, A, B} sends exactly one RMCLOSED to A and to B, none to the owner,
// and removes the room.
func TestDeleteRoomNotifications(t *testing.T) {
	directory := server.NewDirectory()
	alice, aliceSession := loginUser(t, directory, "alice")
	bob, bobSession := loginUser(t, directory, "bob")
	carol, carolSession := loginUser(t, directory, "carol")

	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))
	require.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))
	require.Equal(t, wire.OK, directory.JoinRoom(carol, "lobby"))

	assert.Equal(t, wire.OK, directory.DeleteRoom(alice, "lobby"))

	assert.Equal(t, 1, bobSession.CountType(wire.RoomClosed))
	assert.Equal(t, 1, carolSession.CountType(wire.RoomClosed))
	assert.Equal(t, 0, aliceSession.CountType(wire.RoomClosed))

	closed, ok := bobSession.LastFrame()
	require.True(t, ok)
	assert.Equal(t, []byte("lobby"), closed.Payload, "notification carries the room name")

	assert.Empty(t, directory.RoomNames())
}

// TestDeleteRoomDenied verifies the non-owner and missing-room failure replies.
func TestDeleteRoomDenied(t *testing.T) {
	directory := server.NewDirectory()
	alice, _ := loginUser(t, directory, "alice")
	bob, _ := loginUser(t, directory, "bob")

	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))

	assert.Equal(t, wire.ErrRoomNotFound, directory.DeleteRoom(bob, "nope"))
	assert.Equal(t, wire.ErrRoomDenied, directory.DeleteRoom(bob, "lobby"))
	assert.Equal(t, []string{"lobby"}, directory.RoomNames())
}

// TestSendRoomMessageFanOut verifies that a room message reaches every other
// member exactly once, carrying room, sender, and text, and never echoes to
// the sender.
func TestSendRoomMessageFanOut(t *testing.T) {
	directory := server.NewDirectory()
	alice, aliceSession := loginUser(t, directory, "alice")
	bob, bobSession := loginUser(t, directory, "bob")

	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))
	require.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))

	assert.Equal(t, wire.OK, directory.SendRoomMessage(alice, "lobby", "hi"))

	received, ok := bobSession.WaitForFrame(wire.RoomReceive, testhelpers.RecvTimeout)
	require.True(t, ok, "bob should receive the room message")
	assert.Equal(t, []byte("lobby\r\nalice\r\nhi"), received.Payload)

	assert.Equal(t, 0, aliceSession.CountType(wire.RoomReceive))

	// an outsider is denied
	carol, _ := loginUser(t, directory, "carol")
	assert.Equal(t, wire.ErrRoomDenied, directory.SendRoomMessage(carol, "lobby", "hey"))
}

// TestListRoomsFormat verifies the "<room>: <m1>,<m2>\n" listing lines and
// that an empty directory yields a zero-length payload.
func TestListRoomsFormat(t *testing.T) {
	directory := server.NewDirectory()
	alice, aliceSession := loginUser(t, directory, "alice")

	require.Equal(t, wire.RoomList, directory.ListRooms(alice))
	empty, ok := aliceSession.LastFrame()
	require.True(t, ok)
	assert.Empty(t, empty.Payload, "empty directory yields an empty listing with no terminator")

	bob, _ := loginUser(t, directory, "bob")
	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))
	require.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))
	require.Equal(t, wire.OK, directory.CreateRoom(bob, "den"))

	require.Equal(t, wire.RoomList, directory.ListRooms(alice))
	listing, ok := aliceSession.LastFrame()
	require.True(t, ok)
	assert.Equal(t, "den: bob\nlobby: alice,bob\n", string(listing.Payload))
}

// TestListUsersExcludesRequester verifies the newline-joined user listing
// and the zero-length payload when the requester is alone.
func TestListUsersExcludesRequester(t *testing.T) {
	directory := server.NewDirectory()
	alice, aliceSession := loginUser(t, directory, "alice")

	require.Equal(t, wire.UserList, directory.ListUsers(alice))
	alone, ok := aliceSession.LastFrame()
	require.True(t, ok)
	assert.Empty(t, alone.Payload)

	loginUser(t, directory, "carol")
	loginUser(t, directory, "bob")

	require.Equal(t, wire.UserList, directory.ListUsers(alice))
	listing, ok := aliceSession.LastFrame()
	require.True(t, ok)
	assert.Equal(t, "bob\ncarol", string(listing.Payload))
}

// TestSendUserMessage verifies direct messages and the unknown-target reply.
func TestSendUserMessage(t *testing.T) {
	directory := server.NewDirectory()
	alice, _ := loginUser(t, directory, "alice")
	_, bobSession := loginUser(t, directory, "bob")

	assert.Equal(t, wire.OK, directory.SendUserMessage(alice, "bob", "psst"))

	received, ok := bobSession.WaitForFrame(wire.UserReceive, testhelpers.RecvTimeout)
	require.True(t, ok)
	assert.Equal(t, []byte("alice\r\npsst"), received.Payload)

	assert.Equal(t, wire.ErrUserNotFound, directory.SendUserMessage(alice, "ghost", "hello?"))
}

// TestLogoutCascade verifies that logout deletes every owned room (notifying
// members), removes the user from other rooms, and deregisters the user.
func TestLogoutCascade(t *testing.T) {
	directory := server.NewDirectory()
	alice, _ := loginUser(t, directory, "alice")
	bob, bobSession := loginUser(t, directory, "bob")

	require.Equal(t, wire.OK, directory.CreateRoom(alice, "lobby"))
	require.Equal(t, wire.OK, directory.CreateRoom(alice, "annex"))
	require.Equal(t, wire.OK, directory.CreateRoom(bob, "den"))
	require.Equal(t, wire.OK, directory.JoinRoom(bob, "lobby"))
	require.Equal(t, wire.OK, directory.JoinRoom(alice, "den"))

	assert.Equal(t, wire.OK, directory.Logout(alice, true))

	assert.Equal(t, 1, bobSession.CountType(wire.RoomClosed), "bob is only in one of alice's rooms")
	assert.Equal(t, []string{"den"}, directory.RoomNames(), "bob's room survives")

	_, members, ok := directory.RoomMembers("den")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, members, "alice left bob's room on logout")

	assert.Equal(t, []string{"bob"}, directory.UserNames())
}

// TestLogoutUnknownUser verifies the generic server error for a logout whose
// requester is no longer registered.
func TestLogoutUnknownUser(t *testing.T) {
	directory := server.NewDirectory()

	ghost := server.UserRef{Name: "ghost", Session: &testhelpers.RecordingSession{}}
	assert.Equal(t, wire.ErrServer, directory.Logout(ghost, true))
}

// TestManyRoomsStayConsistent exercises a burst of room operations from
// several users and checks the directory afterwards.
func TestManyRoomsStayConsistent(t *testing.T) {
	directory := server.NewDirectory()

	users := make([]server.UserRef, 0, 4)
	for i := 0; i < 4; i++ {
		user, _ := loginUser(t, directory, fmt.Sprintf("user%d", i))
		users = append(users, user)
	}

	var wg sync.WaitGroup
	for i, user := range users {
		wg.Add(1)
		go func(i int, user server.UserRef) {
			defer wg.Done()
			room := fmt.Sprintf("room%d", i)
			directory.CreateRoom(user, room)
			for _, other := range []string{"room0", "room1", "room2", "room3"} {
				directory.JoinRoom(user, other)
			}
		}(i, user)
	}
	wg.Wait()

	rooms := directory.RoomNames()
	require.Len(t, rooms, 4)
	for i, room := range rooms {
		owner, members, ok := directory.RoomMembers(room)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("user%d", i), owner)
		assert.Contains(t, members, owner, "owner is always a member")
	}
}
