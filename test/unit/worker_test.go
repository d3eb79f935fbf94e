package unit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay-chat-server/internal/server"
	"github.com/relaychat/relay-chat-server/internal/wire"
	"github.com/relaychat/relay-chat-server/test/testhelpers"
)

// startPool assembles a directory, queue, and running worker pool for a test
// and stops the pool during cleanup.
func startPool(t *testing.T, workers int) (*server.Directory, *server.JobQueue) {
	t.Helper()

	directory := server.NewDirectory()
	queue := server.NewJobQueue(8)
	pool := server.NewWorkerPool(workers, queue, directory)
	pool.Start()
	t.Cleanup(pool.Stop)

	return directory, queue
}

// waitFor polls until the condition holds or the timeout expires. Login
// itself pushes an OK frame, so tests watch directory state rather than
// matching reply types that a handshake already produced.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(testhelpers.RecvTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition never became true")
}

// TestWorkerExecutesCreateRoom verifies the full path from an enqueued job
// to a directory mutation and an OK reply.
func TestWorkerExecutesCreateRoom(t *testing.T) {
	directory, queue := startPool(t, 2)
	alice, session := loginUser(t, directory, "alice")

	queue.Enqueue(server.Job{User: alice, Type: wire.RoomCreate, Payload: []byte("lobby")})

	waitFor(t, func() bool {
		_, _, exists := directory.RoomMembers("lobby")
		return exists
	})

	owner, _, exists := directory.RoomMembers("lobby")
	require.True(t, exists)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, 2, session.CountType(wire.OK), "one OK for login, one for the create")
}

// TestWorkerUnknownCommand verifies that an unrecognized command code gets a
// generic server error reply and touches nothing.
func TestWorkerUnknownCommand(t *testing.T) {
	directory, queue := startPool(t, 1)
	alice, session := loginUser(t, directory, "alice")

	queue.Enqueue(server.Job{User: alice, Type: wire.MsgType(0x99), Payload: []byte("junk")})

	_, ok := session.WaitForFrame(wire.ErrServer, testhelpers.RecvTimeout)
	require.True(t, ok, "unknown commands get ESERV")
	assert.Empty(t, directory.RoomNames())
}

// TestWorkerMalformedSendPayload verifies that a send payload without a
// target delimiter is answered like a missing target instead of crashing.
func TestWorkerMalformedSendPayload(t *testing.T) {
	directory, queue := startPool(t, 1)
	alice, session := loginUser(t, directory, "alice")

	queue.Enqueue(server.Job{User: alice, Type: wire.RoomSend, Payload: []byte("no delimiter")})
	_, ok := session.WaitForFrame(wire.ErrRoomNotFound, testhelpers.RecvTimeout)
	require.True(t, ok)

	queue.Enqueue(server.Job{User: alice, Type: wire.UserSend, Payload: []byte("still none")})
	_, ok = session.WaitForFrame(wire.ErrUserNotFound, testhelpers.RecvTimeout)
	require.True(t, ok)
}

// TestWorkerPreservesProducerOrder verifies that with a single worker jobs
// are executed strictly in enqueue order: the later join can only succeed
// because the earlier create was executed first.
func TestWorkerPreservesProducerOrder(t *testing.T) {
	directory, queue := startPool(t, 1)
	alice, _ := loginUser(t, directory, "alice")
	bob, bobSession := loginUser(t, directory, "bob")

	queue.Enqueue(server.Job{User: alice, Type: wire.RoomCreate, Payload: []byte("ordered")})
	queue.Enqueue(server.Job{User: bob, Type: wire.RoomJoin, Payload: []byte("ordered")})

	waitFor(t, func() bool {
		_, members, exists := directory.RoomMembers("ordered")
		return exists && len(members) == 2
	})

	_, members, exists := directory.RoomMembers("ordered")
	require.True(t, exists)
	assert.Equal(t, []string{"alice", "bob"}, members)
	assert.Equal(t, 0, bobSession.CountType(wire.ErrRoomNotFound), "join must run after create")
}
