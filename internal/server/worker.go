// Package server runs the fixed worker pool that consumes jobs from the
// queue and executes chat commands against the directory.
package server

import (
	"log"
	"sync"

	"github.com/relaychat/relay-chat-server/internal/wire"
)

// WorkerPool is a fixed set of consumer goroutines. Each worker repeatedly
// dequeues one job and dispatches it; the directory lock serializes command
// execution globally, so concurrency lives in socket I/O and queue waiting,
// not in the commands themselves.
type WorkerPool struct {
	size      int
	queue     *JobQueue
	directory *Directory
	audit     *auditLog
	wg        sync.WaitGroup
}

// NewWorkerPool creates a pool of the given size over the queue and
// directory. Sizes below one are coerced to one.
func NewWorkerPool(size int, queue *JobQueue, directory *Directory) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size:      size,
		queue:     queue,
		directory: directory,
	}
}

// Start launches the worker goroutines. It returns immediately; workers run
// until the queue is closed and drained.
func (p *WorkerPool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(id)
		}(i)
	}
	log.Printf("Worker pool started with %d workers", p.size)
}

// Stop closes the queue and waits for every worker to drain and exit.
func (p *WorkerPool) Stop() {
	p.queue.Close()
	p.wg.Wait()
	log.Printf("Worker pool stopped")
}

func (p *WorkerPool) run(id int) {
	for {
		job, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		result := p.dispatch(job)
		p.audit.event("command",
			"user", job.User.Name,
			"command", job.Type.String(),
			"result", result.String(),
		)
	}
}

// dispatch parses the job payload and routes it to the matching directory
// operation, returning the reply type that was pushed to the requester.
func (p *WorkerPool) dispatch(job Job) wire.MsgType {
	switch job.Type {
	case wire.RoomCreate:
		return p.directory.CreateRoom(job.User, string(job.Payload))

	case wire.RoomDelete:
		return p.directory.DeleteRoom(job.User, string(job.Payload))

	case wire.RoomList:
		return p.directory.ListRooms(job.User)

	case wire.RoomJoin:
		return p.directory.JoinRoom(job.User, string(job.Payload))

	case wire.RoomLeave:
		return p.directory.LeaveRoom(job.User, string(job.Payload))

	case wire.RoomSend:
		room, text, ok := wire.SplitTarget(job.Payload)
		if !ok {
			// Malformed payload reads the same as a room that cannot be found.
			return p.replyTo(job.User, wire.ErrRoomNotFound)
		}
		return p.directory.SendRoomMessage(job.User, room, text)

	case wire.UserList:
		return p.directory.ListUsers(job.User)

	case wire.UserSend:
		target, text, ok := wire.SplitTarget(job.Payload)
		if !ok {
			return p.replyTo(job.User, wire.ErrUserNotFound)
		}
		return p.directory.SendUserMessage(job.User, target, text)

	default:
		log.Printf("Unknown command %v from %q", job.Type, job.User.Name)
		return p.replyTo(job.User, wire.ErrServer)
	}
}

func (p *WorkerPool) replyTo(req UserRef, msgType wire.MsgType) wire.MsgType {
	if req.Session != nil {
		if err := req.Session.Push(msgType, nil); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error replying %v to %q: %v", msgType, req.Name, err)
		}
	}
	return msgType
}
