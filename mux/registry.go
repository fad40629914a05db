//go:build unix

package mux

import "golang.org/x/sys/unix"

// registry is the set of descriptors handed to poll(2), with a two-way
// mapping between slot indexes and positions in the pollfd list.
//
// Removal compacts the list in O(n). The list never holds more than
// MaxParallelConnections entries.
type registry struct {
	fds        []unix.PollFd
	slotToPoll []int // -1 when the slot has no registered descriptor
	pollToSlot []int
}

func newRegistry() *registry {
	return &registry{
		fds:        make([]unix.PollFd, 0, MaxParallelConnections),
		slotToPoll: make([]int, 0, MaxParallelConnections),
		pollToSlot: make([]int, 0, MaxParallelConnections),
	}
}

// add registers fd for slot with the given poll events. A slot that
// already has a descriptor is updated in place.
func (r *registry) add(slot, fd int, events int16) {
	for len(r.slotToPoll) <= slot {
		r.slotToPoll = append(r.slotToPoll, -1)
	}

	if pos := r.slotToPoll[slot]; pos >= 0 {
		r.fds[pos] = unix.PollFd{Fd: int32(fd), Events: events}
		return
	}

	r.slotToPoll[slot] = len(r.fds)
	r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: events})
	r.pollToSlot = append(r.pollToSlot, slot)
}

// setEvents changes the events watched for slot.
func (r *registry) setEvents(slot int, events int16) {
	if pos := r.position(slot); pos >= 0 {
		r.fds[pos].Events = events
	}
}

// remove drops the descriptor of slot, shifting the following entries
// down by one and fixing their slot mapping.
func (r *registry) remove(slot int) {
	pos := r.position(slot)
	if pos < 0 {
		return
	}

	last := len(r.fds) - 1
	copy(r.fds[pos:], r.fds[pos+1:])
	copy(r.pollToSlot[pos:], r.pollToSlot[pos+1:])
	r.fds = r.fds[:last]
	r.pollToSlot = r.pollToSlot[:last]

	for i := pos; i < last; i++ {
		r.slotToPoll[r.pollToSlot[i]] = i
	}
	r.slotToPoll[slot] = -1
}

// position returns the poll list position of slot, or -1.
func (r *registry) position(slot int) int {
	if slot < 0 || slot >= len(r.slotToPoll) {
		return -1
	}
	return r.slotToPoll[slot]
}

func (r *registry) len() int { return len(r.fds) }

func (r *registry) reset() {
	r.fds = r.fds[:0]
	r.slotToPoll = r.slotToPoll[:0]
	r.pollToSlot = r.pollToSlot[:0]
}
