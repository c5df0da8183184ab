// Package shmem implements the per-application shared reply slot: a
// single SFP message cell, exclusively written by the kernel and read by
// the owning application exactly once per syscall cycle. It is backed by
// a System V shared memory segment via golang.org/x/sys/unix, since the
// standard library has no shmget/shmat/shmctl equivalent.
package shmem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"ktlsim/internal/sfp"
)

// KeyBase is added to an application's logical id to derive its SysV IPC
// key.
const KeyBase = 0x1316

// Segment is one per-app shared reply slot.
type Segment struct {
	id   int
	addr []byte
}

// Create allocates (or reattaches) the shared memory segment for
// application owner id (1..N). Only the kernel calls Create; it owns the
// segment's lifetime.
func Create(owner int) (*Segment, error) {
	key := KeyBase + owner
	size := sfp.WireSize()
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|0666)
	if err != nil {
		return nil, fmt.Errorf("shmem: shmget key=0x%x: %w", key, err)
	}
	addr, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmem: shmat id=%d: %w", id, err)
	}
	return &Segment{id: id, addr: addr}, nil
}

// Attach attaches to an already-created segment for owner id. Called by
// the application process after the kernel has created it.
func Attach(owner int) (*Segment, error) {
	key := KeyBase + owner
	size := sfp.WireSize()
	id, err := unix.SysvShmGet(key, size, 0666)
	if err != nil {
		return nil, fmt.Errorf("shmem: shmget (attach) key=0x%x: %w", key, err)
	}
	addr, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmem: shmat id=%d: %w", id, err)
	}
	return &Segment{id: id, addr: addr}, nil
}

// Write copies msg's wire image into the segment. Called by the kernel
// on IRQ1/IRQ2 delivery.
func (s *Segment) Write(msg *sfp.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	copy(s.addr, data)
	return nil
}

// Read decodes the segment's current contents. Called by the application
// exactly once per syscall cycle, on resume.
func (s *Segment) Read() (sfp.Message, error) {
	var msg sfp.Message
	err := msg.UnmarshalBinary(s.addr)
	return msg, err
}

// Detach detaches the segment from this process's address space.
func (s *Segment) Detach() error {
	if s.addr == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.addr)
	s.addr = nil
	return err
}

// Destroy marks the segment for removal (IPC_RMID). Only the kernel calls
// this, at shutdown, after every application has detached.
func (s *Segment) Destroy() error {
	_, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil)
	return err
}
