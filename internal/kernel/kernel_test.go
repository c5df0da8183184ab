package kernel

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktlsim/internal/pcb"
	"ktlsim/internal/sfp"
)

func newTestKernel(t *testing.T, n int) *Kernel {
	t.Helper()
	k := New(Config{NApps: n, SFSSAddr: "127.0.0.1:0"})

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	k.conn = conn
	k.sfssAddr = conn.LocalAddr().(*net.UDPAddr)
	return k
}

func TestParseSyscallLineTick(t *testing.T) {
	sc, err := ParseSyscallLine("TICK A1 4242 7")
	require.NoError(t, err)
	assert.Equal(t, KindTick, sc.Kind)
	assert.Equal(t, 4242, sc.PID)
	assert.Equal(t, 7, sc.PC)
}

func TestParseSyscallLineDone(t *testing.T) {
	sc, err := ParseSyscallLine("DONE A1 100 50")
	require.NoError(t, err)
	assert.Equal(t, KindDone, sc.Kind)
}

func TestParseSyscallLineReadWrite(t *testing.T) {
	sc, err := ParseSyscallLine("READ A1 100 /a/b.txt 10")
	require.NoError(t, err)
	assert.Equal(t, KindSyscall, sc.Kind)
	assert.Equal(t, sfp.RdReq, sc.Message.Type)
	assert.Equal(t, "/a/b.txt", sc.Message.PathString())
	assert.Equal(t, int32(10), sc.Message.Offset)

	sc, err = ParseSyscallLine("WRITE A1 100 /a/b.txt 3 hello")
	require.NoError(t, err)
	assert.Equal(t, sfp.WrReq, sc.Message.Type)
	assert.Equal(t, int32(3), sc.Message.Offset)
	assert.Equal(t, byte('h'), sc.Message.Payload[0])
}

func TestParseSyscallLineDirOps(t *testing.T) {
	for verb, want := range map[string]sfp.MsgType{
		"ADD": sfp.DcReq,
		"REM": sfp.DrReq,
	} {
		sc, err := ParseSyscallLine(verb + " A1 100 /dir newname")
		require.NoError(t, err)
		assert.Equal(t, want, sc.Message.Type)
		assert.Equal(t, "newname", sc.Message.NameString())
	}

	sc, err := ParseSyscallLine("LISTDIR A1 100 /dir")
	require.NoError(t, err)
	assert.Equal(t, sfp.DlReq, sc.Message.Type)
}

func TestParseSyscallLineMalformed(t *testing.T) {
	_, err := ParseSyscallLine("")
	assert.Error(t, err)
	_, err = ParseSyscallLine("WHAT")
	assert.Error(t, err)
	_, err = ParseSyscallLine("BOGUS A1 1 2")
	assert.Error(t, err)
}

func TestHandleAppLineTickUpdatesPC(t *testing.T) {
	k := newTestKernel(t, 2)
	k.table.Get(0).PID = 777
	k.HandleAppLine("TICK A1 777 12")
	assert.Equal(t, 12, k.table.Get(0).PC)
}

func TestHandleAppLineDoneTerminates(t *testing.T) {
	k := newTestKernel(t, 2)
	k.table.Get(0).PID = 777
	k.sched.Running = 0
	k.table.Get(0).State = pcb.Running
	k.HandleAppLine("DONE A1 777 40")
	assert.Equal(t, pcb.Terminated, k.table.Get(0).State)
	assert.Equal(t, 1, k.sched.Running) // the other READY app picked up by rescheduling
}

func TestHandleAppLineSyscallBlocksAndRecordsPending(t *testing.T) {
	k := newTestKernel(t, 2)
	k.table.Get(0).PID = 777
	k.sched.Running = 0
	k.table.Get(0).State = pcb.Running

	k.HandleAppLine("READ A1 777 /f.txt 0")
	assert.Equal(t, pcb.Blocked, k.table.Get(0).State)
	assert.Equal(t, sfp.RdReq, k.table.Get(0).Pending.Type)
	assert.Equal(t, int32(1), k.table.Get(0).Pending.Owner)
}

func TestHandleAppLineUnknownPID(t *testing.T) {
	k := newTestKernel(t, 1)
	k.HandleAppLine("TICK A1 99999 1") // must not panic
}

func TestHandleIRQ0PreemptsAndReschedules(t *testing.T) {
	k := newTestKernel(t, 2)
	k.sched.ScheduleNext()
	require.Equal(t, 0, k.sched.Running)

	k.HandleIRQ0()
	assert.Equal(t, 1, k.sched.Running)
	assert.Equal(t, pcb.Ready, k.table.Get(0).State)
}

func TestDeliverReplyUnblocksAndSchedules(t *testing.T) {
	k := newTestKernel(t, 1)
	k.table.Get(0).State = pcb.Blocked

	reply := sfp.Message{Type: sfp.RdRep, Owner: 1, Offset: sfp.Success}
	k.fileQ.PushTail(reply)

	k.HandleIRQ1()
	// Unblocked, and immediately scheduled since nothing else was running.
	assert.Equal(t, pcb.Running, k.table.Get(0).State)
	assert.Equal(t, 0, k.sched.Running)
}

func TestDeliverReplyIgnoresUnblockedOwner(t *testing.T) {
	k := newTestKernel(t, 1)
	k.table.Get(0).State = pcb.Ready // not blocked

	reply := sfp.Message{Type: sfp.RdRep, Owner: 1}
	k.fileQ.PushTail(reply)

	k.HandleIRQ1()
	assert.Equal(t, pcb.Ready, k.table.Get(0).State)
	assert.Equal(t, 0, k.readyQ.Len())
}

func TestIRQClassesDeliverIndependently(t *testing.T) {
	k := newTestKernel(t, 2)
	k.table.Get(0).State = pcb.Blocked
	k.table.Get(1).State = pcb.Blocked

	k.fileQ.PushTail(sfp.Message{Type: sfp.WrRep, Owner: 1})
	k.dirQ.PushTail(sfp.Message{Type: sfp.DlRep, Owner: 2})

	// IRQ2 must only touch the directory wait queue: A2 unblocks, A1
	// stays blocked with its file reply still queued.
	k.HandleIRQ2()
	assert.Equal(t, pcb.Blocked, k.table.Get(0).State)
	assert.NotEqual(t, pcb.Blocked, k.table.Get(1).State)
	assert.Equal(t, 1, k.fileQ.Len())
	assert.Equal(t, 0, k.dirQ.Len())

	k.HandleIRQ1()
	assert.NotEqual(t, pcb.Blocked, k.table.Get(0).State)
	assert.Equal(t, 0, k.fileQ.Len())
}

func TestHandleControllerLineUnknown(t *testing.T) {
	k := newTestKernel(t, 1)
	k.HandleControllerLine("NONSENSE") // must not panic
}

func TestSnapshotAndResumeTogglePaused(t *testing.T) {
	k := newTestKernel(t, 1)
	out := k.Snapshot()
	assert.True(t, k.Paused())
	assert.Contains(t, out, "snapshot")
	k.Resume()
	assert.False(t, k.Paused())
}

func TestSnapshotShowsPendingSFPMessageForBlockedPCB(t *testing.T) {
	k := newTestKernel(t, 1)
	k.table.Get(0).State = pcb.Blocked
	k.table.Get(0).Pending = sfp.Message{Type: sfp.RdReq}

	out := RenderSnapshot(k)
	assert.Contains(t, out, fmt.Sprintf("waiting SFP_MSG %d", int32(sfp.RdReq)))
}

func TestConfigQuantumRoundTrips(t *testing.T) {
	cfg := Config{NApps: 1, Quantum: 250 * time.Millisecond}
	k := New(cfg)
	assert.Equal(t, 250*time.Millisecond, k.cfg.Quantum)
}
