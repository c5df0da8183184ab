package sfss

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktlsim/internal/sfp"
)

func newRoot(t *testing.T) *Root {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "A3"), 0755))
	return &Root{Dir: dir}
}

func mustWriteFile(t *testing.T, root *Root, virtual string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(root.realPath(virtual), data, 0644))
}

func TestHandleReadSuccess(t *testing.T) {
	r := newRoot(t)
	mustWriteFile(t, r, "/A3/file.txt", []byte("hello world!!!!!"))

	req := &sfp.Message{Type: sfp.RdReq, Owner: 3, Offset: 0}
	req.SetPath("/A3/file.txt")
	res := r.HandleRead(req)

	assert.Equal(t, sfp.RdRep, res.Type)
	assert.GreaterOrEqual(t, res.Offset, int32(0))
	assert.Equal(t, "hello world!!!!!", string(res.Payload[:]))
}

func TestHandleReadNotFound(t *testing.T) {
	r := newRoot(t)
	req := &sfp.Message{Type: sfp.RdReq, Owner: 3}
	req.SetPath("/A3/nope.txt")
	res := r.HandleRead(req)
	assert.Equal(t, int32(sfp.ErrNotFound), res.Offset)
}

func TestHandleReadPermissionDenied(t *testing.T) {
	r := newRoot(t)
	mustWriteFile(t, r, "/A3/file.txt", []byte("secret"))
	req := &sfp.Message{Type: sfp.RdReq, Owner: 4}
	req.SetPath("/A3/file.txt")
	res := r.HandleRead(req)
	assert.Equal(t, int32(sfp.ErrPermission), res.Offset)
}

func TestHandleReadOffsetOOB(t *testing.T) {
	r := newRoot(t)
	mustWriteFile(t, r, "/A3/file.txt", []byte("abc"))
	req := &sfp.Message{Type: sfp.RdReq, Owner: 3, Offset: 100}
	req.SetPath("/A3/file.txt")
	res := r.HandleRead(req)
	assert.Equal(t, int32(sfp.ErrOffsetOOB), res.Offset)
}

func TestHandleReadEmptyFileAtOffsetZeroSucceeds(t *testing.T) {
	r := newRoot(t)
	mustWriteFile(t, r, "/A3/empty.txt", []byte{})
	req := &sfp.Message{Type: sfp.RdReq, Owner: 3, Offset: 0}
	req.SetPath("/A3/empty.txt")
	res := r.HandleRead(req)
	assert.Equal(t, int32(0), res.Offset)
}

func TestHandleWriteCreatesAndFillsHole(t *testing.T) {
	r := newRoot(t)
	req := &sfp.Message{Type: sfp.WrReq, Owner: 3, Offset: 4}
	req.SetPath("/A3/new.txt")
	req.SetPayload([]byte("data"))
	res := r.HandleWrite(req)
	assert.Equal(t, int32(4), res.Offset)

	content, err := os.ReadFile(r.realPath("/A3/new.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x20, 0x20, 0x20}, content[:4])
	assert.Equal(t, "data", string(content[4:4+4]))
}

func TestHandleWriteDeletesOnZeroPayload(t *testing.T) {
	r := newRoot(t)
	mustWriteFile(t, r, "/A3/del.txt", []byte("x"))
	req := &sfp.Message{Type: sfp.WrReq, Owner: 3, Offset: 0}
	req.SetPath("/A3/del.txt")
	// Payload left all-zero (SetPayload not called): triggers delete logic.
	res := r.HandleWrite(req)
	assert.Equal(t, int32(0), res.Offset)
	_, err := os.Stat(r.realPath("/A3/del.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	r := newRoot(t)
	wr := &sfp.Message{Type: sfp.WrReq, Owner: 3, Offset: 16}
	wr.SetPath("/A3/rt.txt")
	wr.SetPayload([]byte("0123456789abcdef"))
	require.Equal(t, int32(16), r.HandleWrite(wr).Offset)

	rd := &sfp.Message{Type: sfp.RdReq, Owner: 3, Offset: 16}
	rd.SetPath("/A3/rt.txt")
	res := r.HandleRead(rd)
	require.Equal(t, int32(16), res.Offset)
	assert.Equal(t, "0123456789abcdef", string(res.Payload[:]))
}

func TestHandleMkdirAndRmdir(t *testing.T) {
	r := newRoot(t)
	req := &sfp.Message{Type: sfp.DcReq, Owner: 3}
	req.SetPath("/A3")
	req.SetName("newdir")
	res := r.HandleMkdir(req)
	assert.Equal(t, "/A3/newdir", res.PathString())

	info, err := os.Stat(r.realPath("/A3/newdir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	rmReq := &sfp.Message{Type: sfp.DrReq, Owner: 3}
	rmReq.SetPath("/A3")
	rmReq.SetName("newdir")
	rmRes := r.HandleRmdir(rmReq)
	assert.Equal(t, int32(len("/A3")), rmRes.PathLen)

	_, err = os.Stat(r.realPath("/A3/newdir"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleRmdirNonEmptyDirectoryFails(t *testing.T) {
	r := newRoot(t)
	require.NoError(t, os.MkdirAll(r.realPath("/A3/full"), 0755))
	mustWriteFile(t, r, "/A3/full/keep.txt", []byte("x"))

	req := &sfp.Message{Type: sfp.DrReq, Owner: 3}
	req.SetPath("/A3")
	req.SetName("full")
	res := r.HandleRmdir(req)
	assert.Equal(t, int32(sfp.ErrIO), res.PathLen)

	// The directory and its contents must survive the failed removal.
	_, err := os.Stat(r.realPath("/A3/full/keep.txt"))
	assert.NoError(t, err)
}

func TestMkdirShowsUpInListingAsDir(t *testing.T) {
	r := newRoot(t)
	mk := &sfp.Message{Type: sfp.DcReq, Owner: 3}
	mk.SetPath("/A3")
	mk.SetName("sub")
	mkRes := r.HandleMkdir(mk)
	require.Equal(t, "/A3/sub", mkRes.PathString())
	mustWriteFile(t, r, "/A3/plain.txt", []byte("x"))

	ls := &sfp.Message{Type: sfp.DlReq, Owner: 3}
	ls.SetPath("/A3")
	res := r.HandleListdir(ls)
	require.Equal(t, int32(2), res.NRNames)

	found := map[string]int32{}
	for i := int32(0); i < res.NRNames; i++ {
		p := res.Positions[i]
		name := string(res.AllNames[p.Start : p.End+1])
		found[name] = p.IsDir
	}
	assert.Equal(t, int32(1), found["sub"])
	assert.Equal(t, int32(0), found["plain.txt"])
}

func TestHandleListdirTruncatesAtMax(t *testing.T) {
	r := newRoot(t)
	for i := 0; i < sfp.MaxNamesInDir+5; i++ {
		mustWriteFile(t, r, filepath.ToSlash(filepath.Join("/A3", fmtName(i))), []byte("x"))
	}
	req := &sfp.Message{Type: sfp.DlReq, Owner: 3}
	req.SetPath("/A3")
	res := r.HandleListdir(req)
	assert.Equal(t, int32(sfp.MaxNamesInDir), res.NRNames)
}

func fmtName(i int) string {
	return "f" + string(rune('a'+i%26)) + string(rune('0'+i%10)) + ".txt"
}
