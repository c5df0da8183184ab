package sfss

import (
	"io"
	"os"
	"path/filepath"

	"ktlsim/internal/kerrors"
	"ktlsim/internal/sfp"
)

// Root is the storage server's per-run view of its backing directory
// tree: one real host directory rooted at Dir, addressed by
// application-visible paths like "/A3/file.txt".
type Root struct {
	Dir string
}

func (r *Root) realPath(virtual string) string {
	return filepath.Join(r.Dir, filepath.FromSlash(virtual))
}

// HandleRead implements RD_REQ → RD_REP. Failures are built as a
// *kerrors.SfpError internally and only collapsed to the wire's
// overloaded offset field at the return, via its Status method.
func (r *Root) HandleRead(req *sfp.Message) sfp.Message {
	res := sfp.Message{Type: sfp.RdRep, Owner: req.Owner}
	res.SetPath(req.PathString())
	res.Offset = req.Offset

	if !checkPermission(req.Owner, req.PathString()) {
		res.Offset = kerrors.ErrPathNotOwned.Status()
		return res
	}

	full := r.realPath(req.PathString())
	f, err := os.Open(full)
	if err != nil {
		res.Offset = kerrors.ErrFileNotFound.Status()
		return res
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "read").Status()
		return res
	}
	size := info.Size()
	if int64(req.Offset) >= size && !(size == 0 && req.Offset == 0) {
		res.Offset = kerrors.ErrOffsetBeyondSize.Status()
		return res
	}

	if _, err := f.Seek(int64(req.Offset), io.SeekStart); err != nil {
		res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "read").Status()
		return res
	}
	buf := make([]byte, sfp.PayloadSize)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "read").Status()
		return res
	}
	copy(res.Payload[:], buf[:n])
	return res
}

// HandleWrite implements WR_REQ → WR_REP. A zero-offset, zero-first-byte
// payload deletes the file; otherwise the payload is written at offset,
// with any hole up to offset padded with 0x20.
func (r *Root) HandleWrite(req *sfp.Message) sfp.Message {
	res := sfp.Message{Type: sfp.WrRep, Owner: req.Owner}
	res.SetPath(req.PathString())
	res.Offset = req.Offset

	if !checkPermission(req.Owner, req.PathString()) {
		res.Offset = kerrors.ErrPathNotOwned.Status()
		return res
	}

	full := r.realPath(req.PathString())

	if req.Offset == 0 && req.Payload[0] == 0 {
		if err := os.Remove(full); err != nil {
			res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "write").Status()
			return res
		}
		res.Offset = 0
		return res
	}

	f, err := os.OpenFile(full, os.O_RDWR, 0644)
	if err != nil {
		f, err = os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			res.Offset = kerrors.ErrFileNotFound.Status()
			return res
		}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "write").Status()
		return res
	}
	if int64(req.Offset) > info.Size() {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "write").Status()
			return res
		}
		hole := make([]byte, int64(req.Offset)-info.Size())
		for i := range hole {
			hole[i] = 0x20
		}
		if _, err := f.Write(hole); err != nil {
			res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "write").Status()
			return res
		}
	}

	if _, err := f.Seek(int64(req.Offset), io.SeekStart); err != nil {
		res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "write").Status()
		return res
	}
	if _, err := f.Write(req.Payload[:]); err != nil {
		res.Offset = kerrors.Wrap(err, kerrors.ErrIO, "write").Status()
		return res
	}
	return res
}

// HandleMkdir implements DC_REQ → DC_REP: creates req.Name under
// req.Path.
func (r *Root) HandleMkdir(req *sfp.Message) sfp.Message {
	res := sfp.Message{Type: sfp.DcRep, Owner: req.Owner}

	if !checkPermission(req.Owner, req.PathString()) {
		res.SetPath(req.PathString())
		res.PathLen = kerrors.ErrPathNotOwned.Status()
		return res
	}

	newVirtual := req.PathString() + "/" + req.NameString()
	if err := os.Mkdir(r.realPath(newVirtual), 0755); err != nil {
		res.SetPath(req.PathString())
		res.PathLen = kerrors.Wrap(err, kerrors.ErrIO, "mkdir").Status()
		return res
	}
	res.SetPath(newVirtual)
	return res
}

// HandleRmdir implements DR_REQ → DR_REP: removes req.Name under
// req.Path. The removal covers both a file unlink and an empty-directory
// removal; a non-empty directory reports an I/O error and is left alone.
func (r *Root) HandleRmdir(req *sfp.Message) sfp.Message {
	res := sfp.Message{Type: sfp.DrRep, Owner: req.Owner}
	res.SetPath(req.PathString())

	if !checkPermission(req.Owner, req.PathString()) {
		res.PathLen = kerrors.ErrPathNotOwned.Status()
		return res
	}

	target := r.realPath(req.PathString() + "/" + req.NameString())
	if err := os.Remove(target); err != nil {
		res.PathLen = kerrors.Wrap(err, kerrors.ErrIO, "rmdir").Status()
		return res
	}
	return res
}

// HandleListdir implements DL_REQ → DL_REP: lists req.Path's entries,
// truncating at MaxNamesInDir entries or MaxAllFilenames bytes of names.
func (r *Root) HandleListdir(req *sfp.Message) sfp.Message {
	res := sfp.Message{Type: sfp.DlRep, Owner: req.Owner}

	if !checkPermission(req.Owner, req.PathString()) {
		res.NRNames = kerrors.ErrPathNotOwned.Status()
		return res
	}

	full := r.realPath(req.PathString())
	entries, err := os.ReadDir(full)
	if err != nil {
		res.NRNames = kerrors.ErrDirNotFound.Status()
		return res
	}

	nameIdx, charIdx := 0, 0
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		if nameIdx >= sfp.MaxNamesInDir {
			break
		}
		name := e.Name()
		if charIdx+len(name) >= sfp.MaxAllFilenames {
			break
		}
		isDir := int32(0)
		if st, err := os.Stat(filepath.Join(full, name)); err == nil && st.IsDir() {
			isDir = 1
		}
		res.Positions[nameIdx] = sfp.FstLst{
			Start: int32(charIdx),
			End:   int32(charIdx + len(name) - 1),
			IsDir: isDir,
		}
		copy(res.AllNames[charIdx:], name)
		charIdx += len(name)
		nameIdx++
	}
	res.NRNames = int32(nameIdx)
	return res
}
