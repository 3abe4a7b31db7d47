package mount

import (
	"context"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	logging "github.com/ipfs/go-log/v2"

	"github.com/pbeza/wildland-client/internal/storage"
	"github.com/pbeza/wildland-client/internal/wlerrors"
)

var log = logging.Logger("wl-mount")

const pseudoManifestName = ".manifest.wildland.yaml"

// FS is the bazil.org/fuse filesystem MountCore serves: it has no state of
// its own beyond the shared Table, since every lookup is resolved against
// mounted containers at request time (spec §4.6).
type FS struct {
	table *Table
}

func newFS(table *Table) *FS { return &FS{table: table} }

func (f *FS) Root() (fs.Node, error) {
	return &dirNode{fs: f, path: "/"}, nil
}

// dirNode is any directory in the virtual tree: either above every mount
// point (purely synthetic, populated from Table.Children) or inside a
// mounted container's backend (delegates to Backend.ReadDir/Stat).
type dirNode struct {
	fs   *FS
	path string
}

var (
	_ fs.Node                = (*dirNode)(nil)
	_ fs.NodeStringLookuper  = (*dirNode)(nil)
	_ fs.HandleReadDirAller  = (*dirNode)(nil)
	_ fs.NodeMkdirer         = (*dirNode)(nil)
	_ fs.NodeCreater         = (*dirNode)(nil)
	_ fs.NodeRemover         = (*dirNode)(nil)
)

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0755
	a.Mtime = time.Now()
	if entry, rel, ok := d.fs.table.Resolve(d.path); ok && rel != "" {
		if fi, err := statFallback(ctx, entry, "/"+rel); err == nil {
			a.Mtime = time.Unix(fi.ModTime, 0)
		}
	}
	return nil
}

// statFallback, readDirFallback and openFallback try entry's backends in
// order (primary first), moving to the next backend of the same container
// only when the current one fails — MountCore's primary-storage fallback
// (spec §8 scenario 3: "the read MUST succeed via S2 if S2 has /a.txt").
func statFallback(ctx context.Context, entry *Entry, path string) (*storage.FileInfo, error) {
	var lastErr error
	for _, b := range backendsOf(entry) {
		fi, err := b.Stat(ctx, path)
		if err == nil {
			return fi, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func readDirFallback(ctx context.Context, entry *Entry, path string) ([]storage.FileInfo, error) {
	var lastErr error
	for _, b := range backendsOf(entry) {
		fis, err := b.ReadDir(ctx, path)
		if err == nil {
			return fis, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func openFallback(ctx context.Context, entry *Entry, path string) (io.ReadCloser, error) {
	var lastErr error
	for _, b := range backendsOf(entry) {
		r, err := b.Open(ctx, path)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func backendsOf(entry *Entry) []storage.Backend {
	if len(entry.Backends) > 0 {
		return entry.Backends
	}
	return []storage.Backend{entry.Backend}
}

func (d *dirNode) childPath(name string) string {
	if d.path == "/" {
		return "/" + name
	}
	return d.path + "/" + name
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fs.Node, error) {
	childPath := d.childPath(name)

	entry, rel, ok := d.fs.table.Resolve(childPath)
	if !ok {
		// No mount reaches this path yet; it may still be a synthetic
		// ancestor directory of a deeper mount point.
		for _, seg := range d.fs.table.Children(d.path) {
			if seg == name {
				return &dirNode{fs: d.fs, path: childPath}, nil
			}
		}
		return nil, fuse.ENOENT
	}

	if rel == "" {
		if name == pseudoManifestName {
			return &pseudoManifestNode{entry: entry}, nil
		}
	} else if strings.HasSuffix(rel, "/"+pseudoManifestName) || rel == pseudoManifestName {
		return &pseudoManifestNode{entry: entry}, nil
	}

	backendPath := "/" + rel
	fi, err := statFallback(ctx, entry, backendPath)
	if err != nil {
		return nil, translateErrno(err)
	}
	if fi.IsDir {
		return &dirNode{fs: d.fs, path: childPath}, nil
	}
	return &fileNode{entry: entry, path: backendPath}, nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var out []fuse.Dirent

	for _, seg := range d.fs.table.Children(d.path) {
		out = append(out, fuse.Dirent{Name: seg, Type: fuse.DT_Dir})
	}

	entry, rel, ok := d.fs.table.Resolve(d.path)
	if !ok {
		return out, nil
	}

	if rel == "" {
		out = append(out, fuse.Dirent{Name: pseudoManifestName, Type: fuse.DT_File})
	}

	entries, err := readDirFallback(ctx, entry, "/"+rel)
	if err != nil {
		return out, translateErrno(err)
	}
	for _, fi := range entries {
		dt := fuse.DT_File
		if fi.IsDir {
			dt = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Name: baseName(fi.Path), Type: dt})
	}
	return out, nil
}

func (d *dirNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	entry, rel, ok := d.fs.table.Resolve(d.childPath(req.Name))
	if !ok {
		return nil, fuse.EPERM
	}
	if entry.Backend.Capabilities().ReadOnly {
		return nil, fuse.EPERM
	}
	backendPath := "/" + rel
	if err := entry.Backend.Mkdir(ctx, backendPath); err != nil {
		return nil, translateErrno(err)
	}
	return &dirNode{fs: d.fs, path: d.childPath(req.Name)}, nil
}

func (d *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	entry, rel, ok := d.fs.table.Resolve(d.childPath(req.Name))
	if !ok {
		return nil, nil, fuse.EPERM
	}
	if entry.Backend.Capabilities().ReadOnly {
		return nil, nil, fuse.EPERM
	}
	backendPath := "/" + rel
	w, err := entry.Backend.Create(ctx, backendPath)
	if err != nil {
		return nil, nil, translateErrno(err)
	}
	node := &fileNode{entry: entry, path: backendPath}
	return node, &fileHandle{entry: entry, path: backendPath, writer: w}, nil
}

func (d *dirNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	entry, rel, ok := d.fs.table.Resolve(d.childPath(req.Name))
	if !ok {
		return fuse.ENOENT
	}
	if entry.Backend.Capabilities().ReadOnly {
		return fuse.EPERM
	}
	backendPath := "/" + rel
	var err error
	if req.Dir {
		err = entry.Backend.Rmdir(ctx, backendPath)
	} else {
		err = entry.Backend.Unlink(ctx, backendPath)
	}
	if err != nil {
		return translateErrno(err)
	}
	return nil
}

// fileNode is a regular file backed by one mounted container's backend.
type fileNode struct {
	entry *Entry
	path  string
}

var (
	_ fs.Node           = (*fileNode)(nil)
	_ fs.HandleReadAller = (*fileNode)(nil)
	_ fs.NodeOpener     = (*fileNode)(nil)
)

func (f *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	fi, err := statFallback(ctx, f.entry, f.path)
	if err != nil {
		return translateErrno(err)
	}
	a.Mode = 0644
	a.Size = uint64(fi.Size)
	a.Mtime = time.Unix(fi.ModTime, 0)
	if f.entry.Backend.Capabilities().ReadOnly {
		a.Mode = 0444
	}
	return nil
}

func (f *fileNode) ReadAll(ctx context.Context) ([]byte, error) {
	r, err := openFallback(ctx, f.entry, f.path)
	if err != nil {
		return nil, translateErrno(err)
	}
	defer r.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (f *fileNode) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	return &fileHandle{entry: f.entry, path: f.path}, nil
}

// fileHandle services reads/writes against an open file. Writes are not
// buffered: they go straight to the writer from Create when the handle has
// one (closed on Release), otherwise to Backend.Write at the request offset.
type fileHandle struct {
	entry  *Entry
	path   string
	writer interface{ Write([]byte) (int, error) }
}

var (
	_ fs.HandleReader  = (*fileHandle)(nil)
	_ fs.HandleWriter  = (*fileHandle)(nil)
	_ fs.HandleReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	r, err := openFallback(ctx, h.entry, h.path)
	if err != nil {
		return translateErrno(err)
	}
	defer r.Close()
	buf := make([]byte, req.Size)
	n, _ := r.Read(buf)
	resp.Data = buf[:n]
	return nil
}

func (h *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if h.entry.Backend.Capabilities().ReadOnly {
		return fuse.EPERM
	}
	if h.writer != nil {
		n, err := h.writer.Write(req.Data)
		if err != nil {
			return translateErrno(err)
		}
		resp.Size = n
		return nil
	}
	if err := h.entry.Backend.Write(ctx, h.path, req.Data, req.Offset); err != nil {
		return translateErrno(err)
	}
	resp.Size = len(req.Data)
	return nil
}

func (h *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	if h.writer != nil {
		if c, ok := h.writer.(interface{ Close() error }); ok {
			return c.Close()
		}
	}
	return nil
}

func baseName(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// translateErrno surfaces the closest POSIX errno for a taxonomy error back
// to the FUSE kernel caller (spec §7).
func translateErrno(err error) error {
	switch wlerrors.ToErrno(err) {
	case wlerrors.ENOENT:
		return fuse.ENOENT
	case wlerrors.EROFS:
		return fuse.Errno(syscall.EROFS)
	case wlerrors.ETIMEDOUT:
		return fuse.Errno(syscall.ETIMEDOUT)
	default:
		return fuse.EIO
	}
}
