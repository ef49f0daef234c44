package pointerfs

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cbhacks/latestfiles/internal/latestfiles"
)

const defaultCacheTTL = 5 * time.Second

// View is a TTL-cached snapshot of a collection's channels. Directory
// listings and lookups read the snapshot; opening a file always fetches
// the channel fresh so reads never serve a stale pointer.
type View struct {
	client       RemoteClient
	collectionID string
	ttl          time.Duration

	mu        sync.Mutex
	channels  []latestfiles.Channel
	fetchedAt time.Time
}

func NewView(client RemoteClient, collectionID string, ttl time.Duration) *View {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &View{client: client, collectionID: collectionID, ttl: ttl}
}

func (v *View) Channels(ctx context.Context) ([]latestfiles.Channel, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if time.Since(v.fetchedAt) < v.ttl && v.channels != nil {
		return v.channels, nil
	}

	channels := []latestfiles.Channel{}
	cursor := ""
	for {
		page, err := v.client.ListChannels(ctx, v.collectionID, cursor, 0)
		if err != nil {
			return nil, err
		}
		channels = append(channels, page.Items...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = *page.NextCursor
	}
	v.channels = channels
	v.fetchedAt = time.Now()
	return channels, nil
}

type Root struct {
	fs.Inode
	view *View
}

var _ = (fs.NodeReaddirer)((*Root)(nil))
var _ = (fs.NodeLookuper)((*Root)(nil))

func NewRoot(client RemoteClient, collectionID string, ttl time.Duration) *Root {
	return &Root{view: NewView(client, collectionID, ttl)}
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	channels, err := r.view.Channels(ctx)
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, 0, len(channels))
	for _, channel := range channels {
		entries = append(entries, fuse.DirEntry{
			Name: channel.ChannelID,
			Mode: fuse.S_IFREG,
			Ino:  channelIno(channel.CollectionID, channel.ChannelID),
		})
	}
	return fs.NewListDirStream(entries), 0
}

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	channels, err := r.view.Channels(ctx)
	if err != nil {
		return nil, syscall.EIO
	}
	for _, channel := range channels {
		if channel.ChannelID != name {
			continue
		}
		node := &pointerFile{view: r.view, channelID: channel.ChannelID}
		stable := fs.StableAttr{
			Mode: fuse.S_IFREG,
			Ino:  channelIno(channel.CollectionID, channel.ChannelID),
		}
		out.Mode = fuse.S_IFREG | 0o444
		out.Size = pointerSize(channel)
		return r.NewInode(ctx, node, stable), 0
	}
	return nil, syscall.ENOENT
}

// pointerFile is one channel. Its content is the channel's current
// object key followed by a newline, or empty while no pointer is set.
type pointerFile struct {
	fs.Inode
	view      *View
	channelID string
}

var _ = (fs.NodeGetattrer)((*pointerFile)(nil))
var _ = (fs.NodeOpener)((*pointerFile)(nil))

func (f *pointerFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0o444
	channels, err := f.view.Channels(ctx)
	if err != nil {
		return syscall.EIO
	}
	for _, channel := range channels {
		if channel.ChannelID == f.channelID {
			out.Size = pointerSize(channel)
			return 0
		}
	}
	return syscall.ENOENT
}

func (f *pointerFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	channel, err := f.view.client.GetChannel(ctx, f.view.collectionID, f.channelID)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			return nil, 0, syscall.ENOENT
		}
		return nil, 0, syscall.EIO
	}
	return &pointerHandle{data: pointerContent(channel)}, fuse.FOPEN_DIRECT_IO, 0
}

type pointerHandle struct {
	data []byte
}

var _ = (fs.FileReader)((*pointerHandle)(nil))

func (h *pointerHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

func pointerContent(channel latestfiles.Channel) []byte {
	if channel.ObjectKey == nil {
		return nil
	}
	return []byte(*channel.ObjectKey + "\n")
}

func pointerSize(channel latestfiles.Channel) uint64 {
	return uint64(len(pointerContent(channel)))
}

func channelIno(collectionID, channelID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(collectionID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(channelID))
	return h.Sum64()
}

// Mount mounts the pointer view at dir and returns the running server.
func Mount(dir string, client RemoteClient, collectionID string, ttl time.Duration, debug bool) (*fuse.Server, error) {
	root := NewRoot(client, collectionID, ttl)
	timeout := time.Second
	return fs.Mount(dir, root, &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			FsName: "latestfiles",
			Name:   "pointerfs",
			Debug:  debug,
		},
	})
}
