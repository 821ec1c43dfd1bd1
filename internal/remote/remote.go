// Package remote defines the seam between the gateway and the external
// chat/messaging platform that hosts user-uploaded media. Production
// adapters live outside this module; Store is the contract the rest of
// the gateway depends on, the same way backend/cache depends on fs.Fs
// rather than a concrete cloud SDK client.
package remote

import (
	"context"
	"io"
)

// ChunkSize is fixed by the remote protocol: the store only ever delivers
// media in aligned windows of this size.
const ChunkSize = 1 << 20 // 1 MiB

// Descriptor is a TransferDescriptor: everything needed to address and
// stream one item from the remote store. It lives entirely in memory and
// is never persisted — remote handles may expire, so a fresh Descriptor is
// obtained for every streaming operation.
type Descriptor struct {
	Handle    interface{} // opaque remote handle, meaningful only to the Store that produced it
	Size      int64
	Mime      string // optional
	Name      string // optional
	ContentID string // short stable content-addressed id, 6 chars
}

// Store is the remote object store interface consumed by the File Locator
// and Chunked Range Reader components.
type Store interface {
	// Locate fetches metadata for a specific (containerID, itemID) pair.
	// Returns ErrNotFound, *ErrThrottled, or ErrTransient on failure.
	// Handles are not cached by callers: Locate is called fresh for every
	// HTTP request and every populator attempt since handles may have
	// expired. The range reader's session rotations reuse the descriptor
	// they were given.
	Locate(ctx context.Context, containerID, itemID string) (Descriptor, error)

	// Stream opens a reader over chunkCount chunks of ChunkSize bytes each,
	// starting at offset (which must be chunk-aligned), using the given
	// session index. The returned ReadCloser yields exactly chunkCount
	// chunks of at most ChunkSize bytes before EOF; the final chunk may be
	// shorter if it is the last chunk of the file.
	Stream(ctx context.Context, desc Descriptor, sessionIndex int, offset int64, chunkCount int) (io.ReadCloser, error)
}
