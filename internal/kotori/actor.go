package kotori

import (
	"fmt"
	"sync/atomic"
)

// actorOp identifies the variant of an actorMessage.
type actorOp int

const (
	opClose actorOp = iota
	opGetPages
	opReadPage
	opGetFirstPageName
	opGetMetadata
	opDeletePage
	opSetMetadata
	opHasFile
	opStatus
)

// actorMessage is the single envelope type processed by an ArchiveActor's
// inbox. path is empty for pathless messages (Status). reply is always
// buffered (capacity 1) so a send into it never blocks even if the
// receiver has stopped listening; an abandoned request still executes to
// completion and its reply is simply discarded.
type actorMessage struct {
	op       actorOp
	path     ArchivePath
	pageName string
	meta     Metadata
	reply    chan actorReply
}

// actorReply carries every possible response shape; only the fields
// relevant to the originating op are populated.
type actorReply struct {
	pages    *PageIndex
	data     []byte
	name     string
	meta     Metadata
	metaOK   bool
	hasFile  bool
	isIdle   bool
	busyN    int
	err      error
}

// ActorStatus is the Dispatcher-visible snapshot of an actor's load, used by
// the worker-selection algorithm.
type ActorStatus struct {
	Idle bool
	N    int // cache size, valid when !Idle
}

// ArchiveActor is the single-threaded owner of a set of ArchiveHandles. It
// processes one message at a time to completion from its inbox channel, so
// two operations against the same archive path can never interleave.
type ArchiveActor struct {
	id                int
	inbox             chan actorMessage
	cache             map[ArchivePath]*ArchiveHandle
	cacheSize         atomic.Int64 // mirrors len(cache); read lock-free by the Dispatcher
	integrity         *ArchiveIntegrityCache
	mutator           *Mutator
	metadataEntryName string
	metrics           *Metrics
}

// newArchiveActor constructs and starts an ArchiveActor's message loop.
func newArchiveActor(id int, integrity *ArchiveIntegrityCache, mutator *Mutator, metadataEntryName string, metrics *Metrics) *ArchiveActor {
	a := &ArchiveActor{
		id:                id,
		inbox:             make(chan actorMessage, 32),
		cache:             make(map[ArchivePath]*ArchiveHandle),
		integrity:         integrity,
		mutator:           mutator,
		metadataEntryName: metadataEntryName,
		metrics:           metrics,
	}
	go a.run()
	return a
}

// Status reports this actor's current load without a message round trip;
// safe to call from any goroutine.
func (a *ArchiveActor) Status() ActorStatus {
	n := int(a.cacheSize.Load())
	return ActorStatus{Idle: n == 0, N: n}
}

// send enqueues msg and returns msg.reply for the caller to await.
// send never blocks longer than it takes to enqueue (the inbox is large
// enough in practice; a full inbox applies natural backpressure to the
// Dispatcher, which is itself running on the cooperative task tier).
func (a *ArchiveActor) send(msg actorMessage) chan actorReply {
	if msg.reply == nil {
		msg.reply = make(chan actorReply, 1)
	}
	a.inbox <- msg
	return msg.reply
}

func (a *ArchiveActor) run() {
	for msg := range a.inbox {
		a.handle(msg)
	}
}

func (a *ArchiveActor) updateCacheSize() {
	a.cacheSize.Store(int64(len(a.cache)))
}

// ensureHandle returns the cached handle for path, lazily opening and
// inserting a new one if absent.
func (a *ArchiveActor) ensureHandle(path ArchivePath) (*ArchiveHandle, error) {
	if h, ok := a.cache[path]; ok {
		return h, nil
	}

	h, err := OpenArchiveHandle(path, a.integrity)
	if err != nil {
		return nil, err
	}

	a.cache[path] = h
	a.updateCacheSize()
	return h, nil
}

func (a *ArchiveActor) handle(msg actorMessage) {
	switch msg.op {
	case opClose:
		a.handleClose(msg)
	case opGetPages:
		a.handleGetPages(msg)
	case opReadPage:
		a.handleReadPage(msg)
	case opGetFirstPageName:
		a.handleGetFirstPageName(msg)
	case opGetMetadata:
		a.handleGetMetadata(msg)
	case opDeletePage:
		a.handleDeletePage(msg)
	case opSetMetadata:
		a.handleSetMetadata(msg)
	case opHasFile:
		a.handleHasFile(msg)
	case opStatus:
		a.handleStatusMsg(msg)
	default:
		msg.reply <- actorReply{err: fmt.Errorf("archive actor: unknown op %d", msg.op)}
	}
}

func (a *ArchiveActor) handleClose(msg actorMessage) {
	if h, ok := a.cache[msg.path]; ok {
		delete(a.cache, msg.path)
		a.updateCacheSize()
		h.Close()
	}
	msg.reply <- actorReply{}
}

func (a *ArchiveActor) handleGetPages(msg actorMessage) {
	h, err := a.ensureHandle(msg.path)
	if err != nil {
		msg.reply <- actorReply{err: err}
		return
	}
	msg.reply <- actorReply{pages: h.Pages()}
}

func (a *ArchiveActor) handleReadPage(msg actorMessage) {
	h, err := a.ensureHandle(msg.path)
	if err != nil {
		msg.reply <- actorReply{err: err}
		return
	}
	data, err := h.ReadPage(msg.pageName)
	msg.reply <- actorReply{data: data, err: err}
}

func (a *ArchiveActor) handleGetFirstPageName(msg actorMessage) {
	h, err := a.ensureHandle(msg.path)
	if err != nil {
		msg.reply <- actorReply{err: err}
		return
	}
	name, err := h.FirstPageName()
	msg.reply <- actorReply{name: name, err: err}
}

func (a *ArchiveActor) handleGetMetadata(msg actorMessage) {
	h, err := a.ensureHandle(msg.path)
	if err != nil {
		msg.reply <- actorReply{err: err}
		return
	}
	meta, ok, err := h.ReadMetadata(a.metadataEntryName)
	msg.reply <- actorReply{meta: meta, metaOK: ok, err: err}
}

func (a *ArchiveActor) handleHasFile(msg actorMessage) {
	_, ok := a.cache[msg.path]
	msg.reply <- actorReply{hasFile: ok}
}

func (a *ArchiveActor) handleStatusMsg(msg actorMessage) {
	status := a.Status()
	msg.reply <- actorReply{isIdle: status.Idle, busyN: status.N}
}

// handleDeletePage and handleSetMetadata consume the handle: it is removed
// from the cache and closed before the mutation begins and is not
// re-inserted on success, so the next request reopens fresh state. Closing
// up front also releases the stale reader before the rewrite replaces the
// file underneath it.
func (a *ArchiveActor) handleDeletePage(msg actorMessage) {
	h, err := a.consumeHandle(msg.path)
	if err != nil {
		msg.reply <- actorReply{err: err}
		return
	}

	err = a.mutator.DeletePage(h, msg.pageName)
	msg.reply <- actorReply{err: err}
}

func (a *ArchiveActor) handleSetMetadata(msg actorMessage) {
	h, err := a.consumeHandle(msg.path)
	if err != nil {
		msg.reply <- actorReply{err: err}
		return
	}

	if err := msg.meta.Validate(); err != nil {
		msg.reply <- actorReply{err: err}
		return
	}

	err = a.mutator.SetMetadata(h, msg.meta, a.metadataEntryName)
	msg.reply <- actorReply{err: err}
}

// consumeHandle removes path's handle from the cache and closes its reader,
// opening one first if the path was not yet cached (open-then-consume). The
// returned handle is only good for its path and page index; its reader is
// closed.
func (a *ArchiveActor) consumeHandle(path ArchivePath) (*ArchiveHandle, error) {
	h, err := a.ensureHandle(path)
	if err != nil {
		return nil, err
	}
	delete(a.cache, path)
	a.updateCacheSize()
	h.Close()
	return h, nil
}
