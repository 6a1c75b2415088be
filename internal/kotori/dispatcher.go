package kotori

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// FilePermit is one slot of the Dispatcher's global open-file quota. It is
// acquired once per routed ArchivePath and released when that path's
// routing entry is removed (explicit Close or eviction).
type FilePermit struct {
	sem      *semaphore.Weighted
	released sync.Once
}

// Release returns the permit to the Dispatcher's semaphore. Safe to call
// more than once; only the first call has effect.
func (p *FilePermit) Release() {
	p.released.Do(func() { p.sem.Release(1) })
}

// routeEntry is the Dispatcher's per-path routing table value.
type routeEntry struct {
	worker *ArchiveActor
	permit *FilePermit
}

// Dispatcher routes archive operations to the ArchiveActor currently
// responsible for the target path, admits new paths under the global
// open-file quota, and grows the actor pool up to a hardware-parallelism
// cap.
type Dispatcher struct {
	mu    sync.Mutex
	files map[ArchivePath]routeEntry

	workers []*ArchiveActor
	hw      int

	fileSem           *semaphore.Weighted
	integrity         *ArchiveIntegrityCache
	mutator           *Mutator
	metadataEntryName string
	metrics           *Metrics
}

// NewDispatcher constructs a Dispatcher with the given MAX_OPEN quota and
// actor-pool cap (hw).
func NewDispatcher(maxOpen, hw int, integrity *ArchiveIntegrityCache, mutator *Mutator, metadataEntryName string, metrics *Metrics) *Dispatcher {
	if hw < 1 {
		hw = 1
	}
	return &Dispatcher{
		files:             make(map[ArchivePath]routeEntry),
		hw:                hw,
		fileSem:           semaphore.NewWeighted(int64(maxOpen)),
		integrity:         integrity,
		mutator:           mutator,
		metadataEntryName: metadataEntryName,
		metrics:           metrics,
	}
}

// route returns the actor responsible for path, acquiring a FilePermit and
// spawning/selecting a worker on first use. The critical section never
// spans I/O: the permit acquire happens outside d.mu, and worker
// selection only reads lock-free atomic counters on existing workers.
func (d *Dispatcher) route(ctx context.Context, path ArchivePath) (*ArchiveActor, error) {
	d.mu.Lock()
	if entry, ok := d.files[path]; ok {
		d.mu.Unlock()
		if entry.worker.hasPath(path) {
			return entry.worker, nil
		}
		// Stale entry: the worker no longer reports this path cached. Drop
		// it and fall through to re-admit.
		d.mu.Lock()
		if cur, ok := d.files[path]; ok && cur.worker == entry.worker {
			delete(d.files, path)
			cur.permit.Release()
		}
		d.mu.Unlock()
	} else {
		d.mu.Unlock()
	}

	waitStart := time.Now()
	if !d.fileSem.TryAcquire(1) {
		// Quota saturated: forcibly drop the least-busy actor's handle to
		// make room before falling back to a blocking acquire.
		d.evictOne()
		if err := d.fileSem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire file permit: %w", err)
		}
	}
	if d.metrics != nil {
		d.metrics.ObserveFilePermitWait(time.Since(waitStart))
		d.metrics.SetFilePermitsInUse(d.permitsInUse())
	}
	permit := &FilePermit{sem: d.fileSem}

	d.mu.Lock()
	if entry, ok := d.files[path]; ok {
		// A concurrent caller admitted this path while we were waiting on
		// the quota; yield our permit and ride the existing entry so the
		// path keeps exactly one permit and one owning actor.
		d.mu.Unlock()
		permit.Release()
		return entry.worker, nil
	}
	worker := d.selectWorker()
	d.files[path] = routeEntry{worker: worker, permit: permit}
	if d.metrics != nil {
		d.metrics.SetDispatcherRoutes(len(d.files))
		d.metrics.SetActorPoolSize(len(d.workers))
	}
	d.mu.Unlock()

	return worker, nil
}

// selectWorker picks the first idle worker, spawns a new one while the pool
// is below hw, and otherwise falls back to the least-loaded worker. Caller
// must hold d.mu.
func (d *Dispatcher) selectWorker() *ArchiveActor {
	for _, w := range d.workers {
		if w.Status().Idle {
			return w
		}
	}

	if len(d.workers) < d.hw {
		w := newArchiveActor(len(d.workers), d.integrity, d.mutator, d.metadataEntryName, d.metrics)
		d.workers = append(d.workers, w)
		return w
	}

	least := d.workers[0]
	leastN := least.Status().N
	for _, w := range d.workers[1:] {
		if n := w.Status().N; n < leastN {
			least, leastN = w, n
		}
	}
	return least
}

// evictOne removes one routing entry belonging to the least-busy worker,
// closing its cached handle and releasing its permit. A no-op when the
// routing table is empty.
func (d *Dispatcher) evictOne() {
	d.mu.Lock()
	var (
		victim ArchivePath
		entry  routeEntry
		found  bool
		bestN  int
	)
	for p, e := range d.files {
		n := e.worker.Status().N
		if !found || n < bestN {
			victim, entry, bestN, found = p, e, n, true
		}
	}
	if found {
		delete(d.files, victim)
		if d.metrics != nil {
			d.metrics.SetDispatcherRoutes(len(d.files))
		}
	}
	d.mu.Unlock()

	if !found {
		return
	}

	<-entry.worker.send(actorMessage{op: opClose, path: victim})
	entry.permit.Release()
	if d.metrics != nil {
		d.metrics.SetFilePermitsInUse(d.permitsInUse())
	}
}

// anyWorker returns any live worker, spawning the first one if the pool is
// empty. Used for pathless messages (Status).
func (d *Dispatcher) anyWorker() *ArchiveActor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.workers) == 0 {
		w := newArchiveActor(0, d.integrity, d.mutator, d.metadataEntryName, d.metrics)
		d.workers = append(d.workers, w)
		return w
	}
	return d.workers[0]
}

// hasPath reports whether the actor currently caches a handle for path, via
// the HasFile message.
func (a *ArchiveActor) hasPath(path ArchivePath) bool {
	reply := <-a.send(actorMessage{op: opHasFile, path: path})
	return reply.hasFile
}

// unroute removes path's routing entry and releases its permit. Called
// after a successful Close{path} round trip.
func (d *Dispatcher) unroute(path ArchivePath) {
	d.mu.Lock()
	entry, ok := d.files[path]
	if ok {
		delete(d.files, path)
	}
	if d.metrics != nil {
		d.metrics.SetDispatcherRoutes(len(d.files))
	}
	d.mu.Unlock()

	if ok {
		entry.permit.Release()
		if d.metrics != nil {
			d.metrics.SetFilePermitsInUse(d.permitsInUse())
		}
	}
}

// DispatcherSnapshot is a point-in-time view of the dispatcher's load, used
// by the admin health endpoint.
type DispatcherSnapshot struct {
	ActorPoolSize    int
	DispatcherRoutes int
}

// Snapshot returns the dispatcher's current actor-pool size and routing
// table size.
func (d *Dispatcher) Snapshot() DispatcherSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatcherSnapshot{
		ActorPoolSize:    len(d.workers),
		DispatcherRoutes: len(d.files),
	}
}

// permitsInUse returns the number of routing entries currently holding a
// permit. It takes d.mu itself, so callers must not hold it.
func (d *Dispatcher) permitsInUse() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// GetPages returns the PageIndex for path, opening the archive on first use.
func (d *Dispatcher) GetPages(ctx context.Context, path ArchivePath) (*PageIndex, error) {
	worker, err := d.route(ctx, path)
	if err != nil {
		return nil, err
	}
	reply := <-worker.send(actorMessage{op: opGetPages, path: path})
	return reply.pages, reply.err
}

// ReadPage returns the raw bytes of page name in the archive at path.
func (d *Dispatcher) ReadPage(ctx context.Context, path ArchivePath, name string) ([]byte, error) {
	worker, err := d.route(ctx, path)
	if err != nil {
		return nil, err
	}
	reply := <-worker.send(actorMessage{op: opReadPage, path: path, pageName: name})
	return reply.data, reply.err
}

// GetFirstPageName returns the first page name in path's archive.
func (d *Dispatcher) GetFirstPageName(ctx context.Context, path ArchivePath) (string, error) {
	worker, err := d.route(ctx, path)
	if err != nil {
		return "", err
	}
	reply := <-worker.send(actorMessage{op: opGetFirstPageName, path: path})
	return reply.name, reply.err
}

// GetMetadata returns path's embedded metadata, if present.
func (d *Dispatcher) GetMetadata(ctx context.Context, path ArchivePath) (Metadata, bool, error) {
	worker, err := d.route(ctx, path)
	if err != nil {
		return Metadata{}, false, err
	}
	reply := <-worker.send(actorMessage{op: opGetMetadata, path: path})
	return reply.meta, reply.metaOK, reply.err
}

// SetMetadata replaces path's embedded metadata via a copy-on-write
// rewrite.
func (d *Dispatcher) SetMetadata(ctx context.Context, path ArchivePath, meta Metadata) error {
	worker, err := d.route(ctx, path)
	if err != nil {
		return err
	}
	reply := <-worker.send(actorMessage{op: opSetMetadata, path: path, meta: meta})
	return reply.err
}

// DeletePage removes page name from path's archive via a copy-on-write
// rewrite.
func (d *Dispatcher) DeletePage(ctx context.Context, path ArchivePath, name string) error {
	worker, err := d.route(ctx, path)
	if err != nil {
		return err
	}
	reply := <-worker.send(actorMessage{op: opDeletePage, path: path, pageName: name})
	return reply.err
}

// Status reports an arbitrary live worker's load via the pathless Status
// message; a message without a path may be served by any worker.
func (d *Dispatcher) Status() ActorStatus {
	reply := <-d.anyWorker().send(actorMessage{op: opStatus})
	return ActorStatus{Idle: reply.isIdle, N: reply.busyN}
}

// Close releases path's handle and its routing entry/permit.
func (d *Dispatcher) Close(ctx context.Context, path ArchivePath) error {
	d.mu.Lock()
	entry, ok := d.files[path]
	d.mu.Unlock()
	if !ok {
		return nil
	}

	reply := <-entry.worker.send(actorMessage{op: opClose, path: path})
	if reply.err != nil {
		return reply.err
	}

	d.unroute(path)
	return nil
}
