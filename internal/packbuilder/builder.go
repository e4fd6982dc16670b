// Package packbuilder is the core of the pack builder: the delta-selection
// heuristic, the parallel work partitioning that runs it across workers,
// the write-order computation, and the streaming pack writer. Everything
// else (the backing store, compression, the delta codec, hashing, sinks)
// is injected through the interfaces in types.go, so the core imports no
// concrete store, compressor, delta codec or hash implementation.
package packbuilder

import (
	"bytes"
	"fmt"

	"github.com/vecpack/packline/internal/objmodel"
)

// TaggedTips reports, for a set of tag object ids, the (unpeeled) object
// each points at -- the external "tag enumeration" collaborator spec.md
// §1 calls out as out of scope for the core itself.
type TaggedTips interface {
	TagTips(tagIDs []ObjectID) (map[ObjectID]bool, error)
}

// TreeWalker is the external tree-traversal collaborator InsertTree uses
// to discover a tree's descendants.
type TreeWalker interface {
	WalkTree(root ObjectID, visit func(id ObjectID, kind Kind, pathHint string) error) error
}

// Builder is a handle over one object set being prepared into a pack.
// It is not safe for concurrent use by multiple goroutines.
type Builder struct {
	store   ObjectStore
	walker  TreeWalker
	tags    TaggedTips
	comp    Compressor
	codec   DeltaCodec
	newHash func() HashAccumulator

	cfg searchConfig
	big int64

	t          *table
	tagIDs     []ObjectID
	done       bool
	writeOrder []int
}

// New opens a builder over store with the given collaborators and tuning.
func New(store ObjectStore, comp Compressor, codec DeltaCodec, newHash func() HashAccumulator, opts ...Option) (*Builder, error) {
	b := &Builder{
		store:   store,
		comp:    comp,
		codec:   codec,
		newHash: newHash,
		t:       newTable(),
		cfg: searchConfig{
			window:   10,
			maxDepth: 50,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.window < 0 || b.cfg.maxDepth < 0 || b.cfg.deltaCacheSize < 0 || b.cfg.deltaCacheLimit < 0 || b.big < 0 {
		return nil, newErr(ErrConfig, "New", fmt.Errorf("negative configuration value"))
	}
	return b, nil
}

// SetWorkerCount sets the delta-search worker count; 0 autodetects CPU
// count, 1 forces serial execution.
func (b *Builder) SetWorkerCount(n int) { b.cfg.workers = n }

// Insert adds one object, identified by id, to the set this builder will
// pack, using nameHint (optional) for locality clustering.
func (b *Builder) Insert(id ObjectID, nameHint string) error {
	if _, ok := b.t.has(id); ok {
		return nil
	}
	kind, size, _, err := b.store.Read(id)
	if err != nil {
		return newErr(ErrStoreRead, "Insert", err)
	}
	r := newRecord(id, kind, size, nameHash(nameHint))
	b.t.append(r)
	if kind == objmodel.KindTag {
		b.tagIDs = append(b.tagIDs, id)
	}
	b.done = false
	return nil
}

// InsertTree adds a tree and every object reachable from it, using the
// walked path as each descendant's name hint.
func (b *Builder) InsertTree(root ObjectID) error {
	if b.walker == nil {
		return newErr(ErrInvariant, "InsertTree", fmt.Errorf("no tree walker collaborator configured"))
	}
	if err := b.Insert(root, ""); err != nil {
		return err
	}
	err := b.walker.WalkTree(root, func(id ObjectID, kind Kind, pathHint string) error {
		if id == root {
			return nil
		}
		return b.Insert(id, pathHint)
	})
	if err != nil {
		return newErr(ErrStoreRead, "InsertTree", err)
	}
	return nil
}

// prepare runs object-details -> filter -> sort -> delta search exactly
// once per insertion batch, per the "done" flag spec.md §2/§6 describes.
func (b *Builder) prepare() error {
	if b.done {
		return nil
	}
	objectDetails(b.t, b.bigFileThreshold())
	candidates := buildCandidates(b.t)
	if err := parallelSearch(b.t, b.store, b.comp, b.codec, b.cfg, candidates); err != nil {
		return err
	}

	var tags map[ObjectID]bool
	if b.tags != nil && len(b.tagIDs) > 0 {
		var err error
		tags, err = b.tags.TagTips(b.tagIDs)
		if err != nil {
			return newErr(ErrStoreRead, "prepare", err)
		}
	}
	order, err := planWriteOrder(b.t, tags)
	if err != nil {
		return err
	}
	b.writeOrder = order
	b.done = true
	return nil
}

func (b *Builder) bigFileThreshold() int64 {
	if b.big > 0 {
		return b.big
	}
	return 1 << 62
}

func (b *Builder) emit(sink Sink) error {
	if err := b.prepare(); err != nil {
		return err
	}
	w := newPackWriter(b.t, b.store, b.comp, b.codec, b.newHash(), sink)
	return w.write(b.writeOrder)
}

// Send streams the pack directly to a transport (any io.Writer-backed
// Sink), without buffering the whole stream in memory.
func (b *Builder) Send(sink Sink) error {
	return b.emit(sink)
}

// WriteToBuffer appends the pack to buf.
func (b *Builder) WriteToBuffer(buf *bytes.Buffer) error {
	return b.emit(NewBufferSink(buf))
}

// WriteToFile writes the pack to path, publishing it atomically: bytes
// land in a staging file and are renamed into place only once the whole
// stream has been written successfully.
func (b *Builder) WriteToFile(path string) error {
	sink, err := NewFileSink(path)
	if err != nil {
		return newErr(ErrIO, "WriteToFile", err)
	}
	writeErr := b.emit(sink)
	return sink.Commit(writeErr)
}

// Close releases the builder's owned memory. The store handle itself is
// owned by the caller and is not closed here.
func (b *Builder) Close() {
	b.t = newTable()
	b.writeOrder = nil
	b.tagIDs = nil
	b.done = false
}
