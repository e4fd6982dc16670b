package packbuilder_test

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vecpack/packline/internal/hashutil"
	"github.com/vecpack/packline/internal/objmodel"
	"github.com/vecpack/packline/internal/packbuilder"
)

// memObj is one stored object in the in-memory fake used across this
// package's tests -- a minimal stand-in for the real on-disk objstore.
type memObj struct {
	kind objmodel.Kind
	data []byte
}

// memStore is an in-memory ObjectStore/TreeWalker/TaggedTips fake, letting
// these tests exercise the core without touching a filesystem.
type memStore struct {
	objs map[objmodel.ID]memObj
	tags map[objmodel.ID]objmodel.ID // tag id -> target id
}

func newMemStore() *memStore {
	return &memStore{objs: make(map[objmodel.ID]memObj), tags: make(map[objmodel.ID]objmodel.ID)}
}

func (m *memStore) put(kind objmodel.Kind, data []byte) objmodel.ID {
	header := []byte(fmt.Sprintf("%s %d\x00", kind, len(data)))
	id := objmodel.ID(hashutil.Of(header, data))
	m.objs[id] = memObj{kind: kind, data: data}
	return id
}

func (m *memStore) putTag(target objmodel.ID) objmodel.ID {
	var buf bytes.Buffer
	buf.Write(target[:])
	id := m.put(objmodel.KindTag, buf.Bytes())
	m.tags[id] = target
	return id
}

func (m *memStore) putTree(entries map[string]objmodel.ID, kinds map[string]objmodel.Kind) objmodel.ID {
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, n := range names {
		id := entries[n]
		buf.WriteString(n)
		buf.WriteByte(0)
		buf.Write(id[:])
		buf.WriteByte(byte(kinds[n]))
	}
	return m.put(objmodel.KindTree, buf.Bytes())
}

func (m *memStore) Read(id objmodel.ID) (objmodel.Kind, int64, []byte, error) {
	o, ok := m.objs[id]
	if !ok {
		return 0, 0, nil, fmt.Errorf("memstore: no such object %s", id)
	}
	return o.kind, int64(len(o.data)), o.data, nil
}

// WalkTree parses the toy tree encoding putTree produces (name, id, kind
// triples) and visits every descendant pre-order.
func (m *memStore) WalkTree(root objmodel.ID, visit func(id objmodel.ID, kind objmodel.Kind, pathHint string) error) error {
	return m.walk(root, "", visit)
}

func (m *memStore) walk(id objmodel.ID, prefix string, visit func(objmodel.ID, objmodel.Kind, string) error) error {
	o, ok := m.objs[id]
	if !ok {
		return fmt.Errorf("memstore: no such object %s", id)
	}
	if o.kind != objmodel.KindTree {
		return nil
	}
	data := o.data
	for len(data) > 0 {
		nul := bytes.IndexByte(data, 0)
		name := string(data[:nul])
		data = data[nul+1:]
		var childID objmodel.ID
		copy(childID[:], data[:20])
		data = data[20:]
		kind := objmodel.Kind(data[0])
		data = data[1:]

		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if err := visit(childID, kind, path); err != nil {
			return err
		}
		if kind == objmodel.KindTree {
			if err := m.walk(childID, path, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memStore) TagTips(tagIDs []objmodel.ID) (map[objmodel.ID]bool, error) {
	tips := make(map[objmodel.ID]bool)
	for _, t := range tagIDs {
		if target, ok := m.tags[t]; ok {
			tips[target] = true
		}
	}
	return tips, nil
}

var _ packbuilder.ObjectStore = (*memStore)(nil)
var _ packbuilder.TreeWalker = (*memStore)(nil)
var _ packbuilder.TaggedTips = (*memStore)(nil)
