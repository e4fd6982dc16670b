// Package objstore is the default backing object store: a loose,
// content-addressed, zlib-compressed collection of commit/tree/blob/tag
// objects on disk, keyed by the 20-byte SHA-1 of "<kind> <size>\x00<data>".
// It is grounded on the teacher project's internal/objects/blob.go and
// commit.go loose-object layout (two-hex-char fan-out directory, a small
// text header before the payload) but generalized to all four object kinds
// and to binary (not hex-string) identity, matching the pack builder's
// ObjectID type.
package objstore

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/vecpack/packline/internal/hashutil"
	"github.com/vecpack/packline/internal/objmodel"
)

// Store is a loose-object directory rooted at <repoRoot>/.vec/loose-objects.
type Store struct {
	root string
}

// Open returns a Store rooted at <repoRoot>/.vec/loose-objects, creating the
// directory if necessary.
func Open(repoRoot string) (*Store, error) {
	dir := filepath.Join(repoRoot, ".vec", "loose-objects")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create object dir: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(id objmodel.ID) string {
	hex := fmt.Sprintf("%x", [20]byte(id))
	return filepath.Join(s.root, hex[:2], hex[2:])
}

// Write computes the content id for (kind, data), stores it if not already
// present, and returns the id.
func (s *Store) Write(kind objmodel.Kind, data []byte) (objmodel.ID, error) {
	header := []byte(fmt.Sprintf("%s %d\x00", kind, len(data)))
	id := objmodel.ID(hashutil.Of(header, data))

	path := s.path(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return id, fmt.Errorf("objstore: create fan-out dir: %w", err)
	}

	var compressed bytes.Buffer
	compressed.WriteByte(byte(kind))
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return id, fmt.Errorf("objstore: compress object: %w", err)
	}
	if err := w.Close(); err != nil {
		return id, fmt.Errorf("objstore: close compressor: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed.Bytes(), 0o644); err != nil {
		os.Remove(tmp)
		return id, fmt.Errorf("objstore: write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return id, fmt.Errorf("objstore: finalize object: %w", err)
	}
	return id, nil
}

// Read implements the backing store's read(hash) -> {kind, size, bytes}
// collaborator interface the pack builder depends on.
func (s *Store) Read(id objmodel.ID) (objmodel.Kind, int64, []byte, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("objstore: read %s: %w", id, err)
	}
	if len(raw) < 1 {
		return 0, 0, nil, fmt.Errorf("objstore: %s: truncated object", id)
	}
	kind := objmodel.Kind(raw[0])
	r, err := zlib.NewReader(bytes.NewReader(raw[1:]))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("objstore: %s: decompress: %w", id, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("objstore: %s: decompress: %w", id, err)
	}
	return kind, int64(len(data)), data, nil
}

// Has reports whether an object with the given id is already stored.
func (s *Store) Has(id objmodel.ID) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// TreeEntry is one line of a tree object: a child id, its kind, and the
// basename under which it appears in its parent tree.
type TreeEntry struct {
	Name string
	ID   objmodel.ID
	Kind objmodel.Kind
}

// SerializeTree encodes entries in git's tree format, sorted by name:
// "<mode> <name>\x00<20-byte-id>" repeated, where mode is a coarse stand-in
// (trees use 040000, everything else 100644) since file permissions are not
// part of this object model.
func SerializeTree(entries []TreeEntry) []byte {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, e := range sorted {
		mode := "100644"
		if e.Kind == objmodel.KindTree {
			mode = "040000"
		}
		fmt.Fprintf(&buf, "%s %s\x00", mode, e.Name)
		buf.Write(e.ID[:])
	}
	return buf.Bytes()
}

// DeserializeTree parses a buffer produced by SerializeTree.
func DeserializeTree(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("objstore: malformed tree entry: missing mode separator")
		}
		mode := string(data[:sp])
		rest := data[sp+1:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("objstore: malformed tree entry: missing name terminator")
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]
		if len(rest) < 20 {
			return nil, fmt.Errorf("objstore: malformed tree entry: truncated id")
		}
		var id objmodel.ID
		copy(id[:], rest[:20])
		kind := objmodel.KindBlob
		if mode == "040000" {
			kind = objmodel.KindTree
		}
		entries = append(entries, TreeEntry{Name: name, ID: id, Kind: kind})
		data = rest[20:]
	}
	return entries, nil
}

// WalkTree visits root and every object reachable from it (pre-order:
// parent before children, siblings in serialized/sorted order), calling
// visit with a "/"-joined path hint for each. It is a thin convenience used
// only by the host application's InsertTree wiring -- the pack builder
// itself never traverses trees.
func (s *Store) WalkTree(root objmodel.ID, visit func(id objmodel.ID, kind objmodel.Kind, pathHint string) error) error {
	return s.walk(root, "", visit)
}

func (s *Store) walk(id objmodel.ID, prefix string, visit func(objmodel.ID, objmodel.Kind, string) error) error {
	kind, _, data, err := s.Read(id)
	if err != nil {
		return err
	}
	if err := visit(id, kind, prefix); err != nil {
		return err
	}
	if kind != objmodel.KindTree {
		return nil
	}
	entries, err := DeserializeTree(data)
	if err != nil {
		return err
	}
	for _, e := range entries {
		childPath := e.Name
		if prefix != "" {
			childPath = prefix + "/" + e.Name
		}
		if err := s.walk(e.ID, childPath, visit); err != nil {
			return err
		}
	}
	return nil
}

// Tag is the minimal annotated-tag payload: a name and the id of the object
// it points at (peeling through layered tags is explicitly out of scope).
type Tag struct {
	Name   string
	Target objmodel.ID
}

// SerializeTag encodes a tag as "<name>\x00<20-byte-target-id>".
func SerializeTag(t Tag) []byte {
	var buf bytes.Buffer
	buf.WriteString(t.Name)
	buf.WriteByte(0)
	buf.Write(t.Target[:])
	return buf.Bytes()
}

// DeserializeTag parses a buffer produced by SerializeTag.
func DeserializeTag(data []byte) (Tag, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 || len(data)-nul-1 != 20 {
		return Tag{}, fmt.Errorf("objstore: malformed tag object")
	}
	var target objmodel.ID
	copy(target[:], data[nul+1:])
	return Tag{Name: string(data[:nul]), Target: target}, nil
}

// TagTips reads each of the given ids and, for those that are tag objects,
// returns the (unpeeled) set of objects they point at; ids of other kinds
// are skipped -- the "tagged tip"
// marking the write-order planner needs. Real annotated-tag peeling (a tag
// pointing at another tag) is a documented non-goal.
func (s *Store) TagTips(tagIDs []objmodel.ID) (map[objmodel.ID]bool, error) {
	tips := make(map[objmodel.ID]bool, len(tagIDs))
	for _, tagID := range tagIDs {
		kind, _, data, err := s.Read(tagID)
		if err != nil {
			return nil, err
		}
		if kind != objmodel.KindTag {
			continue
		}
		tag, err := DeserializeTag(data)
		if err != nil {
			return nil, err
		}
		tips[tag.Target] = true
	}
	return tips, nil
}
