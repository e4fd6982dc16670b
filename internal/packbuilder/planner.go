package packbuilder

import (
	"errors"

	"github.com/vecpack/packline/internal/objmodel"
)

var errInvalidWriteOrder = errors.New("invalid write order")

// planWriteOrder implements spec.md §4.5: it resets the emit-order scratch
// fields, relinks the parent/first-child/next-sibling forest from the
// delta_base edges left by search, marks tagged tips, and returns the
// table indices in emit order.
func planWriteOrder(t *table, taggedTips map[ObjectID]bool) ([]int, error) {
	for _, r := range t.records {
		r.deltaChild = noIndex
		r.deltaSibling = noIndex
		r.tagged = false
		r.filled = false
	}

	// Reverse insertion order so that prepending each delta-bearing record
	// to its base's child list leaves sibling order equal to original
	// recency order when walked forward.
	for i := t.len() - 1; i >= 0; i-- {
		r := t.at(i)
		if r.deltaBase == noIndex {
			continue
		}
		base := t.at(r.deltaBase)
		r.deltaSibling = base.deltaChild
		base.deltaChild = i
	}

	for id := range taggedTips {
		if i, ok := t.has(id); ok {
			t.at(i).tagged = true
		}
	}

	var order []int
	emitted := make([]bool, t.len())
	emit := func(i int) {
		if !emitted[i] {
			emitted[i] = true
			order = append(order, i)
		}
	}

	firstTagged := -1
	for i := 0; i < t.len(); i++ {
		if t.at(i).tagged {
			firstTagged = i
			break
		}
	}
	untaggedEnd := t.len()
	if firstTagged >= 0 {
		untaggedEnd = firstTagged
	}
	for i := 0; i < untaggedEnd; i++ {
		emit(i)
	}

	for i := 0; i < t.len(); i++ {
		if t.at(i).tagged {
			emit(i)
		}
	}

	for i := 0; i < t.len(); i++ {
		if !emitted[i] && (t.at(i).kind == objmodel.KindCommit || t.at(i).kind == objmodel.KindTag) {
			emit(i)
		}
	}

	for i := 0; i < t.len(); i++ {
		if !emitted[i] && t.at(i).kind == objmodel.KindTree {
			emit(i)
		}
	}

	for i := 0; i < t.len(); i++ {
		if emitted[i] || t.at(i).filled {
			continue
		}
		addFamilyToWriteOrder(t, i, emitted, &order)
	}

	if len(order) != t.len() {
		return nil, newErr(ErrInvariant, "planner.planWriteOrder", errInvalidWriteOrder)
	}
	return order, nil
}

// addFamilyToWriteOrder climbs from i to its delta-root (the highest
// ancestor with no delta_base), then depth-first visits each node followed
// by its siblings before descending into its first child -- spec.md
// §4.5's add_descendants_to_write_order.
func addFamilyToWriteOrder(t *table, i int, emitted []bool, order *[]int) {
	root := i
	for t.at(root).deltaBase != noIndex {
		root = t.at(root).deltaBase
	}
	visitFamily(t, root, emitted, order)
}

func visitFamily(t *table, i int, emitted []bool, order *[]int) {
	for s := i; s != noIndex; s = t.at(s).deltaSibling {
		if !emitted[s] {
			emitted[s] = true
			t.at(s).filled = true
			*order = append(*order, s)
		}
	}
	for s := i; s != noIndex; s = t.at(s).deltaSibling {
		if c := t.at(s).deltaChild; c != noIndex {
			visitFamily(t, c, emitted, order)
		}
	}
}
