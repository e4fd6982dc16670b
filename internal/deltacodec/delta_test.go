package deltacodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDeltaRoundTrip(t *testing.T) {
	base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 50)
	target := make([]byte, len(base))
	copy(target, base)
	// Perturb a small region so the rest still matches the base closely.
	copy(target[100:116], []byte("DIFFERENT--BYTES"))

	idx := CreateIndex(base)
	delta, ok := CreateDelta(idx, target, len(target))
	require.True(t, ok)
	require.Less(t, len(delta), len(target), "delta should be smaller than a near-identical target")

	got, err := Apply(base, delta)
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestCreateDeltaNoImprovementOnUnrelatedData(t *testing.T) {
	base := bytes.Repeat([]byte{0xAA}, 1024)
	target := bytes.Repeat([]byte{0x55}, 1024)

	idx := CreateIndex(base)
	_, ok := CreateDelta(idx, target, 10) // tiny budget, no shared blocks
	require.False(t, ok)
}

func TestApplyRejectsBaseSizeMismatch(t *testing.T) {
	base := []byte("hello world")
	idx := CreateIndex(base)
	delta, ok := CreateDelta(idx, []byte("hello world!!"), 64)
	require.True(t, ok)

	_, err := Apply([]byte("hello worl"), delta)
	require.Error(t, err)
}

func TestCreateIndexEmptySource(t *testing.T) {
	idx := CreateIndex(nil)
	delta, ok := CreateDelta(idx, []byte("anything"), 64)
	require.True(t, ok)
	got, err := Apply(nil, delta)
	require.NoError(t, err)
	require.Equal(t, []byte("anything"), got)
}
