package packbuilder

import "github.com/vecpack/packline/internal/packconfig"

// Option configures a Builder at construction time.
type Option func(*Builder)

// WithConfig applies every tunable in cfg (delta cache size/limit, window
// memory limit, window, max depth, worker count) to the builder.
func WithConfig(cfg *packconfig.Config) Option {
	return func(b *Builder) {
		b.cfg.deltaCacheSize = cfg.DeltaCacheSize
		b.cfg.deltaCacheLimit = cfg.DeltaCacheLimit
		b.cfg.windowMemLimit = cfg.WindowMemory
		b.cfg.window = cfg.Window
		b.cfg.maxDepth = cfg.MaxDepth
		b.cfg.workers = cfg.Workers
		b.big = cfg.BigFileThreshold
	}
}

// WithWindow overrides the sliding-window size (W); the search itself uses
// W+1 slots so a just-evicted object can still serve as the current base.
func WithWindow(w int) Option {
	return func(b *Builder) { b.cfg.window = w }
}

// WithMaxDepth overrides the maximum delta chain length (D).
func WithMaxDepth(d int) Option {
	return func(b *Builder) { b.cfg.maxDepth = d }
}

// WithTreeWalker wires the tree-traversal collaborator InsertTree needs.
func WithTreeWalker(w TreeWalker) Option {
	return func(b *Builder) { b.walker = w }
}

// WithTaggedTips wires the tag-enumeration collaborator the write-order
// planner uses to mark tagged tips.
func WithTaggedTips(tt TaggedTips) Option {
	return func(b *Builder) { b.tags = tt }
}
