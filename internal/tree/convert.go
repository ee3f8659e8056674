package tree

import (
	log "github.com/sirupsen/logrus"
)

// DefaultShardSplitThreshold is the entry count above which a flat
// directory is sharded.
const DefaultShardSplitThreshold = 1000

// Convert returns dir unchanged unless it is flat and holds more than
// threshold entries, in which case it returns an equivalent ShardedDir.
// The new directory keeps dir's path, flags, metadata and parent link,
// and every child directory is re-parented to it. Replacing dir in its
// parent is left to the caller. Sharded directories never convert back.
func Convert(dir Directory, threshold, width int) Directory {
	flat, ok := dir.(*FlatDir)
	if !ok || flat.Len() <= threshold {
		return dir
	}

	log.Debugf("tree: converting %q to sharded (%d entries, threshold %d)", flat.path, flat.Len(), threshold)
	sharded := newShardedDir(flat.dirInfo, threshold, width)
	for _, name := range flat.names {
		sharded.Put(name, flat.children[name])
	}
	sharded.dirty = flat.dirty
	sharded.cached = nil
	return sharded
}
