package extract

import "github.com/bloxapp/chain-extract/pkg/storage"

// DefaultReorgMargin is the distance from the tip within which blocks are
// considered at risk of being reorganized.
const DefaultReorgMargin = 1000

// closeToTip reports whether a batch starting at lowest may reach into the
// reorg margin below tip.
func closeToTip(lowest, tip int64, batchSize, margin int) bool {
	return lowest+int64(batchSize)-tip+int64(margin) > 0
}

// singletons reports whether a batch starting at lowest must be processed one
// block at a time.
func singletons(lowest, tip int64, batchSize, margin int, disablePerfBoost bool) bool {
	return disablePerfBoost || closeToTip(lowest, tip, batchSize, margin)
}

// Group splits blocks, which must be ascending by number, into sub-batches.
//
// Close to the tip, or when perf boost is disabled, every block is its own
// sub-batch so that a reorg invalidates as little work as possible. Otherwise
// blocks are grouped into maximal runs of consecutive numbers.
func Group(
	blocks []storage.Block,
	tip int64,
	batchSize int,
	margin int,
	disablePerfBoost bool,
) [][]storage.Block {
	if len(blocks) == 0 {
		return nil
	}
	if singletons(blocks[0].Number, tip, batchSize, margin, disablePerfBoost) {
		groups := make([][]storage.Block, len(blocks))
		for i := range blocks {
			groups[i] = blocks[i : i+1 : i+1]
		}
		return groups
	}

	var groups [][]storage.Block
	start := 0
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Number != blocks[i-1].Number+1 {
			groups = append(groups, blocks[start:i:i])
			start = i
		}
	}
	return append(groups, blocks[start:len(blocks):len(blocks)])
}
