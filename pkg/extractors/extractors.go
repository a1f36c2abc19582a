// Package extractors contains the built-in extractors.
package extractors

import (
	"github.com/bloxapp/chain-extract/pkg/extract"
	"github.com/bloxapp/chain-extract/pkg/storage"
)

// All returns every built-in extractor, dependencies first.
func All() []extract.Extractor {
	return []extract.Extractor{
		NewBlockIntervals(),
		NewDailyBlocks(),
	}
}

func blockNumbers(blocks []storage.Block) []int64 {
	numbers := make([]int64, len(blocks))
	for i, block := range blocks {
		numbers[i] = block.Number
	}
	return numbers
}
