// Package blocks provides the graph components of the sparse transformer:
// scaled token embeddings, sinusoidal positional encoding, block-sparse
// attention masks, the multi-head attention core, feed-forward blocks,
// layer normalization and the pre-norm residual wrapper.
package blocks

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// SparseMaskValues computes the (seqLen, seqLen) boolean allow matrix of the
// block-sparse/strided attention pattern, in row-major order with the query
// position as the row index.
//
// A query position q may attend to key position k when:
//   - k falls in q's contiguous block of blockSize positions (the last block
//     is truncated to the remaining positions when seqLen is not a multiple
//     of blockSize), or
//   - k sits at a whole multiple of stride away from q.
//
// When causal is set, positions after q are suppressed regardless of the
// rules above. The result is deterministic for a given argument tuple, and
// q always attends to itself.
func SparseMaskValues(seqLen, blockSize, stride int, causal bool) []bool {
	mask := make([]bool, seqLen*seqLen)
	for q := 0; q < seqLen; q++ {
		blockStart := (q / blockSize) * blockSize
		blockEnd := blockStart + blockSize
		if blockEnd > seqLen {
			blockEnd = seqLen
		}
		for k := 0; k < seqLen; k++ {
			if causal && k > q {
				continue
			}
			if k >= blockStart && k < blockEnd {
				mask[q*seqLen+k] = true
				continue
			}
			diff := q - k
			if diff < 0 {
				diff = -diff
			}
			if diff%stride == 0 {
				mask[q*seqLen+k] = true
			}
		}
	}
	return mask
}

// CreateSparseMask builds the block-sparse allow mask as a boolean constant
// of shape [1, 1, seqLen, seqLen], ready to broadcast over the batch and
// head axes. See SparseMaskValues for the pattern definition.
func CreateSparseMask(g *Graph, seqLen, blockSize, stride int, causal bool) *Node {
	mask := Const(g, SparseMaskValues(seqLen, blockSize, stride, causal))
	return Reshape(mask, 1, 1, seqLen, seqLen)
}

// CreateCausalMask builds a lower-triangular boolean allow mask of shape
// [1, 1, seqLen, seqLen]: mask[q][k] is true iff k <= q. Callers combine it
// with their padding mask to form the decoder self-attention mask.
func CreateCausalMask(g *Graph, seqLen int) *Node {
	mask := make([]bool, seqLen*seqLen)
	for q := 0; q < seqLen; q++ {
		for k := 0; k <= q; k++ {
			mask[q*seqLen+k] = true
		}
	}
	return Reshape(Const(g, mask), 1, 1, seqLen, seqLen)
}

// ExpandPaddingMask converts a [batch, seqLen] boolean validity mask (true
// where a real token sits) into the [batch, 1, 1, seqLen] attention form
// broadcastable against [batch, heads, seqLen, seqLen] score tensors.
func ExpandPaddingMask(mask *Node) *Node {
	return InsertAxes(mask, 1, 1)
}
