package blocks

import (
	"fmt"
	"math"
	"sync"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// Attention computes multi-head scaled dot-product attention with dense
// (unrestricted) connectivity. It is used for decoder cross-attention
// against the encoder output. Q/K/V/O projections are bias-free and their
// parameters live in the "query", "key", "value" and "output" scopes of the
// context passed to Apply.
type Attention struct {
	NumHeads    int
	DropoutRate float64
}

// NewAttention returns a dense multi-head attention component.
func NewAttention(numHeads int, dropoutRate float64) *Attention {
	return &Attention{NumHeads: numHeads, DropoutRate: dropoutRate}
}

// Apply computes attention from query over key/value. mask, if not nil,
// must be a boolean allow tensor broadcastable to
// [batch, heads, querySeq, keySeq]; true means attend-allowed.
func (a *Attention) Apply(ctx *context.Context, query, key, value, mask *Node) *Node {
	if mask != nil {
		batchSize := query.Shape().Dimensions[0]
		querySeqLen := query.Shape().Dimensions[1]
		keySeqLen := key.Shape().Dimensions[1]
		mask = BroadcastToDims(mask, batchSize, a.NumHeads, querySeqLen, keySeqLen)
	}
	return attend(ctx, query, key, value, mask, a.NumHeads, a.DropoutRate)
}

// SparseAttention computes multi-head attention restricted to the
// block-sparse/strided pattern. It is used for encoder (non-causal) and
// decoder (causal) self-attention. The allow matrix only depends on the
// sequence length, so it is memoized per length the same way the
// positional-encoding table is precomputed.
type SparseAttention struct {
	Attention
	BlockSize int
	Stride    int
	Causal    bool

	mu        sync.Mutex
	maskCache map[int][]bool
}

// NewSparseAttention returns a sparse multi-head attention component with
// the given block/stride pattern. Causal restricts keys to positions at or
// before the query.
func NewSparseAttention(numHeads int, dropoutRate float64, blockSize, stride int, causal bool) *SparseAttention {
	return &SparseAttention{
		Attention: Attention{NumHeads: numHeads, DropoutRate: dropoutRate},
		BlockSize: blockSize,
		Stride:    stride,
		Causal:    causal,
		maskCache: make(map[int][]bool),
	}
}

// maskValues returns the cached allow matrix for seqLen, computing it only
// the first time a given length is seen.
func (a *SparseAttention) maskValues(seqLen int) []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	values, ok := a.maskCache[seqLen]
	if !ok {
		values = SparseMaskValues(seqLen, a.BlockSize, a.Stride, a.Causal)
		a.maskCache[seqLen] = values
	}
	return values
}

// Apply computes self-attention over x under the structural sparse mask.
// mask, if not nil, is the caller-supplied padding (and causal, for the
// decoder) boolean mask broadcastable to [batch, heads, seq, seq]; it is
// replicated across the head axis and intersected with the sparse mask.
func (a *SparseAttention) Apply(ctx *context.Context, x, mask *Node) *Node {
	g := x.Graph()
	batchSize := x.Shape().Dimensions[0]
	seqLen := x.Shape().Dimensions[1]

	sparse := Const(g, a.maskValues(seqLen))
	sparse = Reshape(sparse, 1, 1, seqLen, seqLen)
	allow := BroadcastToDims(sparse, batchSize, a.NumHeads, seqLen, seqLen)
	if mask != nil {
		external := BroadcastToDims(mask, batchSize, a.NumHeads, seqLen, seqLen)
		allow = LogicalAnd(allow, external)
	}
	return attend(ctx, x, x, x, allow, a.NumHeads, a.DropoutRate)
}

// attend is the shared numeric kernel: bias-free Q/K/V projections, head
// split, scaled dot-product scores, masking, softmax over keys, dropout,
// weighted sum over values, head merge and bias-free output projection.
//
// Masked-out scores are set to the most negative finite float32, not -Inf:
// a row with every key masked then softmaxes to a finite uniform
// distribution instead of NaN.
func attend(ctx *context.Context, query, key, value, mask *Node, numHeads int, dropoutRate float64) *Node {
	dModel := query.Shape().Dimensions[2]
	if dModel%numHeads != 0 {
		panic(fmt.Sprintf("attention: d_model (%d) is not divisible by num_heads (%d)", dModel, numHeads))
	}
	headDim := dModel / numHeads

	q := layers.Dense(ctx.In("query"), query, false, dModel)
	k := layers.Dense(ctx.In("key"), key, false, dModel)
	v := layers.Dense(ctx.In("value"), value, false, dModel)

	q = SplitHeads(q, numHeads)
	k = SplitHeads(k, numHeads)
	v = SplitHeads(v, numHeads)

	// Attention scores: Q @ K^T / sqrt(d_k) -> [batch, heads, seq_q, seq_k]
	scores := Einsum("bhqd,bhkd->bhqk", q, k)
	scores = MulScalar(scores, 1.0/math.Sqrt(float64(headDim)))

	if mask != nil {
		scores = Where(mask, scores, ConstAs(scores, -math.MaxFloat32))
	}

	weights := Softmax(scores, -1)
	weights = layers.DropoutStatic(ctx.In("dropout"), weights, dropoutRate)

	output := Einsum("bhqk,bhkd->bhqd", weights, v)
	output = MergeHeads(output)
	return layers.Dense(ctx.In("output"), output, false, dModel)
}

// SplitHeads reshapes [batch, seq, d] into [batch, heads, seq, d/heads].
// The values are only permuted, never recomputed.
func SplitHeads(x *Node, numHeads int) *Node {
	batchSize := x.Shape().Dimensions[0]
	seqLen := x.Shape().Dimensions[1]
	dModel := x.Shape().Dimensions[2]
	x = Reshape(x, batchSize, seqLen, numHeads, dModel/numHeads)
	return Transpose(x, 1, 2)
}

// MergeHeads is the inverse of SplitHeads: [batch, heads, seq, headDim]
// back to [batch, seq, heads*headDim].
func MergeHeads(x *Node) *Node {
	batchSize := x.Shape().Dimensions[0]
	numHeads := x.Shape().Dimensions[1]
	seqLen := x.Shape().Dimensions[2]
	headDim := x.Shape().Dimensions[3]
	x = Transpose(x, 1, 2)
	return Reshape(x, batchSize, seqLen, numHeads*headDim)
}
