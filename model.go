package sparseformer

import (
	"fmt"
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/pkg/errors"

	"github.com/ajroetker/sparseformer/blocks"
)

// Model wires the sparse encoder-decoder transformer: source/target
// embeddings with positional encoding, N encoder layers (sparse
// self-attention + feed-forward), N decoder layers (sparse causal
// self-attention + dense cross-attention + feed-forward), a final
// normalization per stack, and the vocabulary projection.
//
// Parameter tensors are created in the context the first time a graph is
// built and reused afterwards; every block owns the variables in its own
// scope, nothing is shared across layers.
type Model struct {
	// Config is the validated model configuration.
	Config *Config

	srcPos *blocks.PositionalEncoding
	tgtPos *blocks.PositionalEncoding

	// The sparse mask only depends on the sequence length, so a single
	// builder per causality mode serves every layer; parameters stay
	// per-layer through the context scopes.
	encoderSelfAttention *blocks.SparseAttention
	decoderSelfAttention *blocks.SparseAttention
	crossAttention       *blocks.Attention
	feedForward          *blocks.FeedForward
}

// Build validates the configuration and assembles a model from it.
func Build(config *Config) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sparseformer config")
	}
	return &Model{
		Config: config,
		srcPos: blocks.NewPositionalEncoding(config.DModel, config.SrcMaxLen, config.DropoutRate),
		tgtPos: blocks.NewPositionalEncoding(config.DModel, config.TgtMaxLen, config.DropoutRate),
		encoderSelfAttention: blocks.NewSparseAttention(
			config.NumHeads, config.DropoutRate, config.BlockSize, config.Stride, false),
		decoderSelfAttention: blocks.NewSparseAttention(
			config.NumHeads, config.DropoutRate, config.BlockSize, config.Stride, true),
		crossAttention: blocks.NewAttention(config.NumHeads, config.DropoutRate),
		feedForward:    blocks.NewFeedForward(config.FFDim, config.DropoutRate),
	}, nil
}

// NewContext returns a context set up for this model: multi-dimensional
// parameters get the Xavier/Glorot fan-in/fan-out uniform initializer,
// vectors (biases, norm offsets) start at zero and norm gains at one. With
// a non-zero Config.Seed the initialization and dropout draws are
// deterministic.
func (m *Model) NewContext() (*context.Context, error) {
	ctx := context.New()
	if m.Config.Seed != 0 {
		if err := ctx.SetRNGStateFromSeed(m.Config.Seed); err != nil {
			return nil, errors.Wrap(err, "failed to seed the context RNG state")
		}
	}
	return ctx.WithInitializer(initializers.XavierUniformFn(ctx)), nil
}

// Forward runs the full sequence-to-sequence pass and returns unnormalized
// logits of shape [batch, tgtSeq, tgt_vocab_size].
//
// encoderInputIDs and decoderInputIDs are integer tensors of shape
// [batch, srcSeq] and [batch, tgtSeq] with values inside the respective
// vocabularies; use ValidateTokenIDs on the input tensors, the embedding
// lookup clamps rather than rejects out-of-range ids. encoderMask ([batch, 1, 1, srcSeq], boolean, true where a
// real token sits) and decoderMask ([batch, 1, tgtSeq, tgtSeq], padding
// already intersected with the causal triangle by the caller — see
// blocks.CreateCausalMask) may be nil for fully valid sequences.
//
// Dropout is active only on graphs marked with ctx.SetTraining(g, true);
// otherwise the pass is deterministic given the parameters.
func (m *Model) Forward(ctx *context.Context, encoderInputIDs, decoderInputIDs, encoderMask, decoderMask *Node) *Node {
	encoderOutput := m.Encode(ctx, encoderInputIDs, encoderMask)
	decoderOutput := m.Decode(ctx, decoderInputIDs, encoderOutput, encoderMask, decoderMask)
	return m.Project(ctx, decoderOutput)
}

// Encode embeds the source ids and runs the encoder stack, returning the
// normalized encoder output of shape [batch, srcSeq, d_model].
func (m *Model) Encode(ctx *context.Context, inputIDs, mask *Node) *Node {
	cfg := m.Config

	x := blocks.Embedding(ctx.In("src_embed"), inputIDs, cfg.SrcVocabSize, cfg.DModel)
	x = m.srcPos.Apply(ctx.In("src_pos"), x)

	encCtx := ctx.In("encoder")
	for i := 0; i < cfg.NumLayers; i++ {
		layerCtx := encCtx.In("layer").In(itoa(i))

		attnCtx := layerCtx.In("self_attention")
		x = blocks.Residual(attnCtx, x, cfg.LayerNormEps, cfg.DropoutRate, func(normalized *Node) *Node {
			return m.encoderSelfAttention.Apply(attnCtx, normalized, mask)
		})

		ffCtx := layerCtx.In("ff")
		x = blocks.Residual(ffCtx, x, cfg.LayerNormEps, cfg.DropoutRate, func(normalized *Node) *Node {
			return m.feedForward.Apply(ffCtx, normalized)
		})
	}

	return blocks.LayerNorm(encCtx.In("norm"), x, cfg.LayerNormEps)
}

// Decode embeds the target ids and runs the decoder stack against the
// encoder output, returning the normalized decoder output of shape
// [batch, tgtSeq, d_model]. Each layer applies sparse causal
// self-attention, dense cross-attention and the feed-forward block,
// strictly in that order.
func (m *Model) Decode(ctx *context.Context, inputIDs, encoderOutput, encoderMask, decoderMask *Node) *Node {
	cfg := m.Config

	x := blocks.Embedding(ctx.In("tgt_embed"), inputIDs, cfg.TgtVocabSize, cfg.DModel)
	x = m.tgtPos.Apply(ctx.In("tgt_pos"), x)

	decCtx := ctx.In("decoder")
	for i := 0; i < cfg.NumLayers; i++ {
		layerCtx := decCtx.In("layer").In(itoa(i))

		selfCtx := layerCtx.In("self_attention")
		x = blocks.Residual(selfCtx, x, cfg.LayerNormEps, cfg.DropoutRate, func(normalized *Node) *Node {
			return m.decoderSelfAttention.Apply(selfCtx, normalized, decoderMask)
		})

		crossCtx := layerCtx.In("cross_attention")
		x = blocks.Residual(crossCtx, x, cfg.LayerNormEps, cfg.DropoutRate, func(normalized *Node) *Node {
			return m.crossAttention.Apply(crossCtx, normalized, encoderOutput, encoderOutput, encoderMask)
		})

		ffCtx := layerCtx.In("ff")
		x = blocks.Residual(ffCtx, x, cfg.LayerNormEps, cfg.DropoutRate, func(normalized *Node) *Node {
			return m.feedForward.Apply(ffCtx, normalized)
		})
	}

	return blocks.LayerNorm(decCtx.In("norm"), x, cfg.LayerNormEps)
}

// ValidateTokenIDs checks that every id in a [batch, seq] int32 tensor lies
// in [0, vocabSize). The backend gather clamps out-of-range indices instead
// of failing, which would silently return the wrong embedding row, so
// callers reject bad ids host-side before feeding them to Forward.
func ValidateTokenIDs(ids *tensors.Tensor, vocabSize int) error {
	rows, ok := ids.Value().([][]int32)
	if !ok {
		return errors.Errorf("token ids must be an int32 tensor of shape [batch, seq], got %s", ids.Shape())
	}
	for b, row := range rows {
		for pos, id := range row {
			if id < 0 || int(id) >= vocabSize {
				return errors.Errorf("token id %d at batch %d position %d is outside [0, %d)",
					id, b, pos, vocabSize)
			}
		}
	}
	return nil
}

// Project maps decoder output to unnormalized vocabulary logits of shape
// [batch, tgtSeq, tgt_vocab_size]. No softmax is applied; that belongs to
// the loss or the sampler.
func (m *Model) Project(ctx *context.Context, x *Node) *Node {
	return layers.DenseWithBias(ctx.In("projection"), x, m.Config.TgtVocabSize)
}

// Summary returns a short description of the model configuration.
func (m *Model) Summary() string {
	cfg := m.Config
	var sb strings.Builder
	sb.WriteString("Model Summary:\n")
	sb.WriteString("  Architecture: SparseFormer\n")
	sb.WriteString("  D Model: " + itoa(cfg.DModel) + "\n")
	sb.WriteString("  Num Layers: " + itoa(cfg.NumLayers) + "\n")
	sb.WriteString("  Num Heads: " + itoa(cfg.NumHeads) + "\n")
	sb.WriteString("  FF Dim: " + itoa(cfg.FFDim) + "\n")
	sb.WriteString("  Block Size: " + itoa(cfg.BlockSize) + "\n")
	sb.WriteString("  Stride: " + itoa(cfg.Stride) + "\n")
	sb.WriteString("  Src Vocab: " + itoa(cfg.SrcVocabSize) + "\n")
	sb.WriteString("  Tgt Vocab: " + itoa(cfg.TgtVocabSize) + "\n")
	return sb.String()
}

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
