// Command sparseformer inspects a sparse transformer configuration and runs
// a smoke-test forward pass with randomly initialized parameters.
//
// Usage:
//
//	sparseformer --config <config.json>                 # inspect + forward pass
//	sparseformer --config <config.json> --batch 4      # custom batch size
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/ajroetker/sparseformer"
)

func main() {
	configPath := flag.String("config", "", "Path to the model config.json")
	batchSize := flag.Int("batch", 2, "Batch size of the smoke-test forward pass")
	srcLen := flag.Int("src-len", 16, "Source sequence length")
	tgtLen := flag.Int("tgt-len", 16, "Target sequence length")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := sparseformer.ParseConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	model, err := sparseformer.Build(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building model: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(model.Summary())
	fmt.Println("Configuration:")
	fmt.Printf("  d_model: %d\n", cfg.DModel)
	fmt.Printf("  num_layers: %d\n", cfg.NumLayers)
	fmt.Printf("  num_heads: %d (head_dim %d)\n", cfg.NumHeads, cfg.HeadDim())
	fmt.Printf("  d_ff: %d\n", cfg.FFDim)
	fmt.Printf("  block_size: %d\n", cfg.BlockSize)
	fmt.Printf("  stride: %d\n", cfg.Stride)
	fmt.Printf("  dropout_rate: %g\n", cfg.DropoutRate)
	fmt.Printf("  layer_norm_eps: %e\n", cfg.LayerNormEps)

	// The pure Go backend is the default; GOMLX_BACKEND overrides it.
	backends.DefaultConfig = "go"
	backend := backends.MustNew()

	ctx, err := model.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing context: %v\n", err)
		os.Exit(1)
	}
	exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, encoderIDs, decoderIDs *graph.Node) *graph.Node {
		return model.Forward(ctx, encoderIDs, decoderIDs, nil, nil)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error compiling forward pass: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	encoderIDs := randomIDs(rng, *batchSize, *srcLen, cfg.SrcVocabSize)
	decoderIDs := randomIDs(rng, *batchSize, *tgtLen, cfg.TgtVocabSize)
	if err := sparseformer.ValidateTokenIDs(encoderIDs, cfg.SrcVocabSize); err != nil {
		fmt.Fprintf(os.Stderr, "Error in encoder ids: %v\n", err)
		os.Exit(1)
	}
	if err := sparseformer.ValidateTokenIDs(decoderIDs, cfg.TgtVocabSize); err != nil {
		fmt.Fprintf(os.Stderr, "Error in decoder ids: %v\n", err)
		os.Exit(1)
	}

	results := exec.MustExec(encoderIDs, decoderIDs)
	logits := results[0]

	fmt.Println()
	fmt.Println("Forward pass OK")
	fmt.Printf("  Logits shape: %s\n", logits.Shape())
	fmt.Printf("  Logits dtype: %s\n", logits.DType())
}

// randomIDs returns a [batch, seqLen] tensor of token ids in [0, vocabSize).
func randomIDs(rng *rand.Rand, batch, seqLen, vocabSize int) *tensors.Tensor {
	data := make([]int32, batch*seqLen)
	for i := range data {
		data[i] = int32(rng.Intn(vocabSize))
	}
	return tensors.FromFlatDataAndDimensions(data, batch, seqLen)
}
