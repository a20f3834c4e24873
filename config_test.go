package sparseformer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/sparseformer"
)

func TestParseConfigContent(t *testing.T) {
	configJSON := `{
		"src_vocab_size": 8000,
		"tgt_vocab_size": 6000,
		"src_max_len": 256,
		"tgt_max_len": 128,
		"d_model": 512,
		"num_layers": 6,
		"num_heads": 8,
		"d_ff": 2048,
		"block_size": 16,
		"stride": 32,
		"dropout_rate": 0.1,
		"layer_norm_eps": 1e-5,
		"seed": 42,
		"tokenizer": "bpe",
		"label_smoothing": 0.1,
		"tie_embeddings": false
	}`

	cfg, err := sparseformer.ParseConfigContent([]byte(configJSON))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.SrcVocabSize)
	assert.Equal(t, 6000, cfg.TgtVocabSize)
	assert.Equal(t, 256, cfg.SrcMaxLen)
	assert.Equal(t, 128, cfg.TgtMaxLen)
	assert.Equal(t, 512, cfg.DModel)
	assert.Equal(t, 6, cfg.NumLayers)
	assert.Equal(t, 8, cfg.NumHeads)
	assert.Equal(t, 2048, cfg.FFDim)
	assert.Equal(t, 16, cfg.BlockSize)
	assert.Equal(t, 32, cfg.Stride)
	assert.Equal(t, 0.1, cfg.DropoutRate)
	assert.Equal(t, 1e-5, cfg.LayerNormEps)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 64, cfg.HeadDim())

	// Extra fields land in Raw.
	tokenizer, ok := cfg.GetString("tokenizer")
	assert.True(t, ok)
	assert.Equal(t, "bpe", tokenizer)

	smoothing, ok := cfg.GetFloat("label_smoothing")
	assert.True(t, ok)
	assert.Equal(t, 0.1, smoothing)

	tied, ok := cfg.GetBool("tie_embeddings")
	assert.True(t, ok)
	assert.False(t, tied)

	_, ok = cfg.GetInt("no_such_key")
	assert.False(t, ok)
}

func TestParseConfigContent_Defaults(t *testing.T) {
	configJSON := `{
		"src_vocab_size": 100,
		"tgt_vocab_size": 100,
		"src_max_len": 32,
		"tgt_max_len": 32,
		"d_model": 64,
		"num_layers": 2,
		"num_heads": 4,
		"block_size": 4,
		"stride": 2
	}`

	cfg, err := sparseformer.ParseConfigContent([]byte(configJSON))
	require.NoError(t, err)

	assert.Equal(t, 4*64, cfg.FFDim, "d_ff defaults to 4*d_model")
	assert.Equal(t, 1e-6, cfg.LayerNormEps)
	assert.Equal(t, 0.0, cfg.DropoutRate)
	require.NoError(t, cfg.Validate())
}

func TestParseConfigContent_InvalidJSON(t *testing.T) {
	_, err := sparseformer.ParseConfigContent([]byte(`{"d_model":`))
	assert.Error(t, err)
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"src_vocab_size": 100,
		"tgt_vocab_size": 100,
		"src_max_len": 32,
		"tgt_max_len": 32,
		"d_model": 64,
		"num_layers": 2,
		"num_heads": 4,
		"block_size": 4,
		"stride": 2
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := sparseformer.ParseConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, 64, cfg.DModel)

	_, err = sparseformer.ParseConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *sparseformer.Config {
		return &sparseformer.Config{
			SrcVocabSize: 100,
			TgtVocabSize: 100,
			SrcMaxLen:    32,
			TgtMaxLen:    32,
			DModel:       64,
			NumLayers:    2,
			NumHeads:     4,
			FFDim:        256,
			BlockSize:    4,
			Stride:       2,
			DropoutRate:  0.1,
			LayerNormEps: 1e-6,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*sparseformer.Config)
		errPart string
	}{
		{"zero src vocab", func(c *sparseformer.Config) { c.SrcVocabSize = 0 }, "vocabulary sizes"},
		{"negative tgt max len", func(c *sparseformer.Config) { c.TgtMaxLen = -1 }, "sequence lengths"},
		{"zero d_model", func(c *sparseformer.Config) { c.DModel = 0 }, "d_model"},
		{"zero layers", func(c *sparseformer.Config) { c.NumLayers = 0 }, "num_layers"},
		{"zero heads", func(c *sparseformer.Config) { c.NumHeads = 0 }, "num_heads"},
		{"indivisible heads", func(c *sparseformer.Config) { c.NumHeads = 5 }, "not divisible"},
		{"zero d_ff", func(c *sparseformer.Config) { c.FFDim = 0 }, "d_ff"},
		{"zero block size", func(c *sparseformer.Config) { c.BlockSize = 0 }, "block_size"},
		{"zero stride", func(c *sparseformer.Config) { c.Stride = 0 }, "stride"},
		{"dropout one", func(c *sparseformer.Config) { c.DropoutRate = 1.0 }, "dropout_rate"},
		{"negative dropout", func(c *sparseformer.Config) { c.DropoutRate = -0.1 }, "dropout_rate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errPart)
		})
	}
}
