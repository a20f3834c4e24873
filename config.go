// Package sparseformer implements a sequence-to-sequence transformer with
// block-sparse/strided self-attention for GoMLX.
//
// Encoder and decoder self-attention restrict each query to its own
// contiguous block of positions plus periodically strided companions;
// cross-attention between decoder and encoder stays dense. Residual
// connections use the pre-norm topology: the input is normalized before
// the wrapped sublayer and the sublayer output (after dropout) is added to
// the un-normalized input.
package sparseformer

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config holds the hyperparameters of a sparse transformer model.
// Architecture-specific extras are available in Raw for custom parsing.
type Config struct {
	// Path to the config file (not from JSON).
	ConfigFile string `json:"-"`

	// Vocabulary and sequence capacity; the source and target sides own
	// independent embedding tables and positional-encoding capacities.
	SrcVocabSize int `json:"src_vocab_size"`
	TgtVocabSize int `json:"tgt_vocab_size"`
	SrcMaxLen    int `json:"src_max_len"`
	TgtMaxLen    int `json:"tgt_max_len"`

	// Core dimensions.
	DModel    int `json:"d_model"`
	NumLayers int `json:"num_layers"`
	NumHeads  int `json:"num_heads"`
	FFDim     int `json:"d_ff,omitempty"`

	// Sparse attention pattern: local block width and strided long-range
	// connection period for encoder and decoder self-attention.
	BlockSize int `json:"block_size"`
	Stride    int `json:"stride"`

	// Dropout (used during training).
	DropoutRate float64 `json:"dropout_rate"`

	// Normalization.
	LayerNormEps float64 `json:"layer_norm_eps,omitempty"`

	// Seed for parameter initialization and dropout. 0 draws a fresh seed.
	Seed int64 `json:"seed,omitempty"`

	// The raw JSON for custom parsing.
	Raw map[string]interface{} `json:"-"`
}

// ParseConfigFile loads and parses a config.json file.
func ParseConfigFile(filePath string) (*Config, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", filePath)
	}

	config, err := ParseConfigContent(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", filePath)
	}
	config.ConfigFile = filePath

	return config, nil
}

// ParseConfigContent parses config.json content from bytes.
func ParseConfigContent(content []byte) (*Config, error) {
	config := &Config{}

	// First unmarshal into the struct for the known fields.
	if err := json.Unmarshal(content, config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config JSON")
	}

	// Also unmarshal into Raw for custom fields.
	if err := json.Unmarshal(content, &config.Raw); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config JSON to raw map")
	}

	// Apply defaults.
	if config.LayerNormEps == 0 {
		config.LayerNormEps = 1e-6
	}
	if config.FFDim == 0 {
		config.FFDim = 4 * config.DModel
	}

	return config, nil
}

// Validate checks the construction-time invariants of the configuration.
// It reports the first violation found.
func (c *Config) Validate() error {
	if c.SrcVocabSize <= 0 || c.TgtVocabSize <= 0 {
		return errors.Errorf("vocabulary sizes must be positive, got src=%d tgt=%d",
			c.SrcVocabSize, c.TgtVocabSize)
	}
	if c.SrcMaxLen <= 0 || c.TgtMaxLen <= 0 {
		return errors.Errorf("max sequence lengths must be positive, got src=%d tgt=%d",
			c.SrcMaxLen, c.TgtMaxLen)
	}
	if c.DModel <= 0 {
		return errors.Errorf("d_model must be positive, got %d", c.DModel)
	}
	if c.NumLayers <= 0 {
		return errors.Errorf("num_layers must be positive, got %d", c.NumLayers)
	}
	if c.NumHeads <= 0 {
		return errors.Errorf("num_heads must be positive, got %d", c.NumHeads)
	}
	if c.DModel%c.NumHeads != 0 {
		return errors.Errorf("d_model (%d) is not divisible by num_heads (%d)",
			c.DModel, c.NumHeads)
	}
	if c.FFDim <= 0 {
		return errors.Errorf("d_ff must be positive, got %d", c.FFDim)
	}
	if c.BlockSize <= 0 {
		return errors.Errorf("block_size must be positive, got %d", c.BlockSize)
	}
	if c.Stride <= 0 {
		return errors.Errorf("stride must be positive, got %d", c.Stride)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Errorf("dropout_rate must be in [0, 1), got %g", c.DropoutRate)
	}
	return nil
}

// GetString retrieves a string field from Raw config.
func (c *Config) GetString(key string) (string, bool) {
	if v, ok := c.Raw[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// GetInt retrieves an integer field from Raw config.
func (c *Config) GetInt(key string) (int, bool) {
	if v, ok := c.Raw[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		}
	}
	return 0, false
}

// GetFloat retrieves a float field from Raw config.
func (c *Config) GetFloat(key string) (float64, bool) {
	if v, ok := c.Raw[key]; ok {
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// GetBool retrieves a boolean field from Raw config.
func (c *Config) GetBool(key string) (bool, bool) {
	if v, ok := c.Raw[key]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

// HeadDim returns the dimension of each attention head.
func (c *Config) HeadDim() int {
	if c.NumHeads == 0 {
		return 0
	}
	return c.DModel / c.NumHeads
}
