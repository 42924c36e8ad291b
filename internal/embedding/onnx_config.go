package embedding

// ONNXConfig describes a sentence-transformer model exported to ONNX.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the runtime default
	Dimensions  int
	MaxTokens   int
	VocabSize   int
	// OutputName is the graph output to read. With MeanPool the output is token-level
	// ([1, MaxTokens, Dimensions]) and is averaged over the attention mask.
	OutputName string
	MeanPool   bool
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.Dimensions <= 0 {
		c.Dimensions = 384
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.VocabSize <= 0 {
		c.VocabSize = 250002
	}
	if c.OutputName == "" {
		c.OutputName = "last_hidden_state"
		c.MeanPool = true
	}
	return c
}
