package interfaces

import "context"

// EmbeddingProvider is the pluggable contract an embedding backend
// implements, selected by EmbeddingConfig.Provider.
type EmbeddingProvider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed returns one vector per input text, in the same order.
	// Implementations should chunk internally if the backend has a request
	// size limit; callers never need to split their own batches.
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed vector length this provider produces.
	Dimension() int
}
