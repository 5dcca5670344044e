package history

import (
	"fmt"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator approximates the number of model tokens in a piece of text.
type Estimator func(text string) int

// CharEstimator counts one token per four characters.
func CharEstimator(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// NewTiktokenEstimator returns an estimator backed by the BPE vocabulary of
// modelName, falling back to cl100k_base for models tiktoken does not know.
func NewTiktokenEstimator(modelName string) (Estimator, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(modelName))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("load fallback tokenizer: %w", err)
		}
	}

	return func(text string) int {
		if text == "" {
			return 0
		}
		ids, _, err := codec.Encode(text)
		if err != nil {
			return CharEstimator(text)
		}
		return len(ids)
	}, nil
}

// EstimatorByName resolves the estimator configured by name ("chars" or
// "tiktoken").
func EstimatorByName(name, modelName string) (Estimator, error) {
	switch name {
	case "", "chars":
		return CharEstimator, nil
	case "tiktoken":
		return NewTiktokenEstimator(modelName)
	default:
		return nil, fmt.Errorf("unknown token estimator %q", name)
	}
}
