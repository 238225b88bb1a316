package util

import "errors"

var (
	ErrNoInputData = errors.New("no input data: every image in the batch failed extraction")

	ErrProviderUnavailable  = errors.New("ocr provider unavailable")
	ErrExtractionFailed     = errors.New("image text extraction failed")
	ErrStructuringFailed    = errors.New("structuring output failed schema validation")
	ErrRegistryUnavailable  = errors.New("registry unavailable")
	ErrSemanticSearchFailed = errors.New("semantic search failed")
)
