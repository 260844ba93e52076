package usage

import "context"

const noteGeminiStub = "gemini adapter is a stub; configure manual values"

// GeminiExtractor has no local artifact to read yet
type GeminiExtractor struct{}

func (GeminiExtractor) Provider() Provider {
	return ProviderGemini
}

func (GeminiExtractor) Extract(context.Context, ProviderSettings) (Observation, error) {
	return Observation{Notes: []string{noteGeminiStub}}, nil
}

func (GeminiExtractor) IsStub() bool {
	return true
}
