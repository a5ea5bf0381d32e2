package pipeline

import (
	"context"
	"os"

	"github.com/stretchr/testify/mock"
)

type mockNormalizer struct{ mock.Mock }

func (m *mockNormalizer) Normalize(ctx context.Context, in, out string) error {
	args := m.Called(ctx, in, out)
	return args.Error(0)
}

// copyNormalizer succeeds by copying the input unchanged.
type copyNormalizer struct{}

func (copyNormalizer) Normalize(_ context.Context, in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o600)
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	args := m.Called(ctx, pdfPath)
	return args.String(0), args.Error(1)
}

type mockCloud struct{ mock.Mock }

func (m *mockCloud) Upload(ctx context.Context, localPath, filename string) (string, error) {
	args := m.Called(ctx, localPath, filename)
	return args.String(0), args.Error(1)
}

func (m *mockCloud) Detect(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

type mockStructurer struct{ mock.Mock }

func (m *mockStructurer) Structure(ctx context.Context, text, apiKey string) string {
	args := m.Called(ctx, text, apiKey)
	return args.String(0)
}

func (m *mockStructurer) Provider() string { return "openai" }
