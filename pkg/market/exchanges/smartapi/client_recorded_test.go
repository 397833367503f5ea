package smartapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"

	"fno-scanner/pkg/market"
)

// This test uses go-vcr to record/replay a real getCandleData call.
// It skips by default if cassette is absent and RECORD_CASSETTES != 1.
// Recording needs SMARTAPI_KEY and SMARTAPI_JWT in the environment.
func TestProviderCandles_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "smartapi_candles.yaml")
	if _, err := os.Stat(cassette); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", cassette)
		}
		err := os.MkdirAll(filepath.Dir(cassette), 0o755)
		assert.NoError(t, err, "mkdir cassettes dir should succeed")
	}

	r, err := recorder.New(cassette)
	assert.NoError(t, err, "recorder.New should not error")
	assert.NotNil(t, r, "recorder should not be nil")
	defer func() { _ = r.Stop() }()

	provider := NewProvider(WithClientOptions(
		WithHTTPClient(&http.Client{Transport: r}),
		WithCredentials(envOr("SMARTAPI_KEY", "replay"), os.Getenv("SMARTAPI_CLIENT_CODE"), envOr("SMARTAPI_JWT", "replay")),
	))
	from := time.Date(2025, 1, 6, 9, 15, 0, 0, ist)
	candles, err := provider.Candles(context.Background(), market.Query{
		InstrumentKey: "2885",
		From:          from,
		To:            from.Add(10 * time.Minute),
	})
	assert.NoError(t, err, "Candles should not error")
	assert.NotEmpty(t, candles, "candles should not be empty")
	for _, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Low, "high should not be below low")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
