package vision

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/openrouter"
)

type stubDescriber struct {
	description string
	err         error
	calls       int
}

func (s *stubDescriber) Describe(ctx context.Context, imageURL string) (string, error) {
	s.calls++
	return s.description, s.err
}

func imageEnvelope(url string) contractx.Envelope {
	return contractx.NewEnvelope(contractx.KindImage,
		map[string]any{"image_url": url, "text": "do you have this?"},
		map[string]any{contractx.MetaCustomerID: "cust-1"})
}

func TestProcessAnalysesImage(t *testing.T) {
	d := &stubDescriber{description: "A red floral silk scarf in a vintage style, about 90 x 90 cm."}
	a := New(d)
	require.NoError(t, a.Initialize(context.Background()))

	out, err := a.Process(context.Background(), imageEnvelope("https://cdn.example.com/scarf.jpg"))
	require.NoError(t, err)

	assert.Equal(t, contractx.KindVisionAnalysis, out.Kind)
	assert.Equal(t, "cust-1", out.CustomerID())
	assert.Equal(t, "do you have this?", out.PayloadString("text"))
	assert.Equal(t, map[string]any{
		"color":      "red",
		"pattern":    "floral",
		"material":   "silk",
		"style":      "vintage",
		"dimensions": "90×90cm",
	}, out.Payload["features"])
}

func TestProcessDomainErrors(t *testing.T) {
	d := &stubDescriber{description: "x"}
	a := New(d)

	out, err := a.Process(context.Background(), imageEnvelope(""))
	require.NoError(t, err)
	assert.True(t, out.IsError())
	assert.Equal(t, "no image provided", out.PayloadString("error"))

	out, err = a.Process(context.Background(), imageEnvelope("not-a-url"))
	require.NoError(t, err)
	assert.True(t, out.IsError())
	assert.Zero(t, d.calls)
}

func TestProcessDescriberFailures(t *testing.T) {
	a := New(&stubDescriber{err: errors.New("timeout")})
	_, err := a.Process(context.Background(), imageEnvelope("https://cdn.example.com/scarf.jpg"))
	require.ErrorIs(t, err, contractx.ErrModelInvoke)

	a = New(&stubDescriber{})
	_, err = a.Process(context.Background(), imageEnvelope("https://cdn.example.com/scarf.jpg"))
	require.ErrorIs(t, err, contractx.ErrSchemaViolation)

	require.ErrorIs(t, New(nil).Initialize(context.Background()), contractx.ErrSetup)
}

func TestExtractFeatures(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			name: "earliest mention wins",
			in:   "Blue and white striped cotton scarf",
			want: map[string]any{"color": "blue", "pattern": "striped", "material": "cotton"},
		},
		{
			name: "multi word pattern",
			in:   "Elegant polka dot chiffon scarf, 2x1 m",
			want: map[string]any{"pattern": "polka dot", "material": "chiffon", "style": "elegant", "dimensions": "2×1m"},
		},
		{
			name: "no substring matches",
			in:   "A reddish silky wrap",
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractFeatures(tt.in))
		})
	}
}

func TestOpenAIDescriberSendsImagePart(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "vision/model",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": " A green wool scarf. "}
			}]
		}`))
	}))
	defer srv.Close()

	client, err := openrouterx.NewClient(openrouterx.Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	d := NewOpenAIDescriber(client, "vision/model", "Describe the scarf.", 0, 0.2)
	got, err := d.Describe(context.Background(), "https://cdn.example.com/scarf.jpg")
	require.NoError(t, err)

	assert.Equal(t, "A green wool scarf.", got)
	assert.Contains(t, body, `"image_url"`)
	assert.Contains(t, body, "https://cdn.example.com/scarf.jpg")
	assert.Contains(t, body, "Describe the scarf.")
}
