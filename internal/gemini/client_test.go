package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/garment-studio/internal/garment"
)

// fakeGemini is a minimal stand-in for the generateContent REST endpoint.
type fakeGemini struct {
	t       *testing.T
	calls   atomic.Int32
	respond func(n int, req generateRequest) (int, any)
	lastReq atomic.Value
}

type generateRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1))
	if !strings.Contains(r.URL.Path, ":generateContent") {
		f.t.Errorf("unexpected path %s", r.URL.Path)
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("failed to decode request: %v", err)
	}
	f.lastReq.Store(req)

	status, body := f.respond(n, req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (f *fakeGemini) last() generateRequest {
	v, _ := f.lastReq.Load().(generateRequest)
	return v
}

func textResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	}
}

func imageResponse(data []byte) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role": "model",
				"parts": []any{
					map[string]any{"text": "Here you go."},
					map[string]any{"inlineData": map[string]any{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(data),
					}},
				},
			},
		}},
	}
}

func errorResponse(code int, status string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": "boom", "status": status}}
}

func newTestClient(t *testing.T, respond func(n int, req generateRequest) (int, any)) (*Client, *fakeGemini) {
	t.Helper()
	fake := &fakeGemini{t: t, respond: respond}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c := New(Options{RetryBackoff: time.Millisecond})
	if err := c.Configure(context.Background(), " test-key \n", srv.URL+"/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c, fake
}

var testImage = &garment.Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xe0}}

// --- Configuration Tests ---

func TestUnconfiguredClientRejectsCalls(t *testing.T) {
	c := New(Options{})
	if c.Configured() {
		t.Fatal("expected new client to be unconfigured")
	}

	_, err := c.Analyze(context.Background(), testImage, garment.MarketSettings{})
	if !garment.IsKind(err, garment.KindNotConfigured) {
		t.Errorf("expected NotConfigured, got %v", err)
	}
	_, err = c.GenerateImage(context.Background(), testImage, "make it red", nil)
	if !garment.IsKind(err, garment.KindNotConfigured) {
		t.Errorf("expected NotConfigured, got %v", err)
	}
	_, err = c.RemoveBackground(context.Background(), testImage, "", "")
	if !garment.IsKind(err, garment.KindNotConfigured) {
		t.Errorf("expected NotConfigured, got %v", err)
	}
}

func TestConfigureEmptyKey(t *testing.T) {
	c := New(Options{})
	err := c.Configure(context.Background(), "  \t ", "")
	if !garment.IsKind(err, garment.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if c.Configured() {
		t.Error("expected client to stay unconfigured")
	}
}

func TestConfigureStripsTrailingSlash(t *testing.T) {
	c, _ := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse("ok")
	})
	if strings.HasSuffix(c.baseURL, "/") {
		t.Errorf("expected trailing slash stripped, got %q", c.baseURL)
	}
}

// --- Analysis Tests ---

func TestAnalyzeNormalizesAttributes(t *testing.T) {
	payload := `{"attributes":[
		{"name":"Collar","value":"Peter Pan","category":"细节"},
		{"name":"Pattern Type","value":"Floral","category":"pattern"},
		{"name":"Collar","value":"Duplicate","category":"detail"},
		{"name":"Mood Tag","value":"Playful","category":"vibes"}
	],"critique":{"title":"Sweet","content":"Too plain."},"recommendedAttributes":["Collar"]}`

	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse(payload)
	})

	result, err := c.Analyze(context.Background(), testImage, garment.MarketSettings{AgeGroup: "5-6y", Gender: garment.GenderGirl})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attributes) != 3 {
		t.Fatalf("expected 3 attributes after dedupe, got %d", len(result.Attributes))
	}
	collar, _ := result.Attribute("Collar")
	if collar.Value != "Peter Pan" || collar.Category != garment.CategoryDetail {
		t.Errorf("unexpected collar: %+v", collar)
	}
	mood, _ := result.Attribute("Mood Tag")
	if mood.Category != garment.CategoryStyle {
		t.Errorf("expected unknown category to map to style, got %q", mood.Category)
	}
	if result.Critique.Content != "Too plain." {
		t.Errorf("expected critique content, got %q", result.Critique.Content)
	}

	req := fake.last()
	prompt := req.Contents[0].Parts[1].Text
	if !strings.Contains(prompt, "Target Age Group: 5-6y.") || !strings.Contains(prompt, "Target Gender: Girl.") {
		t.Errorf("expected market context in prompt, got:\n%s", prompt)
	}
}

func TestAnalyzeServerError(t *testing.T) {
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusInternalServerError, errorResponse(500, "INTERNAL")
	})

	_, err := c.Analyze(context.Background(), testImage, garment.MarketSettings{})
	if !garment.IsKind(err, garment.KindAnalysis) {
		t.Errorf("expected AnalysisError, got %v", err)
	}
	if fake.calls.Load() != 1 {
		t.Errorf("expected no retry on server error, got %d calls", fake.calls.Load())
	}
}

func TestReanalyzeSubsetFiltersNames(t *testing.T) {
	payload := `{"attributes":[
		{"name":"Collar","value":"Square","category":"detail"},
		{"name":"Sleeve","value":"Puff","category":"structure"}
	]}`
	c, _ := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse(payload)
	})

	attrs, err := c.ReanalyzeSubset(context.Background(), testImage, []string{"Collar", "Pattern"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attrs) != 1 || attrs[0].Name != "Collar" || attrs[0].Value != "Square" {
		t.Errorf("expected only Collar, got %+v", attrs)
	}
}

// --- Suggestion Tests ---

func TestFetchSuggestionsReassignsIDs(t *testing.T) {
	payload := `[{"id":"a","title":"One","description":"d","imagePrompt":"p1"},
		{"id":"a","title":"Two","description":"d","imagePrompt":"p2"},
		{"id":"z","title":"Three","description":"d","imagePrompt":"p3"}]`
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse("```json\n" + payload + "\n```")
	})

	opts, err := c.FetchSuggestions(context.Background(), testImage, []string{"Collar", "Pattern"}, "", "more playful")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, o := range opts {
		if o.ID != []string{"0", "1", "2"}[i] {
			t.Errorf("expected id %d, got %q", i, o.ID)
		}
	}
	prompt := fake.last().Contents[0].Parts[1].Text
	if !strings.Contains(prompt, `"more playful"`) {
		t.Errorf("expected guidance in prompt, got:\n%s", prompt)
	}
}

func TestFetchSuggestionsEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse("[]")
	})
	_, err := c.FetchSuggestions(context.Background(), testImage, []string{"Collar"}, "", "")
	if !garment.IsKind(err, garment.KindSuggestion) {
		t.Errorf("expected SuggestionError, got %v", err)
	}
}

// --- Image Tests ---

func TestGenerateImageWithReference(t *testing.T) {
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, imageResponse([]byte("png-bytes"))
	})

	ref := &garment.Image{MIMEType: "image/png", Data: []byte("ref")}
	img, err := c.GenerateImage(context.Background(), testImage, "Change ONLY the collar.", ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(img.Data) != "png-bytes" || img.MIMEType != "image/png" {
		t.Errorf("unexpected image: %q %q", img.MIMEType, img.Data)
	}

	parts := fake.last().Contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/png" {
		t.Error("expected reference image as second part")
	}
	if !strings.HasSuffix(parts[2].Text, "visual reference for style/material/pattern.") {
		t.Errorf("expected reference suffix, got %q", parts[2].Text)
	}
}

func TestGenerateImageNoImageData(t *testing.T) {
	c, _ := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse("I cannot do that.")
	})

	_, err := c.GenerateImage(context.Background(), testImage, "make it red", nil)
	if !garment.IsKind(err, garment.KindGeneration) {
		t.Errorf("expected GenerationError, got %v", err)
	}
	_, err = c.RemoveBackground(context.Background(), testImage, "Top/Upper Garment", "")
	if !garment.IsKind(err, garment.KindBackgroundRemoval) {
		t.Errorf("expected BackgroundRemovalError, got %v", err)
	}
}

func TestGenerateImageEmptyPrompt(t *testing.T) {
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, imageResponse([]byte("x"))
	})
	_, err := c.GenerateImage(context.Background(), testImage, "  ", nil)
	if !garment.IsKind(err, garment.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if fake.calls.Load() != 0 {
		t.Errorf("expected no request, got %d", fake.calls.Load())
	}
}

func TestRateLimitRetried(t *testing.T) {
	c, fake := newTestClient(t, func(n int, _ generateRequest) (int, any) {
		if n < 3 {
			return http.StatusTooManyRequests, errorResponse(429, "RESOURCE_EXHAUSTED")
		}
		return http.StatusOK, imageResponse([]byte("ok"))
	})

	if _, err := c.GenerateImage(context.Background(), testImage, "make it red", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", fake.calls.Load())
	}
}

func TestRateLimitExhausted(t *testing.T) {
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusTooManyRequests, errorResponse(429, "RESOURCE_EXHAUSTED")
	})

	_, err := c.GenerateImage(context.Background(), testImage, "make it red", nil)
	if !garment.IsKind(err, garment.KindGeneration) {
		t.Errorf("expected GenerationError, got %v", err)
	}
	if fake.calls.Load() != DefaultRetryAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultRetryAttempts, fake.calls.Load())
	}
}

func TestGenerateModelImage(t *testing.T) {
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, imageResponse([]byte("model"))
	})

	_, err := c.GenerateModelImage(context.Background(), testImage, "", nil, garment.MarketSettings{}, "2:1")
	if !garment.IsKind(err, garment.KindValidation) {
		t.Errorf("expected ValidationError for bad aspect, got %v", err)
	}

	_, err = c.GenerateModelImage(context.Background(), testImage, "Pose: walking.", nil,
		garment.MarketSettings{AgeGroup: "5-6y", Gender: garment.GenderGirl}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := fake.last().Contents[0].Parts[1].Text
	if !strings.Contains(prompt, "Target Audience: 5-6y girl.") {
		t.Errorf("expected audience line, got:\n%s", prompt)
	}
}

// --- Auxiliary Tests ---

func TestDetectFeatures(t *testing.T) {
	c, _ := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse(`{"category":"Hoodie","hasHood":true,"hasClosure":true}`)
	})
	f, err := c.DetectFeatures(context.Background(), testImage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Category != "Hoodie" || !f.HasHood || !f.HasClosure {
		t.Errorf("unexpected features: %+v", f)
	}
}

func TestDescribeChanges(t *testing.T) {
	c, fake := newTestClient(t, func(int, generateRequest) (int, any) {
		return http.StatusOK, textResponse("The collar is now square.")
	})
	text, err := c.DescribeChanges(context.Background(), testImage, &garment.Image{MIMEType: "image/png", Data: []byte("m")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "The collar is now square." {
		t.Errorf("expected %q, got %q", "The collar is now square.", text)
	}
	if len(fake.last().Contents[0].Parts) != 3 {
		t.Errorf("expected two images and a prompt")
	}
}

// --- Classification Tests ---

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want KeyErrorType
	}{
		{"API key not valid. Please pass a valid API key.", ErrTypeInvalidKey},
		{"quota exceeded for project", ErrTypeQuotaExceeded},
		{"dial tcp: no such host", ErrTypeNetworkError},
		{"something else", ErrTypeUnknown},
	}
	for _, tt := range tests {
		got := classifyError(errString(tt.msg))
		if got.Type != tt.want {
			t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got.Type, tt.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
