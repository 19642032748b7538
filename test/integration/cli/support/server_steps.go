package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/server"
)

// widthLabels names the two words of testutil.TwoWords by crop width.
var widthLabels = map[int]string{56: "alpha", 66: "beta"}

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a server with a "([^"]*)" backend that labels words by width$`, testCtx.aServerWithBackend)
	sc.Step(`^a server with a "([^"]*)" backend limited to (\d+) requests? per minute$`, testCtx.aRateLimitedServer)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUpload)
	sc.Step(`^I upload "([^"]*)" as "([^"]*)" to "([^"]*)"$`, testCtx.iUploadAs)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
}

func labelByWidth(_ context.Context, img *image.Gray) (string, error) {
	if l, ok := widthLabels[img.Bounds().Dx()]; ok {
		return l, nil
	}
	return "whole", nil
}

func (testCtx *TestContext) startServer(backend string, limiter *server.RateLimiter) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := pipeline.DefaultConfig()
	cfg.Logger = logger
	p, err := pipeline.NewBuilder().
		WithConfig(cfg).
		WithRecognizer(pipeline.RecognizerFunc(labelByWidth)).
		Build()
	if err != nil {
		return err
	}
	srv, err := server.NewServer(server.Config{
		Backends:    map[string]server.RecognitionService{backend: p},
		Version:     "integration",
		RateLimiter: limiter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	testCtx.Server = httptest.NewServer(srv.Handler())
	return nil
}

func (testCtx *TestContext) aServerWithBackend(backend string) error {
	return testCtx.startServer(backend, nil)
}

func (testCtx *TestContext) aRateLimitedServer(backend string, perMinute int) error {
	return testCtx.startServer(backend, server.NewRateLimiter(perMinute, 0, 0, 0))
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.Server.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iGET(path string) error {
	if testCtx.Server == nil {
		return fmt.Errorf("no server running")
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.Server.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iUpload(name, path string) error {
	return testCtx.iUploadAs(name, "image/png", path)
}

func (testCtx *TestContext) iUploadAs(name, contentType, path string) error {
	if testCtx.Server == nil {
		return fmt.Errorf("no server running")
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(name)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, testCtx.Server.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("status %d, want %d; body: %s", testCtx.LastHTTPStatusCode, code, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theJSONFieldShouldBe looks up a dotted path such as "0.text" or "error".
func (testCtx *TestContext) theJSONFieldShouldBe(path, want string) error {
	var v any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &v); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	for _, key := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			v = node[key]
		case []any:
			var i int
			if _, err := fmt.Sscanf(key, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return fmt.Errorf("no element %s in %s", key, testCtx.LastHTTPResponse)
			}
			v = node[i]
		default:
			return fmt.Errorf("cannot descend into %s at %q", testCtx.LastHTTPResponse, key)
		}
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("field %s is %q, want %q", path, got, want)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != want {
		return fmt.Errorf("header %s is %q, want %q", name, got, want)
	}
	return nil
}
