package ocr

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/status"
)

func word() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 20, 10))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

type fakeFileEngine struct {
	text     string
	err      error
	seenPath string
	existed  bool
	lang     string
}

func (f *fakeFileEngine) Name() string { return "fake" }

func (f *fakeFileEngine) RecognizeFile(_ context.Context, path, lang string) (string, error) {
	f.seenPath = path
	f.lang = lang
	_, err := os.Stat(path)
	f.existed = err == nil
	return f.text, f.err
}

func TestTempFileEngine_RemovesFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeFileEngine{text: "سلام"}
	e := &TempFileEngine{Dir: dir, Backend: backend}

	text, err := e.Recognize(context.Background(), word(), "ara")
	require.NoError(t, err)
	assert.Equal(t, "سلام", text)
	assert.Equal(t, "ara", backend.lang)
	assert.True(t, backend.existed)
	assert.Equal(t, dir, filepath.Dir(backend.seenPath))
	assert.Regexp(t, regexp.MustCompile(`^word_[0-9a-f]{32}\.png$`), filepath.Base(backend.seenPath))
	assert.NoFileExists(t, backend.seenPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTempFileEngine_RemovesFileOnError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("tesseract crashed")
	backend := &fakeFileEngine{err: boom}
	e := &TempFileEngine{Dir: dir, Backend: backend}

	_, err := e.Recognize(context.Background(), word(), "ara")
	require.ErrorIs(t, err, boom)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "fake", ee.Engine)
	assert.True(t, backend.existed)
	assert.NoFileExists(t, backend.seenPath)
}

func TestTempFileEngine_RemovesPartialFileOnWriteError(t *testing.T) {
	dir := t.TempDir()
	diskFull := errors.New("no space left on device")
	backend := &fakeFileEngine{}
	e := &TempFileEngine{
		Dir:     dir,
		Backend: backend,
		save: func(path string, _ image.Image) error {
			if err := os.WriteFile(path, []byte("\x89PN"), 0o600); err != nil {
				return err
			}
			return diskFull
		},
	}

	_, err := e.Recognize(context.Background(), word(), "ara")
	require.ErrorIs(t, err, diskFull)
	assert.Empty(t, backend.seenPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTempFileEngine_UniqueNames(t *testing.T) {
	backend := &fakeFileEngine{}
	e := &TempFileEngine{Dir: t.TempDir(), Backend: backend}
	seen := map[string]bool{}
	for range 10 {
		_, err := e.Recognize(context.Background(), word(), "")
		require.NoError(t, err)
		assert.False(t, seen[backend.seenPath])
		seen[backend.seenPath] = true
	}
}

func TestTempFileEngine_EmptyImage(t *testing.T) {
	backend := &fakeFileEngine{}
	e := &TempFileEngine{Dir: t.TempDir(), Backend: backend}
	_, err := e.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0)), "ara")
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.Empty(t, backend.seenPath)

	_, err = e.Recognize(context.Background(), nil, "ara")
	assert.ErrorIs(t, err, ErrEmptyImage)
}

type fakeTesseract struct {
	image  string
	langs  []string
	psm    gosseract.PageSegMode
	text   string
	err    error
	closed bool
}

func (f *fakeTesseract) SetImage(path string) error {
	f.image = path
	return nil
}
func (f *fakeTesseract) SetLanguage(langs ...string) error {
	f.langs = langs
	return nil
}
func (f *fakeTesseract) SetPageSegMode(mode gosseract.PageSegMode) error {
	f.psm = mode
	return nil
}
func (f *fakeTesseract) Text() (string, error) { return f.text, f.err }
func (f *fakeTesseract) Close() error {
	f.closed = true
	return nil
}

func TestTesseractEngine(t *testing.T) {
	client := &fakeTesseract{text: "  كلمة \n"}
	e := NewTesseractEngine()
	e.clientFactory = func() tesseractClient { return client }

	text, err := e.RecognizeFile(context.Background(), "/tmp/word.png", "")
	require.NoError(t, err)
	assert.Equal(t, "كلمة", text)
	assert.Equal(t, "/tmp/word.png", client.image)
	assert.Equal(t, []string{"ara"}, client.langs)
	assert.Equal(t, gosseract.PSM_SINGLE_BLOCK, client.psm)
	assert.True(t, client.closed)

	_, err = e.RecognizeFile(context.Background(), "/tmp/word.png", "ara+eng")
	require.NoError(t, err)
	assert.Equal(t, []string{"ara", "eng"}, client.langs)

	client.err = errors.New("no traineddata")
	_, err = e.RecognizeFile(context.Background(), "/tmp/word.png", "ara")
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.RecognizeFile(ctx, "/tmp/word.png", "ara")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeAnnotator struct {
	req  *visionpb.BatchAnnotateImagesRequest
	resp *visionpb.BatchAnnotateImagesResponse
	err  error
}

func (f *fakeAnnotator) annotate(_ context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeAnnotator) Close() error { return nil }

func TestVisionEngine(t *testing.T) {
	fake := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			FullTextAnnotation: &visionpb.TextAnnotation{Text: "مرحبا\n"},
		}},
	}}
	e := &VisionEngine{client: fake}

	text, err := e.Recognize(context.Background(), word(), "ara")
	require.NoError(t, err)
	assert.Equal(t, "مرحبا", text)

	req := fake.req.GetRequests()[0]
	assert.Equal(t, visionpb.Feature_DOCUMENT_TEXT_DETECTION, req.GetFeatures()[0].GetType())
	assert.Equal(t, []string{"ar"}, req.GetImageContext().GetLanguageHints())
	assert.NotEmpty(t, req.GetImage().GetContent())

	_, err = e.Recognize(context.Background(), word(), "")
	require.NoError(t, err)
	assert.Nil(t, fake.req.GetRequests()[0].GetImageContext())
}

func TestVisionEngine_Errors(t *testing.T) {
	fake := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{Error: &status.Status{Message: "quota"}}},
	}}
	e := &VisionEngine{client: fake}
	_, err := e.Recognize(context.Background(), word(), "ara")
	assert.ErrorContains(t, err, "quota")

	fake.resp = &visionpb.BatchAnnotateImagesResponse{}
	_, err = e.Recognize(context.Background(), word(), "ara")
	assert.Error(t, err)

	fake.err = errors.New("unavailable")
	_, err = e.Recognize(context.Background(), word(), "ara")
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	_, err = e.Recognize(context.Background(), nil, "ara")
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &TempFileEngine{}, e)
	assert.Equal(t, EngineTesseract, e.Name())

	_, err = NewEngine(context.Background(), Config{Engine: "abbyy"})
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestVisionLanguage(t *testing.T) {
	assert.Equal(t, "ar", visionLanguage("ara"))
	assert.Equal(t, "en", visionLanguage("ENG"))
	assert.Equal(t, "fa", visionLanguage("fa"))
	assert.Empty(t, visionLanguage(""))
}
