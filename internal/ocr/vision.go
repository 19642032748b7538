package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// annotator sends image annotation requests; it is satisfied by the Cloud
// Vision client adapter and by fakes in tests.
type annotator interface {
	annotate(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

type visionClient struct {
	client *vision.ImageAnnotatorClient
}

func (c *visionClient) annotate(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
	return c.client.BatchAnnotateImages(ctx, req)
}

func (c *visionClient) Close() error { return c.client.Close() }

// VisionOptions holds Cloud Vision credentials. Explicit values win over
// GOOGLE_CREDENTIALS and GOOGLE_APPLICATION_CREDENTIALS.
type VisionOptions struct {
	CredentialsFile string
	CredentialsJSON string
}

// VisionEngine recognizes in-memory images with Cloud Vision document text
// detection. No temporary files are written.
type VisionEngine struct {
	client annotator
}

// NewVisionEngine creates a Cloud Vision client.
func NewVisionEngine(ctx context.Context, opts VisionOptions) (*VisionEngine, error) {
	credJSON := opts.CredentialsJSON
	if credJSON == "" {
		credJSON = os.Getenv("GOOGLE_CREDENTIALS")
	}
	credFile := opts.CredentialsFile
	if credFile == "" {
		credFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	var client *vision.ImageAnnotatorClient
	var err error
	switch {
	case credJSON != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	case credFile != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
	default:
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, wrap(EngineVision, "create client", fmt.Errorf("%w: %w", ErrMissingCredentials, err))
		}
	}
	if err != nil {
		return nil, wrap(EngineVision, "create client", fmt.Errorf("%w: %w", ErrEngineUnavailable, err))
	}
	return &VisionEngine{client: &visionClient{client: client}}, nil
}

func (e *VisionEngine) Name() string { return EngineVision }

// Recognize sends img as PNG with lang as a language hint.
func (e *VisionEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	if err := checkImage(img); err != nil {
		return "", wrap(e.Name(), "recognize", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", wrap(e.Name(), "encode image", err)
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: buf.Bytes()},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	}
	if hint := visionLanguage(lang); hint != "" {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: []string{hint}}
	}

	resp, err := e.client.annotate(ctx, req)
	if err != nil {
		return "", wrap(e.Name(), "annotate", fmt.Errorf("%w: %w", ErrEngineUnavailable, err))
	}
	if len(resp.GetResponses()) == 0 {
		return "", wrap(e.Name(), "annotate", errors.New("no response from Vision API"))
	}
	r := resp.GetResponses()[0]
	if r.GetError() != nil {
		return "", wrap(e.Name(), "annotate", fmt.Errorf("vision API error: %s", r.GetError().GetMessage()))
	}
	return strings.TrimSpace(r.GetFullTextAnnotation().GetText()), nil
}

// Close releases the client.
func (e *VisionEngine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// visionLanguage maps Tesseract codes to the BCP-47 hints Vision expects.
func visionLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "":
		return ""
	case "ara":
		return "ar"
	case "eng":
		return "en"
	case "fra":
		return "fr"
	case "deu":
		return "de"
	default:
		return strings.ToLower(lang)
	}
}
