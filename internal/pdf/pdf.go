// Package pdf pulls the embedded page images out of PDF scans so they can be
// recognized like uploaded images.
package pdf

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// Options selects pages and unlocks encrypted files.
type Options struct {
	// PageRange like "1-3,5"; empty selects every page.
	PageRange     string
	UserPassword  string
	OwnerPassword string
	Logger        *slog.Logger
}

// Page holds the decodable images of one page in document order.
type Page struct {
	Number int
	Images []image.Image
}

// ExtractPages returns the pages that contain at least one decodable image,
// sorted by page number. Images pdfcpu cannot hand over in a Go-decodable
// format (such as JPEG 2000) are skipped with a warning.
func ExtractPages(filename string, opts Options) ([]Page, error) {
	f, err := os.Open(filename) //nolint:gosec // G304: user-provided PDF path
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ExtractPagesFrom(f, opts)
}

// ExtractPagesFrom is ExtractPages for an in-memory or already opened PDF.
func ExtractPagesFrom(rs io.ReadSeeker, opts Options) ([]Page, error) {
	pages, err := ParsePageRange(opts.PageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.PageRange, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conf := model.NewDefaultConfiguration()
	conf.UserPW = opts.UserPassword
	conf.OwnerPW = opts.OwnerPassword

	byPage := make(map[int][]image.Image)
	digest := func(img model.Image, _ bool, _ int) error {
		decoded, _, err := image.Decode(img)
		if err != nil {
			logger.Warn("skipping undecodable PDF image",
				"page", img.PageNr, "name", img.Name, "type", img.FileType, "error", err)
			return nil
		}
		byPage[img.PageNr] = append(byPage[img.PageNr], decoded)
		return nil
	}
	if err := api.ExtractImages(rs, pageSelection(pages), digest, conf); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	out := make([]Page, 0, len(byPage))
	for n, imgs := range byPage {
		out = append(out, Page{Number: n, Images: imgs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	logger.Debug("extracted PDF images", "pages", len(out))
	return out, nil
}

// ExtractImages is ExtractPages keyed by page number.
func ExtractImages(filename, pageRange string) (map[int][]image.Image, error) {
	pages, err := ExtractPages(filename, Options{PageRange: pageRange})
	if err != nil {
		return nil, err
	}
	out := make(map[int][]image.Image, len(pages))
	for _, p := range pages {
		out[p.Number] = p.Images
	}
	return out, nil
}

// Flatten lists all images of pages in order.
func Flatten(pages []Page) []image.Image {
	var out []image.Image
	for _, p := range pages {
		out = append(out, p.Images...)
	}
	return out
}

func pageSelection(pages []int) []string {
	if len(pages) == 0 {
		return nil
	}
	out := make([]string, len(pages))
	for i, n := range pages {
		out[i] = strconv.Itoa(n)
	}
	return out
}

// IsPasswordError reports whether err looks like a missing or wrong password.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, k := range []string{"password", "encrypted", "decrypt"} {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}

// ParsePageRange parses "1-5", "1,3,5" or a mix; empty means all pages.
func ParsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if !strings.Contains(part, "-") {
		page, err := strconv.Atoi(part)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		return []int{page}, nil
	}
	bounds := strings.Split(part, "-")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("invalid range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
	if err != nil || start < 1 {
		return nil, fmt.Errorf("invalid start page: %s", bounds[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid end page: %s", bounds[1])
	}
	if start > end {
		return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
