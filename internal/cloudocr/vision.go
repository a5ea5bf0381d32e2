package cloudocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	vision "google.golang.org/api/vision/v1"
)

// maxPagesPerCall is the page window the files:annotate endpoint accepts
// for a synchronous request.
const maxPagesPerCall = 5

// VisionDetector runs DOCUMENT_TEXT_DETECTION over PDFs stored in GCS.
type VisionDetector struct {
	svc     *vision.Service
	limiter *rate.Limiter
}

// NewVisionDetector creates a detector. ratePerSec <= 0 disables rate limiting.
func NewVisionDetector(svc *vision.Service, ratePerSec float64, burst int) *VisionDetector {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &VisionDetector{svc: svc, limiter: rate.NewLimiter(limit, burst)}
}

// Detect annotates every page of gs://bucket/key, five pages per call, and
// returns PAGE, LINE and WORD blocks in page order.
func (d *VisionDetector) Detect(ctx context.Context, bucket, key string) ([]Block, error) {
	uri := "gs://" + bucket + "/" + key

	var blocks []Block
	next, total := int64(1), int64(0)
	for {
		var pages []int64
		// The first call omits pages so the service reports the total and
		// returns the first window.
		if total > 0 {
			for p := next; p <= total && len(pages) < maxPagesPerCall; p++ {
				pages = append(pages, p)
			}
		}

		resp, err := d.annotate(ctx, uri, pages)
		if err != nil {
			return nil, err
		}
		if resp.TotalPages > 0 {
			total = resp.TotalPages
		}

		for i, img := range resp.Responses {
			if img.Error != nil && img.Error.Code != 0 {
				return nil, eris.Errorf("vision: page %d: %s", next+int64(i), img.Error.Message)
			}
			page := next + int64(i)
			if img.Context != nil && img.Context.PageNumber > 0 {
				page = img.Context.PageNumber
			}
			blocks = append(blocks, annotationBlocks(img.FullTextAnnotation, int(page))...)
		}

		next += int64(len(resp.Responses))
		if len(resp.Responses) == 0 || next > total {
			return blocks, nil
		}
	}
}

func (d *VisionDetector) annotate(ctx context.Context, uri string, pages []int64) (*vision.AnnotateFileResponse, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "vision: rate limit")
	}

	req := &vision.BatchAnnotateFilesRequest{
		Requests: []*vision.AnnotateFileRequest{{
			InputConfig: &vision.InputConfig{
				GcsSource: &vision.GcsSource{Uri: uri},
				MimeType:  "application/pdf",
			},
			Features: []*vision.Feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
			Pages:    pages,
		}},
	}

	resp, err := d.svc.Files.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrap(err, "vision: files annotate")
	}
	if len(resp.Responses) == 0 {
		return nil, eris.New("vision: empty response")
	}
	file := resp.Responses[0]
	if file.Error != nil && file.Error.Code != 0 {
		return nil, eris.Errorf("vision: %s", file.Error.Message)
	}
	return file, nil
}

// annotationBlocks rebuilds lines from the symbol-level breaks the service
// reports. Each page contributes a PAGE block with its full text followed by
// its LINE and WORD blocks.
func annotationBlocks(ann *vision.TextAnnotation, page int) []Block {
	if ann == nil {
		return nil
	}

	var out []Block
	for _, p := range ann.Pages {
		var lines, words []Block
		var line strings.Builder

		flush := func() {
			if text := strings.TrimSpace(line.String()); text != "" {
				lines = append(lines, Block{Type: BlockLine, Text: text, Page: page})
			}
			line.Reset()
		}

		for _, b := range p.Blocks {
			for _, para := range b.Paragraphs {
				for _, w := range para.Words {
					var word strings.Builder
					for _, s := range w.Symbols {
						word.WriteString(s.Text)
						line.WriteString(s.Text)
						switch breakType(s) {
						case "SPACE", "SURE_SPACE":
							line.WriteByte(' ')
						case "HYPHEN":
							line.WriteByte('-')
							flush()
						case "EOL_SURE_SPACE", "LINE_BREAK":
							flush()
						}
					}
					if word.Len() > 0 {
						words = append(words, Block{Type: BlockWord, Text: word.String(), Page: page})
					}
				}
				flush()
			}
		}

		texts := make([]string, len(lines))
		for i, l := range lines {
			texts[i] = l.Text
		}
		out = append(out, Block{Type: BlockPage, Text: strings.Join(texts, "\n"), Page: page})
		out = append(out, lines...)
		out = append(out, words...)
	}
	return out
}

func breakType(s *vision.Symbol) string {
	if s.Property == nil || s.Property.DetectedBreak == nil {
		return ""
	}
	return s.Property.DetectedBreak.Type
}
