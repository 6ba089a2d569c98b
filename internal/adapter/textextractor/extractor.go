// Package textextractor pulls summarizable text out of job payloads.
//
// A payload is a JSON object; content lives either in a top-level "content"
// string or in a "blocks" array of {type, text} objects. Blocks typed "main"
// count toward main-content words; binary or non-text block data is sniffed
// and skipped.
package textextractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// Extractor implements domain.Extractor over JSON payloads.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor { return &Extractor{} }

type block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type payloadShape struct {
	Content string  `json:"content"`
	Title   string  `json:"title"`
	Blocks  []block `json:"blocks"`
}

// Extract returns the cleaned content and word statistics. An empty result
// text means the job has nothing to summarize.
func (e *Extractor) Extract(raw []byte) (domain.Extraction, error) {
	var p payloadShape
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Extraction{}, fmt.Errorf("op=extract.parse: %w: %v", domain.ErrInvalidArgument, err)
	}

	var (
		parts     []string
		blocks    int
		total     int
		mainWords int
	)
	addPart := func(text string, main bool) {
		text = clean(text)
		if text == "" {
			return
		}
		if !looksTextual(text) {
			return
		}
		parts = append(parts, text)
		blocks++
		w := len(strings.Fields(text))
		total += w
		if main {
			mainWords += w
		}
	}

	if p.Title != "" {
		addPart(p.Title, false)
	}
	if p.Content != "" {
		addPart(p.Content, true)
	}
	for _, b := range p.Blocks {
		addPart(b.Text, b.Type == "main" || b.Type == "" || b.Type == "paragraph")
	}

	return domain.Extraction{
		Text:             strings.Join(parts, "\n\n"),
		ContentBlocks:    blocks,
		TotalWords:       total,
		MainContentWords: mainWords,
	}, nil
}

// clean collapses whitespace runs and strips control characters.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// looksTextual rejects block text that is actually embedded binary data
// (base64 images and the like slip into scraped payloads).
func looksTextual(s string) bool {
	if len(s) < 64 {
		return true
	}
	mt := mimetype.Detect([]byte(s))
	return strings.HasPrefix(mt.String(), "text/")
}
