// Package review holds the analysis steps of a paper review: structured
// field extraction, keyword extraction, query building, innovation analysis,
// evaluation and report generation. Each step is one language-model call
// with a deterministic fallback the pipeline can substitute on degrade.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-review-service/internal/domain"
	"github.com/helixir/paper-review-service/internal/llm"
)

const (
	maxHeuristicAbstract = 1500
	maxTitleRunes        = 250
	minTitleRunes        = 8
	titleScanLines       = 15
)

// FieldExtractor turns paper text into PaperFields.
type FieldExtractor struct {
	completer llm.Completer
	logger    zerolog.Logger
}

// NewFieldExtractor creates a field extractor backed by completer.
func NewFieldExtractor(completer llm.Completer, logger zerolog.Logger) *FieldExtractor {
	return &FieldExtractor{
		completer: completer,
		logger:    logger.With().Str("component", "field_extractor").Logger(),
	}
}

// fieldsResponse is the JSON object requested from the model. Keywords may
// come back as an array or a comma-separated string.
type fieldsResponse struct {
	Title    string           `json:"title"`
	Abstract string           `json:"abstract"`
	Keywords json.RawMessage  `json:"keywords"`
	Sections []domain.Section `json:"sections"`
}

// ExtractFields asks the model for the paper's structure. When the answer is
// unparseable or lacks the title or abstract, the heuristic extraction fills
// the gaps, the result is marked best-effort and an error wrapping
// domain.ErrFallback is returned with it. When the model call itself fails,
// the heuristic fields are returned together with that error.
func (e *FieldExtractor) ExtractFields(ctx context.Context, text string, lang Language) (domain.PaperFields, error) {
	heuristic := HeuristicFields(text)

	raw, err := e.completer.Complete(ctx, fieldsPrompt(text, lang))
	if err != nil {
		return heuristic, err
	}

	fields, ok := parseFields(raw)
	if !ok {
		e.logger.Warn().Int("response_len", len(raw)).Msg("field extraction response was not JSON, using heuristic fields")
		return heuristic, fmt.Errorf("%w: field extraction response was not JSON", domain.ErrFallback)
	}

	var fallbackErr error

	if fields.Title == "" || fields.Abstract == "" {
		fields.BestEffort = true
		fallbackErr = fmt.Errorf("%w: model answer lacked the title or abstract", domain.ErrFallback)
		if fields.Title == "" {
			fields.Title = heuristic.Title
		}
		if fields.Abstract == "" {
			fields.Abstract = heuristic.Abstract
		}
	}
	if len(fields.Keywords) == 0 {
		fields.Keywords = heuristic.Keywords
	}
	return fields, fallbackErr
}

func parseFields(raw string) (domain.PaperFields, bool) {
	obj := jsonObject(raw)
	if obj == "" {
		return domain.PaperFields{}, false
	}

	var resp fieldsResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return domain.PaperFields{}, false
	}

	fields := domain.PaperFields{
		Title:    domain.CollapseWhitespace(resp.Title),
		Abstract: strings.TrimSpace(resp.Abstract),
		Keywords: parseKeywordList(resp.Keywords),
	}
	for _, s := range resp.Sections {
		s.Heading = domain.CollapseWhitespace(s.Heading)
		s.Body = strings.TrimSpace(s.Body)
		if s.Heading == "" || s.Body == "" || isNotFound(s.Body) {
			continue
		}
		fields.Sections = append(fields.Sections, s)
	}
	if isNotFound(fields.Title) {
		fields.Title = ""
	}
	if isNotFound(fields.Abstract) {
		fields.Abstract = ""
	}
	if fields.IsEmpty() {
		return domain.PaperFields{}, false
	}
	return fields, true
}

// jsonObject returns the outermost {...} span of s after removing a code fence.
func jsonObject(s string) string {
	s = llm.StripCodeFence(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func parseKeywordList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return domain.DedupKeywords(list, 0)
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return domain.DedupKeywords(splitKeywords(joined), 0)
	}
	return nil
}

func isNotFound(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "not found" || s == "n/a" || s == "none" || s == "未找到"
}

var (
	abstractHeading = regexp.MustCompile(`(?i)^\s*(abstract\b|摘\s*要)\s*[:：.\-—]?\s*`)
	abstractEnd     = regexp.MustCompile(`(?i)^\s*((\d+|i)\.?\s+)?((introduction|keywords?|index terms)\b|引言|关键词)`)
	keywordsLine    = regexp.MustCompile(`(?i)^\s*(keywords?|index terms|关键词)\s*[:：—\-]\s*(.+)$`)
	noiseLine       = regexp.MustCompile(`(?i)^(arxiv:|doi:|https?://|preprint|proceedings|copyright|©|\d+$)`)
)

// HeuristicFields extracts a best-effort title, abstract and keywords from
// raw text without a language model. The first plausible line is taken as
// the title; the abstract is the text under an "Abstract" heading, or the
// leading text when no heading is found.
func HeuristicFields(text string) domain.PaperFields {
	lines := strings.Split(text, "\n")
	fields := domain.PaperFields{BestEffort: true}

	for i, line := range lines {
		if i >= titleScanLines {
			break
		}
		if isTitleCandidate(line) {
			fields.Title = domain.CollapseWhitespace(line)
			break
		}
	}

	for _, line := range lines {
		if m := keywordsLine.FindStringSubmatch(line); m != nil {
			fields.Keywords = domain.DedupKeywords(splitKeywords(m[2]), 0)
			break
		}
	}

	fields.Abstract = heuristicAbstract(lines)
	return fields
}

func isTitleCandidate(line string) bool {
	line = strings.TrimSpace(line)
	n := len([]rune(line))
	if n < minTitleRunes || n > maxTitleRunes {
		return false
	}
	if noiseLine.MatchString(line) || abstractHeading.MatchString(line) {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters*2 >= n
}

func heuristicAbstract(lines []string) string {
	start := -1
	var first string
	for i, line := range lines {
		if loc := abstractHeading.FindStringIndex(line); loc != nil {
			start = i
			first = strings.TrimSpace(line[loc[1]:])
			break
		}
	}

	var parts []string
	if start >= 0 {
		if first != "" {
			parts = append(parts, first)
		}
		for _, line := range lines[start+1:] {
			if abstractEnd.MatchString(line) {
				break
			}
			parts = append(parts, line)
		}
	} else {
		parts = lines
	}
	return clip(domain.CollapseWhitespace(strings.Join(parts, " ")), maxHeuristicAbstract)
}
