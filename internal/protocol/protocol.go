package protocol

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	Source     = "ml-server"
	StepType   = "step"
	StepPrefix = "step-"
	Confidence = 0.85
)

var ErrEmptyText = errors.New("rawText is required")

// boundary is sentence punctuation followed by a whitespace run. It does not
// know about abbreviations or decimals. The whitespace class also covers the
// C0 separators 0x1c-0x1f and NEL.
var boundary = regexp.MustCompile(`[.!?][\s\v\p{Z}\x{1c}-\x{1f}\x{85}]+`)

type Step struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Content string `json:"content" yaml:"content"`
	Order   int    `json:"order" yaml:"order"`
}

type Metadata struct {
	Source       string  `json:"source" yaml:"source"`
	Timestamp    string  `json:"timestamp" yaml:"timestamp"`
	ExperimentID *string `json:"experimentId" yaml:"experimentId"`
}

type Protocol struct {
	Steps    []Step   `json:"steps" yaml:"steps"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// Result is the standardize reply body.
type Result struct {
	Protocol   Protocol `json:"protocol" yaml:"protocol"`
	Confidence float64  `json:"confidence" yaml:"confidence"`
}

type Request struct {
	RawText      string
	ExperimentID *string
}

// Standardizer turns raw protocol text into a Result.
type Standardizer interface {
	Standardize(req Request) (Result, error)
}

// Splitter is the punctuation based Standardizer.
type Splitter struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewSplitter() *Splitter {
	return &Splitter{Now: time.Now}
}

func (s *Splitter) Standardize(req Request) (Result, error) {
	if trim(req.RawText) == "" {
		return Result{}, ErrEmptyText
	}

	now := time.Now
	if s != nil && s.Now != nil {
		now = s.Now
	}

	return Result{
		Protocol: Protocol{
			Steps: BuildSteps(Split(req.RawText)),
			Metadata: Metadata{
				Source:       Source,
				Timestamp:    now().UTC().Format(time.RFC3339Nano),
				ExperimentID: req.ExperimentID,
			},
		},
		Confidence: Confidence,
	}, nil
}

// Split returns the trimmed, non-empty fragments of text in original order.
func Split(text string) []string {
	parts := boundary.Split(text, -1)
	fragments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = trim(p); p != "" {
			fragments = append(fragments, p)
		}
	}
	return fragments
}

func BuildSteps(fragments []string) []Step {
	steps := make([]Step, len(fragments))
	for i, f := range fragments {
		steps[i] = Step{
			ID:      StepPrefix + strconv.Itoa(i),
			Type:    StepType,
			Content: f,
			Order:   i,
		}
	}
	return steps
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || unicode.Is(unicode.Z, r) || (r >= 0x1c && r <= 0x1f)
}

func trim(s string) string {
	return strings.TrimFunc(s, isSpace)
}
