package chunkindex

import (
	"regexp"
	"strings"

	"github.com/ragmind/backend/internal/storage/models"
)

// Chunk is a bounded slice of document text with its position and an
// estimated token count.
type Chunk struct {
	Text       string
	StartIndex int
	EndIndex   int
	Tokens     int
}

type ChunkerConfig struct {
	ChunkSize         int // characters per fixed-size chunk
	ChunkOverlap      int // character overlap between fixed-size chunks
	SentencesPerChunk int
	SectionThreshold  int // semantic sections longer than this are re-split by paragraph
}

func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:         500,
		ChunkOverlap:      50,
		SentencesPerChunk: 5,
		SectionThreshold:  2000,
	}
}

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)
	blankLine       = regexp.MustCompile(`\n[ \t]*\n`)
	headingLine     = regexp.MustCompile(`(?m)^#{1,6} `)
)

// EstimateTokens is a cheap character-based proxy, good enough for
// internal sizing. It is not a real tokenizer.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ChunkText splits text with the given strategy. Splitting is fully
// deterministic: the same input always yields identical chunk boundaries.
func ChunkText(text string, strategy models.ChunkStrategy, cfg ChunkerConfig) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	switch strategy {
	case models.ChunkFixed:
		return chunkFixed(text, cfg.ChunkSize, cfg.ChunkOverlap)
	case models.ChunkSentence:
		return chunkSentences(text, cfg.SentencesPerChunk)
	case models.ChunkParagraph:
		return chunkParagraphs(text, 0)
	case models.ChunkSemantic:
		return chunkSemantic(text, cfg.SectionThreshold)
	default:
		return chunkFixed(text, cfg.ChunkSize, cfg.ChunkOverlap)
	}
}

func chunkFixed(text string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	step := size - overlap

	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}

		chunks = append(chunks, newChunk(text[start:end], start, end))

		if end == len(text) {
			break
		}
	}

	return chunks
}

func chunkSentences(text string, perChunk int) []Chunk {
	if perChunk <= 0 {
		perChunk = 5
	}

	spans := sentencePattern.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		return []Chunk{newChunk(text, 0, len(text))}
	}

	var chunks []Chunk

	// Text before the first detected sentence (e.g. a run of leading
	// terminator characters) becomes its own chunk.
	if lead := text[:spans[0][0]]; strings.TrimSpace(lead) != "" {
		chunks = append(chunks, newChunk(lead, 0, spans[0][0]))
	}

	for i := 0; i < len(spans); i += perChunk {
		last := i + perChunk - 1
		if last >= len(spans) {
			last = len(spans) - 1
		}

		start := spans[i][0]
		end := spans[last][1]
		chunks = append(chunks, newChunk(text[start:end], start, end))
	}

	// Trailing text without a sentence terminator becomes a final chunk.
	tailStart := spans[len(spans)-1][1]
	if tail := text[tailStart:]; strings.TrimSpace(tail) != "" {
		chunks = append(chunks, newChunk(tail, tailStart, len(text)))
	}

	return chunks
}

func chunkParagraphs(text string, offset int) []Chunk {
	separators := blankLine.FindAllStringIndex(text, -1)

	var chunks []Chunk
	start := 0
	for _, sep := range separators {
		if segment := text[start:sep[0]]; strings.TrimSpace(segment) != "" {
			chunks = append(chunks, newChunk(segment, offset+start, offset+sep[0]))
		}
		start = sep[1]
	}

	if segment := text[start:]; strings.TrimSpace(segment) != "" {
		chunks = append(chunks, newChunk(segment, offset+start, offset+len(text)))
	}

	return chunks
}

// chunkSemantic splits on markdown heading boundaries. Sections beyond the
// size threshold are re-split by paragraph so one giant section cannot
// swallow the whole prompt context.
func chunkSemantic(text string, threshold int) []Chunk {
	if threshold <= 0 {
		threshold = 2000
	}

	headings := headingLine.FindAllStringIndex(text, -1)
	if len(headings) == 0 {
		return splitLargeSection(text, 0, threshold)
	}

	var chunks []Chunk

	if headings[0][0] > 0 {
		if preamble := text[:headings[0][0]]; strings.TrimSpace(preamble) != "" {
			chunks = append(chunks, splitLargeSection(preamble, 0, threshold)...)
		}
	}

	for i, h := range headings {
		start := h[0]
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		chunks = append(chunks, splitLargeSection(text[start:end], start, threshold)...)
	}

	return chunks
}

func splitLargeSection(section string, offset, threshold int) []Chunk {
	if strings.TrimSpace(section) == "" {
		return nil
	}
	if len(section) <= threshold {
		return []Chunk{newChunk(section, offset, offset+len(section))}
	}
	return chunkParagraphs(section, offset)
}

func newChunk(text string, start, end int) Chunk {
	return Chunk{
		Text:       text,
		StartIndex: start,
		EndIndex:   end,
		Tokens:     EstimateTokens(text),
	}
}
