// Package chunk splits extracted document text into overlapping fixed-size segments.
package chunk

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Chunk is a contiguous span of document text. Offsets and sizes count
// characters (runes), not bytes.
type Chunk struct {
	Document string `json:"document"`
	Position int    `json:"position"`
	Offset   int    `json:"offset"`
	Text     string `json:"text"`
}

// Config leaves Overlap nil when unset so an explicit zero is kept.
type Config struct {
	Size    int  `yaml:"size"`
	Overlap *int `yaml:"overlap"`
}

type Option func(*Chunker)

func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

type Chunker struct {
	size    int
	overlap int
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}

	return c
}

func NewFromConfig(cfg Config) *Chunker {
	opts := []Option{WithSize(cfg.Size)}
	if cfg.Overlap != nil {
		opts = append(opts, WithOverlap(*cfg.Overlap))
	}

	return New(opts...)
}

func (c *Chunker) Size() int {
	return c.size
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split cuts text into windows of at most Size characters. Each window
// starts Size-Overlap characters after the previous one, and the window
// reaching the end of the text is the last.
func (c *Chunker) Split(document string, text string) []Chunk {
	if text == "" {
		return []Chunk{}
	}

	runes := []rune(text)
	total := len(runes)
	step := c.size - c.overlap

	chunks := make([]Chunk, 0, total/step+1)
	for start := 0; start < total; start += step {
		end := start + c.size
		if end > total {
			end = total
		}

		chunks = append(chunks, Chunk{
			Document: document,
			Position: len(chunks),
			Offset:   start,
			Text:     string(runes[start:end]),
		})

		if end == total {
			break
		}
	}

	return chunks
}

// Join reverses Split: it drops the shared prefix of every chunk after the
// first and concatenates the rest.
func Join(chunks []Chunk) string {
	var out []rune
	for _, ch := range chunks {
		runes := []rune(ch.Text)

		skip := len(out) - ch.Offset
		if skip < 0 {
			skip = 0
		}
		if skip > len(runes) {
			skip = len(runes)
		}

		out = append(out, runes[skip:]...)
	}

	return string(out)
}
