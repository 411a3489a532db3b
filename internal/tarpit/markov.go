// Package tarpit generates deceptive slow-streamed content for confirmed
// scrapers: Markov-synthesised prose pages and link labyrinths, both laced
// with obfuscated assets and honeypot anchors.
package tarpit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// Generator produces one page as a slice of HTML lines, ready for
// line-at-a-time streaming. The same seed yields the same page so repeat
// visitors see consistent content.
type Generator interface {
	GeneratePage(seed string) []string
}

// Honeypot anchor served hidden on every Markov page. Any client that
// follows it has parsed the raw HTML.
const honeypotPath = "/admin/login-internal-special-route"

// tarpitPrefix is where deceptive links point back into.
const tarpitPrefix = "/tarpit/"

// MarkovModel is an order-2 word chain trained from a text corpus at
// startup. Immutable after training.
type MarkovModel struct {
	chains map[string][]string
	starts []string
}

// TrainMarkov builds the chain from corpus text.
func TrainMarkov(corpus string) (*MarkovModel, error) {
	words := strings.Fields(corpus)
	if len(words) < 3 {
		return nil, fmt.Errorf("corpus too small: %d words", len(words))
	}

	m := &MarkovModel{chains: make(map[string][]string)}
	for i := 0; i+2 < len(words); i++ {
		key := words[i] + " " + words[i+1]
		m.chains[key] = append(m.chains[key], words[i+2])
		if i == 0 || strings.HasSuffix(words[i-1], ".") {
			m.starts = append(m.starts, key)
		}
	}
	if len(m.starts) == 0 {
		m.starts = append(m.starts, words[0]+" "+words[1])
	}
	return m, nil
}

// LoadMarkov trains the model from a corpus file.
func LoadMarkov(path string) (*MarkovModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markov corpus: %w", err)
	}
	return TrainMarkov(string(data))
}

// sentence walks the chain from a random start until a period or the word
// cap.
func (m *MarkovModel) sentence(rng *rand.Rand, maxWords int) string {
	key := m.starts[rng.Intn(len(m.starts))]
	parts := strings.SplitN(key, " ", 2)
	out := []string{parts[0], parts[1]}

	for len(out) < maxWords {
		successors, ok := m.chains[key]
		if !ok || len(successors) == 0 {
			break
		}
		next := successors[rng.Intn(len(successors))]
		out = append(out, next)
		if strings.HasSuffix(next, ".") {
			break
		}
		key = out[len(out)-2] + " " + out[len(out)-1]
	}

	s := strings.Join(out, " ")
	s = strings.ToUpper(s[:1]) + s[1:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

// paragraph emits 3-7 sentences.
func (m *MarkovModel) paragraph(rng *rand.Rand) string {
	n := 3 + rng.Intn(5)
	sentences := make([]string, n)
	for i := range sentences {
		sentences[i] = m.sentence(rng, 24)
	}
	return strings.Join(sentences, " ")
}

// MarkovGenerator renders full HTML pages from the trained model.
type MarkovGenerator struct {
	model          *MarkovModel
	fingerprinting bool
}

// NewMarkovGenerator wraps a trained model.
func NewMarkovGenerator(model *MarkovModel, fingerprinting bool) *MarkovGenerator {
	return &MarkovGenerator{model: model, fingerprinting: fingerprinting}
}

// seededRNG derives a deterministic generator from the page seed.
func seededRNG(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
}

// linkToken derives the short hash slug for a deceptive link.
func linkToken(seed string, i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", seed, i)))
	return hex.EncodeToString(sum[:])[:8]
}

// GeneratePage produces 7-15 paragraphs of synthesised prose, five
// deceptive internal links, a hidden honeypot anchor, and the obfuscated
// asset blocks.
func (g *MarkovGenerator) GeneratePage(seed string) []string {
	rng := seededRNG(seed)

	title := g.model.sentence(rng, 6)
	lines := []string{
		"<!DOCTYPE html>",
		"<html lang=\"en\">",
		"<head>",
		fmt.Sprintf("<title>%s</title>", strings.TrimSuffix(title, ".")),
		"<meta charset=\"utf-8\">",
		obfuscatedCSS(),
		"</head>",
		"<body>",
		fmt.Sprintf("<h1>%s</h1>", strings.TrimSuffix(title, ".")),
	}

	paragraphs := 7 + rng.Intn(9)
	for i := 0; i < paragraphs; i++ {
		lines = append(lines, fmt.Sprintf("<p>%s</p>", g.model.paragraph(rng)))
	}

	lines = append(lines, "<ul>")
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.Reset()
		label := strings.TrimSuffix(g.model.sentence(rng, 5), ".")
		pageLink.render(&b, tarpitPrefix+linkToken(seed, i), label)
		lines = append(lines, b.String())
	}
	lines = append(lines, "</ul>")

	lines = append(lines,
		fmt.Sprintf("<a href=\"%s\" style=\"display:none\" aria-hidden=\"true\">internal</a>", honeypotPath),
		obfuscatedJS(),
	)
	if g.fingerprinting {
		lines = append(lines, fingerprintingJS())
	}
	lines = append(lines, "</body>", "</html>")
	return lines
}
