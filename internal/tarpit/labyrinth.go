package tarpit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// linkFlyweight shares the invariant HTML fragments of a link across every
// render, so building a page allocates only the hrefs and labels.
type linkFlyweight struct {
	open string
	mid  string
	end  string
}

func (f *linkFlyweight) render(b *strings.Builder, href, label string) {
	b.WriteString(f.open)
	b.WriteString(href)
	b.WriteString(f.mid)
	b.WriteString(label)
	b.WriteString(f.end)
}

var pageLink = &linkFlyweight{
	open: `<li><a href="`,
	mid:  `">`,
	end:  `</a></li>`,
}

// LabyrinthGenerator produces pages whose only content is deceptive
// anchors leading deeper into the tarpit.
type LabyrinthGenerator struct {
	depth          int
	fingerprinting bool
}

// NewLabyrinthGenerator builds the generator. depth defaults to 5.
func NewLabyrinthGenerator(depth int, fingerprinting bool) *LabyrinthGenerator {
	if depth <= 0 {
		depth = 5
	}
	return &LabyrinthGenerator{depth: depth, fingerprinting: fingerprinting}
}

// labyrinthToken derives hop i's path slug from the page seed.
func labyrinthToken(seed string, i int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", seed, i)))
	return hex.EncodeToString(sum[:])[:8]
}

// GeneratePage renders depth anchors plus the obfuscated asset blocks.
func (g *LabyrinthGenerator) GeneratePage(seed string) []string {
	lines := []string{
		"<!DOCTYPE html>",
		"<html lang=\"en\">",
		"<head>",
		"<title>Index</title>",
		"<meta charset=\"utf-8\">",
		obfuscatedCSS(),
		"</head>",
		"<body>",
		"<ul>",
	}

	var b strings.Builder
	for i := 0; i < g.depth; i++ {
		b.Reset()
		token := labyrinthToken(seed, i)
		pageLink.render(&b, tarpitPrefix+token, "section "+token)
		lines = append(lines, b.String())
	}

	lines = append(lines, "</ul>", obfuscatedJS())
	if g.fingerprinting {
		lines = append(lines, fingerprintingJS())
	}
	lines = append(lines, "</body>", "</html>")
	return lines
}
