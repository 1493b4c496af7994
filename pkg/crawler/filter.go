package crawler

import (
	"math"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Blocks considered by the content filters. Density pruning leaves
// tables alone (cell markup always scores low); relevance filtering
// scores each table as one block over its full text.
const (
	blockSelector = "p, li, h1, h2, h3, h4, h5, h6, pre, blockquote"
	bm25Selector  = blockSelector + ", table"
)

// filterHTML isolates the main content and strips the blocks the
// configured filter rejects. Returns HTML ready for markdown
// conversion, empty when nothing survives.
func (c *Crawler) filterHTML(rawHTML string, pageURL *url.URL) string {
	content := mainContent(rawHTML, pageURL)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	switch c.config.Filter {
	case FilterBM25:
		pruneByRelevance(doc, c.config.Query, c.config.BM25Threshold)
	default:
		pruneByDensity(doc, c.config.Threshold, c.config.MinWords)
	}

	body := doc.Find("body")
	if strings.TrimSpace(body.Text()) == "" {
		return ""
	}

	html, err := body.Html()
	if err != nil {
		return ""
	}
	return html
}

// mainContent runs readability over the page. When it cannot find an
// article the full page goes to the filter instead.
func mainContent(rawHTML string, pageURL *url.URL) string {
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(rawHTML), pageURL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return rawHTML
	}
	return article.Content
}

// pruneByDensity removes blocks whose text-to-markup ratio, scaled
// down by link density, falls under the fixed threshold. Navigation
// and footer link farms score near zero.
func pruneByDensity(doc *goquery.Document, threshold float64, minWords int) {
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			s.Remove()
			return
		}
		if minWords > 0 && len(strings.Fields(text)) < minWords {
			s.Remove()
			return
		}

		markup, err := goquery.OuterHtml(s)
		if err != nil || markup == "" {
			return
		}

		linkLen := len(strings.TrimSpace(s.Find("a").Text()))
		density := float64(len(text)) / float64(len(markup))
		linkDensity := float64(linkLen) / float64(len(text))

		if density*(1-linkDensity) < threshold {
			s.Remove()
		}
	})
}

// pruneByRelevance scores each block against the query with BM25 and
// removes everything under the threshold. An empty query matches
// nothing.
func pruneByRelevance(doc *goquery.Document, query string, threshold float64) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		doc.Find(bm25Selector).Remove()
		return
	}

	type block struct {
		sel   *goquery.Selection
		terms []string
	}

	var blocks []block
	docFreq := make(map[string]int)
	totalLen := 0

	doc.Find(bm25Selector).Each(func(_ int, s *goquery.Selection) {
		terms := tokenize(s.Text())
		blocks = append(blocks, block{sel: s, terms: terms})
		totalLen += len(terms)

		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				docFreq[t]++
			}
		}
	})

	if len(blocks) == 0 {
		return
	}

	avgLen := float64(totalLen) / float64(len(blocks))
	if avgLen == 0 {
		avgLen = 1
	}

	for _, b := range blocks {
		if bm25Score(queryTerms, b.terms, docFreq, len(blocks), avgLen) < threshold {
			b.sel.Remove()
		}
	}
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

func bm25Score(query, terms []string, docFreq map[string]int, totalBlocks int, avgLen float64) float64 {
	if len(terms) == 0 {
		return 0
	}

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	var score float64
	dl := float64(len(terms))

	for _, q := range query {
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		df := float64(docFreq[q])
		idf := math.Log(1 + (float64(totalBlocks)-df+0.5)/(df+0.5))
		score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/avgLen))
	}

	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
