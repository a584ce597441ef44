package enrichment

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/l0p7/domainscout/internal/opportunity"
)

// minKeywordHits is the fewest keyword hits a category needs to beat general.
const minKeywordHits = 2

type categoryKeywords struct {
	category opportunity.ContentCategory
	keywords []string
}

// keywordTable is checked in order; earlier categories win ties.
var keywordTable = []categoryKeywords{
	{opportunity.ContentCommerce, []string{"carrito", "cart", "tienda", "shop", "comprar", "buy now", "precio", "price", "checkout", "envío", "despacho", "oferta"}},
	{opportunity.ContentBlog, []string{"blog", "publicado", "posted", "comentarios", "comments", "autor", "author", "archivo", "archives", "leer más", "read more"}},
	{opportunity.ContentCorporate, []string{"empresa", "company", "servicios", "services", "nosotros", "about us", "clientes", "clients", "contacto", "misión", "mission"}},
	{opportunity.ContentLanding, []string{"coming soon", "próximamente", "suscríbete", "subscribe", "sign up", "regístrate", "en construcción", "under construction"}},
}

// Classify infers what kind of site an archived page showed from its title,
// meta description and keywords, and visible body text.
func Classify(page []byte) opportunity.ContentCategory {
	text := pageText(page)
	if text == "" {
		return opportunity.ContentGeneral
	}

	best := opportunity.ContentGeneral
	bestHits := minKeywordHits - 1
	for _, entry := range keywordTable {
		hits := 0
		for _, keyword := range entry.keywords {
			hits += strings.Count(text, keyword)
		}
		if hits > bestHits {
			best, bestHits = entry.category, hits
		}
	}
	return best
}

func pageText(page []byte) string {
	if len(bytes.TrimSpace(page)) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	b.WriteString(doc.Find("title").First().Text())
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		switch strings.ToLower(name) {
		case "description", "keywords":
			if content, ok := s.Attr("content"); ok {
				b.WriteByte(' ')
				b.WriteString(content)
			}
		}
	})
	b.WriteByte(' ')
	b.WriteString(doc.Find("body").Text())
	return strings.ToLower(strings.Join(strings.Fields(b.String()), " "))
}
