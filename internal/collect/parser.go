package collect

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// parsePage turns one fetched gazette page into its structured form.
func parsePage(body []byte, pageNum int, date time.Time, section pipeline.Section) (pipeline.RawPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pipeline.RawPage{}, fmt.Errorf("parse page %d: %w", pageNum, err)
	}

	content := doc.Find("#conteudo-dou").First()
	if content.Length() == 0 {
		content = doc.Find("main").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}

	return pipeline.RawPage{
		NumeroPagina: pageNum,
		Metadados:    parseMetadata(doc, date, section),
		Texto:        strings.TrimSpace(content.Text()),
		Publicacoes:  parsePublications(doc),
	}, nil
}

func parseMetadata(doc *goquery.Document, date time.Time, section pipeline.Section) pipeline.PageMetadata {
	meta := pipeline.PageMetadata{Secao: section}

	if title := doc.Find("h1, .titulo-dou").First(); title.Length() > 0 {
		meta.Titulo = strings.TrimSpace(title.Text())
	}

	if pub := doc.Find(".data-dou, .publicacao-data").First(); pub.Length() > 0 {
		meta.DataPublicacao = strings.TrimSpace(pub.Text())
	} else {
		meta.DataPublicacao = date.Format("02/01/2006")
	}

	return meta
}

func parsePublications(doc *goquery.Document) []pipeline.Publication {
	items := doc.Find(".item-dou")
	if items.Length() == 0 {
		items = doc.Find("article")
	}
	if items.Length() == 0 {
		items = doc.Find(".materia")
	}

	var pubs []pipeline.Publication
	items.Each(func(_ int, item *goquery.Selection) {
		titulo := "Sem título"
		if t := item.Find("h2, .titulo").First(); t.Length() > 0 {
			titulo = strings.TrimSpace(t.Text())
		}

		corpo := ""
		if b := item.Find(".texto, .conteudo").First(); b.Length() > 0 {
			corpo = strings.TrimSpace(b.Text())
		}

		id, ok := item.Attr("id")
		if !ok {
			id = strings.TrimSpace(item.Find(".identificador").First().Text())
		}

		pubs = append(pubs, pipeline.Publication{
			ID:     id,
			Titulo: titulo,
			Corpo:  corpo,
		})
	})
	return pubs
}

// parseTotalPages extracts the section's page count from the first page.
// It falls back to the highest pagination link, then to 1.
func parseTotalPages(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 1
	}

	if total := doc.Find(".paginacao span.total").First(); total.Length() > 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(total.Text())); err == nil && n > 0 {
			return n
		}
	}

	max := 0
	doc.Find(".paginacao a").Each(func(_ int, link *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(link.Text())); err == nil && n > max {
			max = n
		}
	})
	if max > 0 {
		return max
	}
	return 1
}
