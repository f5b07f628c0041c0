package process

import (
	"regexp"
	"sort"
	"strings"

	"github.com/openlexbr/douflow/internal/pipeline"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	wordRe       = regexp.MustCompile(`[\p{L}\d]+`)

	dateRe    = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	moneyRe   = regexp.MustCompile(`R\$\s*\d+(?:[.,]\d+)*`)
	processRe = regexp.MustCompile(`\b\d{5,7}[-.]?\d{3,}[/.]?\d{4}[-.]?\d{1,2}\b`)
	cnpjRe    = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/\d{4}-\d{2}\b`)
	cpfRe     = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-\d{2}\b`)

	// normaRe finds references to named legal acts.
	normaRe = regexp.MustCompile(`(?i)\b(?:lei|decreto|portaria|resolução|instrução normativa|medida provisória)\s+n[ºo°.]*\s*[\d.]+(?:/\d{4})?`)
	// orgRe finds runs of two or more uppercase words, the form organ
	// names take in gazette text.
	orgRe = regexp.MustCompile(`\b[A-ZÁÉÍÓÚÂÊÔÃÕÇ]{2,}(?:\s+(?:D[AEO]S?\s+)?[A-ZÁÉÍÓÚÂÊÔÃÕÇ]{2,})+\b`)
)

// documentKeywords maps each document type to the terms that signal it.
var documentKeywords = map[string][]string{
	"licitacao": {"licitação", "pregão", "concorrência", "tomada de preço", "licitatório"},
	"contrato":  {"contrato", "termo aditivo", "contratante", "contratado"},
	"extrato":   {"extrato", "resumo"},
	"aviso":     {"aviso", "comunicado", "informa"},
	"edital":    {"edital", "seleção", "processo seletivo"},
	"portaria":  {"portaria", "nomear", "designar", "exonerar"},
	"decreto":   {"decreto", "decreta"},
	"resolucao": {"resolução", "resolve"},
	"despacho":  {"despacho", "decide"},
}

func normalizeText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func extractMetadata(text string) pipeline.ExtractedMetadata {
	return pipeline.ExtractedMetadata{
		Datas:             dedupe(dateRe.FindAllString(text, -1)),
		ValoresMonetarios: dedupe(moneyRe.FindAllString(text, -1)),
		NumerosProcessos:  dedupe(processRe.FindAllString(text, -1)),
		CNPJ:              dedupe(cnpjRe.FindAllString(text, -1)),
		CPF:               dedupe(cpfRe.FindAllString(text, -1)),
	}
}

func extractEntities(text string) []pipeline.Entity {
	var entities []pipeline.Entity
	for _, loc := range orgRe.FindAllStringIndex(text, -1) {
		entities = append(entities, pipeline.Entity{
			Texto:  text[loc[0]:loc[1]],
			Tipo:   "ORG",
			Inicio: loc[0],
			Fim:    loc[1],
		})
	}
	for _, loc := range normaRe.FindAllStringIndex(text, -1) {
		entities = append(entities, pipeline.Entity{
			Texto:  text[loc[0]:loc[1]],
			Tipo:   "NORMA",
			Inicio: loc[0],
			Fim:    loc[1],
		})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Inicio < entities[j].Inicio })
	return entities
}

// extractKeywords returns the max most frequent non-stopword terms longer
// than three characters.
func extractKeywords(text string, max int) []pipeline.Keyword {
	counts := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(w)) <= 3 || isStopword(w) {
			continue
		}
		counts[w]++
	}

	keywords := make([]pipeline.Keyword, 0, len(counts))
	for w, n := range counts {
		keywords = append(keywords, pipeline.Keyword{Palavra: w, Frequencia: n})
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Frequencia != keywords[j].Frequencia {
			return keywords[i].Frequencia > keywords[j].Frequencia
		}
		return keywords[i].Palavra < keywords[j].Palavra
	})
	if len(keywords) > max {
		keywords = keywords[:max]
	}
	return keywords
}

// classifyDocument scores the text against each type's signal terms and
// returns the best match, or "outros" when nothing scores.
func classifyDocument(text string) string {
	lower := strings.ToLower(text)

	best, bestScore := "outros", 0
	types := make([]string, 0, len(documentKeywords))
	for t := range documentKeywords {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, tipo := range types {
		score := 0
		for _, term := range documentKeywords[tipo] {
			score += strings.Count(lower, term)
		}
		if score > bestScore {
			best, bestScore = tipo, score
		}
	}
	return best
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
