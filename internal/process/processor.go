// Package process implements the processing stage: summaries, entity and
// keyword extraction, metadata mining, and document classification for
// every publication of a raw artifact.
package process

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Config governs the processing stage.
type Config struct {
	// SummaryMaxLen caps summaries in characters.
	SummaryMaxLen int
	// MaxKeywords caps the keyword list per publication.
	MaxKeywords int
}

// Processor implements pipeline.Processor.
type Processor struct {
	cfg    Config
	clock  pipeline.Clock
	logger *zap.Logger
}

// New builds a Processor.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Processor {
	if cfg.SummaryMaxLen <= 0 {
		cfg.SummaryMaxLen = 200
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, clock: clock, logger: logger}
}

// Process augments every publication of the raw artifact. The input is
// validated on entry; a malformed artifact fails the stage without any
// partial output.
func (p *Processor) Process(ctx context.Context, raw *pipeline.RawArtifact) (*pipeline.ProcessedArtifact, error) {
	if err := raw.Validate(); err != nil {
		return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageProcess,
			"raw artifact rejected", err)
	}

	pages := make([]pipeline.ProcessedPage, 0, len(raw.Paginas))
	total := 0
	for _, page := range raw.Paginas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pubs := make([]pipeline.ProcessedPublication, 0, len(page.Publicacoes))
		for _, pub := range page.Publicacoes {
			pubs = append(pubs, p.processPublication(pub))
		}
		total += len(pubs)

		pages = append(pages, pipeline.ProcessedPage{
			NumeroPagina: page.NumeroPagina,
			Metadados:    page.Metadados,
			Publicacoes:  pubs,
		})
	}

	// Extra-edition pages are numbered past the highest collected page.
	// Page numbers are not dense in an incomplete artifact, so counting
	// pages would collide with a real number.
	nextPage := 0
	for _, page := range pages {
		if page.NumeroPagina > nextPage {
			nextPage = page.NumeroPagina
		}
	}
	for _, extra := range raw.SecoesExtras {
		if len(extra.Conteudo.Publicacoes) == 0 {
			continue
		}
		pubs := make([]pipeline.ProcessedPublication, 0, len(extra.Conteudo.Publicacoes))
		for _, pub := range extra.Conteudo.Publicacoes {
			pubs = append(pubs, p.processPublication(pub))
		}
		total += len(pubs)
		meta := extra.Conteudo.Metadados
		meta.Secao = pipeline.SectionExtra
		nextPage++
		pages = append(pages, pipeline.ProcessedPage{
			NumeroPagina: nextPage,
			Metadados:    meta,
			Publicacoes:  pubs,
		})
	}

	artifact := &pipeline.ProcessedArtifact{
		Schema:                pipeline.SchemaVersion,
		Data:                  raw.Data,
		Secao:                 raw.Secao,
		Paginas:               pages,
		TimestampProcessament: p.clock.Now(),
	}
	if err := artifact.Validate(); err != nil {
		return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageProcess,
			"processed artifact failed validation", err)
	}

	p.logger.Info("processing finished",
		zap.String("date", raw.Data),
		zap.String("section", string(raw.Secao)),
		zap.Int("publications", total))
	return artifact, nil
}

func (p *Processor) processPublication(pub pipeline.Publication) pipeline.ProcessedPublication {
	text := normalizeText(pub.Corpo)
	out := pipeline.ProcessedPublication{
		Publication:        pub,
		Resumo:             summarize(text, p.cfg.SummaryMaxLen),
		Entidades:          extractEntities(text),
		PalavrasChave:      extractKeywords(text, p.cfg.MaxKeywords),
		TipoDocumento:      classifyDocument(pub.Titulo + " " + text),
		MetadadosExtraidos: extractMetadata(text),
	}
	if out.Titulo == "" {
		out.Titulo = fmt.Sprintf("Publicação %s", pub.ID)
	}
	return out
}
