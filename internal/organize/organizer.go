// Package organize implements the organization stage: it validates the
// processed artifact, flattens every publication into tabular rows, and
// writes the CSV file consumed outside the pipeline.
package organize

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// Config governs the organization stage.
type Config struct {
	// OutputDir is where CSV files are written. Empty disables the file
	// and keeps rows only in the artifact.
	OutputDir string
	Separator rune
}

// Organizer implements pipeline.Organizer.
type Organizer struct {
	cfg    Config
	clock  pipeline.Clock
	logger *zap.Logger
}

// New builds an Organizer.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Organizer {
	if cfg.Separator == 0 {
		cfg.Separator = ','
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Organizer{cfg: cfg, clock: clock, logger: logger}
}

var header = []string{
	"data_publicacao", "secao", "numero_pagina", "titulo", "resumo",
	"entidades", "palavras_chave", "tipo_documento", "id",
	"datas_mencionadas", "valores_monetarios", "numeros_processos", "cnpj", "cpf",
}

// Organize flattens the processed artifact into rows and writes the CSV.
func (o *Organizer) Organize(ctx context.Context, processed *pipeline.ProcessedArtifact) (*pipeline.OrganizedArtifact, error) {
	if err := processed.Validate(); err != nil {
		return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageOrganize,
			"processed artifact rejected", err)
	}

	var rows []pipeline.Row
	for _, page := range processed.Paginas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, pub := range page.Publicacoes {
			rows = append(rows, buildRow(processed, page, pub))
		}
	}
	if len(rows) == 0 {
		return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageOrganize,
			"no publications to organize", nil)
	}

	artifact := &pipeline.OrganizedArtifact{
		Schema:    pipeline.SchemaVersion,
		Data:      processed.Data,
		Secao:     processed.Secao,
		Rows:      rows,
		Timestamp: o.clock.Now(),
	}

	if o.cfg.OutputDir != "" {
		path, err := o.writeCSV(artifact)
		if err != nil {
			return nil, pipeline.NewError(pipeline.KindFatal, pipeline.StageOrganize, "write csv", err)
		}
		artifact.CSVRef = path
	}

	if err := artifact.Validate(); err != nil {
		return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageOrganize,
			"organized artifact failed validation", err)
	}

	o.logger.Info("organization finished",
		zap.String("date", artifact.Data),
		zap.String("section", string(artifact.Secao)),
		zap.Int("rows", len(rows)),
		zap.String("csv", artifact.CSVRef))
	return artifact, nil
}

func buildRow(a *pipeline.ProcessedArtifact, page pipeline.ProcessedPage, pub pipeline.ProcessedPublication) pipeline.Row {
	return pipeline.Row{
		DataPublicacao:    a.Data,
		Secao:             string(page.Metadados.Secao),
		NumeroPagina:      page.NumeroPagina,
		Titulo:            pub.Titulo,
		Resumo:            pub.Resumo,
		Entidades:         joinEntities(pub.Entidades),
		PalavrasChave:     joinKeywords(pub.PalavrasChave),
		TipoDocumento:     pub.TipoDocumento,
		ID:                pub.ID,
		DatasMencionadas:  strings.Join(pub.MetadadosExtraidos.Datas, "; "),
		ValoresMonetarios: strings.Join(pub.MetadadosExtraidos.ValoresMonetarios, "; "),
		NumerosProcessos:  strings.Join(pub.MetadadosExtraidos.NumerosProcessos, "; "),
		CNPJ:              strings.Join(pub.MetadadosExtraidos.CNPJ, "; "),
		CPF:               strings.Join(pub.MetadadosExtraidos.CPF, "; "),
	}
}

func joinEntities(entities []pipeline.Entity) string {
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Texto, e.Tipo))
	}
	return strings.Join(parts, "; ")
}

func joinKeywords(keywords []pipeline.Keyword) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		parts = append(parts, fmt.Sprintf("%s (%d)", k.Palavra, k.Frequencia))
	}
	return strings.Join(parts, "; ")
}

func (o *Organizer) writeCSV(a *pipeline.OrganizedArtifact) (string, error) {
	if err := os.MkdirAll(o.cfg.OutputDir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	name := fmt.Sprintf("dou_%s_secao%s.csv", a.Data, a.Secao)
	path := filepath.Join(o.cfg.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = o.cfg.Separator

	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range a.Rows {
		record := []string{
			r.DataPublicacao, r.Secao, strconv.Itoa(r.NumeroPagina), r.Titulo, r.Resumo,
			r.Entidades, r.PalavrasChave, r.TipoDocumento, r.ID,
			r.DatasMencionadas, r.ValoresMonetarios, r.NumerosProcessos, r.CNPJ, r.CPF,
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return path, nil
}
