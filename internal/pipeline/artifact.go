package pipeline

import (
	"fmt"
	"regexp"
	"time"
)

// SchemaVersion tags persisted artifacts; stage entry validation rejects
// any artifact whose version it does not understand.
const SchemaVersion = 1

// Publication is one individually published act inside a gazette page.
type Publication struct {
	ID     string `json:"id"`
	Titulo string `json:"titulo"`
	Corpo  string `json:"corpo"`
}

// PageMetadata carries the header fields scraped from a gazette page.
type PageMetadata struct {
	Titulo         string  `json:"titulo"`
	DataPublicacao string  `json:"data_publicacao"`
	Secao          Section `json:"secao"`
}

// RawPage is the collected content of one gazette page.
type RawPage struct {
	NumeroPagina int           `json:"numero_pagina"`
	Metadados    PageMetadata  `json:"metadados"`
	Texto        string        `json:"texto"`
	Publicacoes  []Publication `json:"publicacoes"`
	// Checksum is the content hash used by incremental collection to
	// detect unchanged pages between runs.
	Checksum string `json:"checksum,omitempty"`
}

// ExtraSection is an extra-edition page discovered during collection.
type ExtraSection struct {
	URL      string  `json:"url"`
	Conteudo RawPage `json:"conteudo"`
}

// RawArtifact is the collection stage output: the complete logical view of
// one (date, section), merged across runs in incremental mode.
type RawArtifact struct {
	Schema            int            `json:"schema_version"`
	Data              string         `json:"data"`
	Secao             Section        `json:"secao"`
	TotalPaginas      int            `json:"total_paginas"`
	Paginas           []RawPage      `json:"paginas"`
	SecoesExtras      []ExtraSection `json:"secoes_extras"`
	TimestampExtracao time.Time      `json:"timestamp_extracao"`
	// Incompleta marks an artifact accepted under the partial-failure
	// threshold with some pages missing.
	Incompleta bool `json:"incompleta,omitempty"`
}

var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate checks the artifact shape before a downstream stage consumes it.
func (a *RawArtifact) Validate() error {
	if a == nil {
		return fmt.Errorf("raw artifact is nil")
	}
	if a.Schema != SchemaVersion {
		return fmt.Errorf("unsupported raw artifact schema %d", a.Schema)
	}
	if !dateShape.MatchString(a.Data) {
		return fmt.Errorf("invalid artifact date %q", a.Data)
	}
	if len(a.Paginas) == 0 {
		return fmt.Errorf("raw artifact has no pages")
	}
	seen := make(map[int]struct{}, len(a.Paginas))
	for _, p := range a.Paginas {
		if p.NumeroPagina <= 0 {
			return fmt.Errorf("invalid page number %d", p.NumeroPagina)
		}
		if _, dup := seen[p.NumeroPagina]; dup {
			return fmt.Errorf("duplicate page number %d", p.NumeroPagina)
		}
		seen[p.NumeroPagina] = struct{}{}
	}
	return nil
}

// Entity is a named entity found in a publication body.
type Entity struct {
	Texto  string `json:"texto"`
	Tipo   string `json:"tipo"`
	Inicio int    `json:"inicio"`
	Fim    int    `json:"fim"`
}

// Keyword is a term with its frequency in a publication body.
type Keyword struct {
	Palavra    string `json:"palavra"`
	Frequencia int    `json:"frequencia"`
}

// ExtractedMetadata groups structured references extracted from a
// publication body.
type ExtractedMetadata struct {
	Datas             []string `json:"datas"`
	ValoresMonetarios []string `json:"valores_monetarios"`
	NumerosProcessos  []string `json:"numeros_processos"`
	CNPJ              []string `json:"cnpj"`
	CPF               []string `json:"cpf"`
}

// ProcessedPublication is a publication augmented by the processing stage.
type ProcessedPublication struct {
	Publication
	Resumo             string            `json:"resumo"`
	Entidades          []Entity          `json:"entidades"`
	PalavrasChave      []Keyword         `json:"palavras_chave"`
	TipoDocumento      string            `json:"tipo_documento"`
	MetadadosExtraidos ExtractedMetadata `json:"metadados_extraidos"`
}

// ProcessedPage mirrors RawPage with augmented publications.
type ProcessedPage struct {
	NumeroPagina int                    `json:"numero_pagina"`
	Metadados    PageMetadata           `json:"metadados"`
	Publicacoes  []ProcessedPublication `json:"publicacoes"`
}

// ProcessedArtifact is the processing stage output.
type ProcessedArtifact struct {
	Schema                int             `json:"schema_version"`
	Data                  string          `json:"data"`
	Secao                 Section         `json:"secao"`
	Paginas               []ProcessedPage `json:"paginas"`
	TimestampProcessament time.Time       `json:"timestamp_processamento"`
}

// Validate checks the artifact shape before a downstream stage consumes it.
func (a *ProcessedArtifact) Validate() error {
	if a == nil {
		return fmt.Errorf("processed artifact is nil")
	}
	if a.Schema != SchemaVersion {
		return fmt.Errorf("unsupported processed artifact schema %d", a.Schema)
	}
	if !dateShape.MatchString(a.Data) {
		return fmt.Errorf("invalid artifact date %q", a.Data)
	}
	if len(a.Paginas) == 0 {
		return fmt.Errorf("processed artifact has no pages")
	}
	for _, p := range a.Paginas {
		for _, pub := range p.Publicacoes {
			if pub.Titulo == "" {
				return fmt.Errorf("publication without title on page %d", p.NumeroPagina)
			}
		}
	}
	return nil
}

// Row is one tabular record of the organized artifact.
type Row struct {
	DataPublicacao    string `json:"data_publicacao"`
	Secao             string `json:"secao"`
	NumeroPagina      int    `json:"numero_pagina"`
	Titulo            string `json:"titulo"`
	Resumo            string `json:"resumo"`
	Entidades         string `json:"entidades"`
	PalavrasChave     string `json:"palavras_chave"`
	TipoDocumento     string `json:"tipo_documento"`
	ID                string `json:"id"`
	DatasMencionadas  string `json:"datas_mencionadas"`
	ValoresMonetarios string `json:"valores_monetarios"`
	NumerosProcessos  string `json:"numeros_processos"`
	CNPJ              string `json:"cnpj"`
	CPF               string `json:"cpf"`
}

// OrganizedArtifact is the organization stage output.
type OrganizedArtifact struct {
	Schema    int       `json:"schema_version"`
	Data      string    `json:"data"`
	Secao     Section   `json:"secao"`
	Rows      []Row     `json:"linhas"`
	CSVRef    string    `json:"csv,omitempty"`
	Timestamp time.Time `json:"timestamp_organizacao"`
}

// Validate checks the artifact shape before the indexing stage consumes it.
func (a *OrganizedArtifact) Validate() error {
	if a == nil {
		return fmt.Errorf("organized artifact is nil")
	}
	if a.Schema != SchemaVersion {
		return fmt.Errorf("unsupported organized artifact schema %d", a.Schema)
	}
	if len(a.Rows) == 0 {
		return fmt.Errorf("organized artifact has no rows")
	}
	for i, r := range a.Rows {
		if r.Titulo == "" {
			return fmt.Errorf("row %d has no title", i)
		}
		if !dateShape.MatchString(r.DataPublicacao) {
			return fmt.Errorf("row %d has invalid publication date %q", i, r.DataPublicacao)
		}
	}
	return nil
}

// IndexAck reports the outcome of an indexing call.
type IndexAck struct {
	Indexed int           `json:"indexados"`
	Took    time.Duration `json:"duracao"`
}
