package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openlexbr/douflow/internal/index"
)

// newBuscaCmd queries the local search index.
func newBuscaCmd() *cobra.Command {
	var (
		dataInicio string
		dataFim    string
		section    string
		tipo       string
		max        int
	)
	cmd := &cobra.Command{
		Use:   "busca <termos>",
		Short: "Searches indexed publications by full text",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &usageError{msg: "busca requires at least one search term"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg, "", logger)
			if err != nil {
				return err
			}
			defer a.Close()

			q := index.Query{
				Text:          strings.Join(args, " "),
				DataInicio:    dataInicio,
				DataFim:       dataFim,
				Secao:         section,
				TipoDocumento: tipo,
				Max:           max,
			}
			result, err := a.indexer.Search(ctx, q)
			if err != nil {
				return fmt.Errorf("busca: %w", err)
			}

			cmd.Printf("%d resultado(s) em %s\n", result.Total, result.Took)
			for i, hit := range result.Hits {
				row := hit.Source
				cmd.Printf("%d. [%s secao %s p.%d] %s (score %.2f)\n",
					i+1, row.DataPublicacao, row.Secao, row.NumeroPagina, row.Titulo, hit.Score)
				if row.Resumo != "" {
					cmd.Printf("   %s\n", row.Resumo)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataInicio, "data-inicio", "", "earliest publication date, YYYY-MM-DD")
	cmd.Flags().StringVar(&dataFim, "data-fim", "", "latest publication date, YYYY-MM-DD")
	cmd.Flags().StringVar(&section, "secao", "", "restrict to one gazette section")
	cmd.Flags().StringVar(&tipo, "tipo", "", "restrict to one document type")
	cmd.Flags().IntVar(&max, "max", 10, "maximum number of hits")
	return cmd
}
