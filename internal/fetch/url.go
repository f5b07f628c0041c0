package fetch

import (
	"fmt"
	"net/url"

	"github.com/openlexbr/douflow/internal/pipeline"
)

// sectionParam maps a Section to the reader's secao query value.
func sectionParam(s pipeline.Section) string {
	switch s {
	case pipeline.Section1:
		return "do1"
	case pipeline.Section2:
		return "do2"
	case pipeline.Section3:
		return "do3"
	case pipeline.SectionExtra:
		return "doe"
	default:
		return "do3"
	}
}

// PageURL builds the reader URL for one page of a gazette edition. The
// reader expects the date in DD-MM-YYYY form.
func PageURL(baseURL string, req pipeline.FetchRequest) string {
	q := url.Values{}
	q.Set("data", req.Date.Format(pipeline.InputDateLayout))
	q.Set("secao", sectionParam(req.Section))
	if req.Page > 1 {
		q.Set("pagina", fmt.Sprintf("%d", req.Page))
	}
	return baseURL + "?" + q.Encode()
}
