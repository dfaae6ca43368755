package extract

import (
	"fmt"
	"strings"
)

const fieldSchema = `{
  "nome_scuola": "full name of the school",
  "indirizzo": "street address of the school",
  "citta": "city",
  "data_fine_incarico": "end date of the engagement",
  "classe_di_concorso": "competition class code, e.g. A028",
  "numero_di_ore": "weekly hours as an integer",
  "tipo_cattedra": "type of position (cattedra interna, spezzone, ...)"
}`

func articleLinksPrompt(baseURL string, labels []string) string {
	quoted := make([]string, len(labels))
	for i, label := range labels {
		quoted[i] = fmt.Sprintf("%q", label)
	}
	return fmt.Sprintf(`You are reading a listing page of an Italian school office (%s).
Return the URLs of the individual "interpello" notice articles listed on the page.
Ignore navigation, pagination and footer links. Do not return links whose visible
text is exactly one of: %s.
Answer with a JSON array of absolute URLs and nothing else.`, baseURL, strings.Join(quoted, ", "))
}

func analyzeArticlePrompt(baseURL string) string {
	return fmt.Sprintf(`You are reading one "interpello" notice published at %s.
If the page links to the notice document, return every such link, split into:
- "file_links": direct links to files (PDF, DOC, ...);
- "gdrive_links": Google Drive or Google Docs links;
- "portal_links": links to third-party school portals hosting the notice.
Only when there is no link of any kind, extract the notice directly from the page
text into "extracted_data" using this schema (object, or array for several notices):
%s
Answer with one JSON object with the keys file_links, gdrive_links, portal_links
and extracted_data (null when links were found).`, baseURL, fieldSchema)
}

func extractFieldsPrompt() string {
	return `Extract every substitute-teacher vacancy ("interpello") described in this content.
For each vacancy return an object with this schema:
` + fieldSchema + `
Use null for unknown values. Answer with a JSON array of objects and nothing else.`
}
