package config

var provinces = []struct {
	name      string
	subdomain string
}{
	{"Bergamo", "bergamo"},
	{"Como", "como"},
	{"Cremona", "cremona"},
	{"Lecco", "lecco"},
	{"Lodi", "lodi"},
	{"Mantova", "mantova"},
	{"Milano", "milano"},
	{"Monza e Brianza", "monza"},
	{"Pavia", "pavia"},
	{"Sondrio", "sondrio"},
	{"Varese", "varese"},
}

// defaultPortalHosts lists the third-party school portals whose pages carry
// the notice itself rather than a downloadable document.
var defaultPortalHosts = []string{
	"*.spaggiari.eu",
	"*.portaleargo.it",
	"*.madisoft.it",
	"*.axioscloud.it",
	"*.trasparenzascuole.it",
	"*.halleyweb.com",
}

func defaultRegions() []map[string]any {
	out := make([]map[string]any, 0, len(provinces))
	for _, p := range provinces {
		out = append(out, map[string]any{
			"name": p.name,
			"url":  "https://" + p.subdomain + ".istruzionelombardia.gov.it/argomento/interpelli-ricerca-supplenti/",
		})
	}
	return out
}
