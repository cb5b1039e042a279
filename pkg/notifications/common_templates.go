package notifications

import (
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const defaultTemplate = "default"

var commonTemplates = map[string]string{
	`default`: `{{.Message}}`,

	`detailed`: `[{{ToUpper .Type}}] {{.Device}}: {{.Message}}`,

	`timestamped`: `{{Timestamp .Timestamp}} {{Title .Type}} on {{.Device}}: {{.Message}}`,
}

// templateFuncs are the helpers available to relay templates.
var templateFuncs = template.FuncMap{
	"ToUpper":   strings.ToUpper,
	"ToLower":   strings.ToLower,
	"Title":     cases.Title(language.English).String,
	"Timestamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}
