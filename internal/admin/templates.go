package admin

import (
	"embed"
	"html/template"
	"io"
	"time"
)

//go:embed templates/*.html static/*
var content embed.FS

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format(time.RFC3339)
	},
	"deref": func(n *int) int {
		if n == nil {
			return 0
		}
		return *n
	},
}

// Render renders a page template inside base.html.
func Render(w io.Writer, name string, data any) error {
	tmpl, err := template.New("base.html").Funcs(templateFuncs).ParseFS(content, "templates/base.html", "templates/"+name)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, data)
}
