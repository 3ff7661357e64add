package server

import (
	"context"
	"io"
	"net/http"

	"github.com/a-h/templ"
)

// ErrorOverlay renders the page shown while the last rebuild is failing.
func ErrorOverlay(stages []string, message string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, overlayHead); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<h1>Build failed</h1><ul class=\"stages\">"); err != nil {
			return err
		}
		for _, stage := range stages {
			if _, err := io.WriteString(w, "<li>"+templ.EscapeString(stage)+"</li>"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</ul><pre>"+templ.EscapeString(message)+"</pre>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<p>The page reloads when the next rebuild succeeds.</p>"); err != nil {
			return err
		}
		_, err := io.WriteString(w, liveReloadScript+"</body></html>")
		return err
	})
}

func (s *Server) overlayHandler(err error) http.Handler {
	return templ.Handler(ErrorOverlay(failedStages(err), err.Error()), templ.WithStatus(http.StatusInternalServerError))
}

const overlayHead = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Build failed</title>` +
	`<style>body{font-family:monospace;background:#1e1e1e;color:#eee;padding:2em}` +
	`h1{color:#ff6b6b}pre{white-space:pre-wrap;background:#2d2d2d;padding:1em}` +
	`.stages li{color:#ffd166}</style></head><body>`
