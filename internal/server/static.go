package server

import (
	"bytes"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// liveReloadScript connects to the hub and reacts to its messages.
const liveReloadScript = `<script>(function(){` +
	`var proto=location.protocol==="https:"?"wss://":"ws://";` +
	`function connect(){var ws=new WebSocket(proto+location.host+"` + WebSocketPath + `");` +
	`ws.onmessage=function(e){var m=JSON.parse(e.data);` +
	`if(m.type==="css_update"){document.querySelectorAll('link[rel="stylesheet"]').forEach(function(l){` +
	`var u=new URL(l.href);u.searchParams.set("_psbg",Date.now());l.href=u.toString();});}` +
	`else if(m.type==="full_reload"){location.reload();}` +
	`else if(m.type==="build_error"){console.error("psbg: build failed",m.stages,m.content);}};` +
	`ws.onclose=function(){setTimeout(connect,1000);};}connect();})();</script>`

// staticHandler serves files below the root. HTML documents get the live
// reload client; while the last rebuild is failing they get the overlay.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.opts.Root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		file, ok := s.resolveHTML(r.URL.Path)
		if !ok {
			files.ServeHTTP(w, r)
			return
		}

		if err := s.LastError(); err != nil {
			s.overlayHandler(err).ServeHTTP(w, r)
			return
		}

		data, err := os.ReadFile(file)
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}

		out, err := InjectLiveReload(data)
		if err != nil {
			s.logger.Warn(r.Context(), err, "Live reload injection failed", "path", r.URL.Path)
			out = data
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
		w.Header().Set("Cache-Control", "no-cache")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(out)
	})
}

// resolveHTML maps a request path to an HTML file below the root.
// Directory requests resolve to their index.html.
func (s *Server) resolveHTML(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	if strings.HasSuffix(urlPath, "/") {
		clean = path.Join(clean, "index.html")
	}
	if ext := strings.ToLower(path.Ext(clean)); ext != ".html" && ext != ".htm" {
		return "", false
	}

	file := filepath.Join(s.opts.Root, filepath.FromSlash(clean))
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return "", false
	}
	return file, true
}

// InjectLiveReload appends the live reload client to the document body.
// Documents that already carry it are returned unchanged.
func InjectLiveReload(doc []byte) ([]byte, error) {
	if bytes.Contains(doc, []byte(WebSocketPath)) {
		return doc, nil
	}

	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	body := findBody(root)
	if body == nil {
		return append(append([]byte{}, doc...), liveReloadScript...), nil
	}

	fragment, err := html.ParseFragment(strings.NewReader(liveReloadScript), body)
	if err != nil {
		return nil, err
	}
	for _, n := range fragment {
		body.AppendChild(n)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBody(c); found != nil {
			return found
		}
	}
	return nil
}
