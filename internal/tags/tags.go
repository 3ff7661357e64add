// Package tags injects Google Analytics (gtag.js) and Google Tag Manager
// snippets into rendered HTML documents.
package tags

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
)

const tagManagerHost = "https://www.googletagmanager.com"

// Inject returns doc with the gtag snippet for ga and the GTM snippets
// for gtm added. Empty IDs are skipped, and so is a snippet the document
// already carries, which makes Inject idempotent. When nothing needs to
// be added doc is returned unchanged.
func Inject(doc []byte, ga, gtm string) ([]byte, error) {
	if ga == "" && gtm == "" {
		return doc, nil
	}

	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, perrors.NewRenderError(perrors.ErrCodeRenderFailed, "failed to parse HTML", err)
	}

	addGA := ga != "" && !hasGA(root, ga)
	addGTM := gtm != "" && !hasGTM(root, gtm)
	if !addGA && !addGTM {
		return doc, nil
	}

	head := findElement(root, atom.Head)
	body := findElement(root, atom.Body)
	if head == nil || body == nil {
		return nil, perrors.NewRenderError(perrors.ErrCodeRenderFailed, "document has no head or body", nil)
	}

	if addGTM {
		prepend(head, script("", gtmSnippet(gtm)))
		prepend(body, gtmNoscript(gtm))
	}
	if addGA {
		head.AppendChild(script(tagManagerHost+"/gtag/js?id="+ga, ""))
		head.AppendChild(script("", gtagSnippet(ga)))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, perrors.NewRenderError(perrors.ErrCodeRenderFailed, "failed to render HTML", err)
	}
	return buf.Bytes(), nil
}

// InjectFile rewrites the HTML file at path in place.
func InjectFile(path, ga, gtm string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return perrors.FileError("read", path, err)
	}
	out, err := Inject(data, ga, gtm)
	if err != nil {
		var e *perrors.Error
		if errors.As(err, &e) {
			return e.WithPath(path)
		}
		return err
	}
	if bytes.Equal(out, data) {
		return nil
	}
	return fsutil.WriteFile(path, out)
}

// InjectTree runs InjectFile over every HTML file below root and returns
// the number of files visited.
func InjectTree(ctx context.Context, root, ga, gtm string) (int, error) {
	if ga == "" && gtm == "" {
		return 0, nil
	}
	files, err := fsutil.Glob(root, "**/*.html")
	if err != nil {
		return 0, err
	}
	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := InjectFile(filepath.Join(root, filepath.FromSlash(rel)), ga, gtm); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

// hasGA reports whether the gtag loader for id is already present.
func hasGA(root *html.Node, id string) bool {
	src := tagManagerHost + "/gtag/js?id=" + id
	return anyElement(root, atom.Script, func(n *html.Node) bool {
		return attr(n, "src") == src
	})
}

// hasGTM reports whether the GTM snippet or its noscript frame for id is
// already present.
func hasGTM(root *html.Node, id string) bool {
	frame := tagManagerHost + "/ns.html?id=" + id
	snippet := gtmSnippet(id)
	return anyElement(root, atom.Iframe, func(n *html.Node) bool {
		return attr(n, "src") == frame
	}) || anyElement(root, atom.Script, func(n *html.Node) bool {
		return n.FirstChild != nil && n.FirstChild.Type == html.TextNode && n.FirstChild.Data == snippet
	})
}

func anyElement(n *html.Node, a atom.Atom, match func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && n.DataAtom == a && match(n) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if anyElement(c, a, match) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func gtagSnippet(id string) string {
	id = template.JSEscapeString(id)
	return fmt.Sprintf("window.dataLayer = window.dataLayer || [];"+
		"function gtag(){dataLayer.push(arguments);}"+
		"gtag('js', new Date());"+
		"gtag('config', '%s');", id)
}

func gtmSnippet(id string) string {
	id = template.JSEscapeString(id)
	return fmt.Sprintf("(function(w,d,s,l,i){w[l]=w[l]||[];w[l].push({'gtm.start':"+
		"new Date().getTime(),event:'gtm.js'});var f=d.getElementsByTagName(s)[0],"+
		"j=d.createElement(s),dl=l!='dataLayer'?'&l='+l:'';j.async=true;j.src="+
		"'%s/gtm.js?id='+i+dl;f.parentNode.insertBefore(j,f);"+
		"})(window,document,'script','dataLayer','%s');", tagManagerHost, id)
}

func gtmNoscript(id string) *html.Node {
	iframe := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Iframe,
		Data:     "iframe",
		Attr: []html.Attribute{
			{Key: "src", Val: tagManagerHost + "/ns.html?id=" + id},
			{Key: "height", Val: "0"},
			{Key: "width", Val: "0"},
			{Key: "style", Val: "display:none;visibility:hidden"},
		},
	}
	noscript := &html.Node{Type: html.ElementNode, DataAtom: atom.Noscript, Data: "noscript"}
	noscript.AppendChild(iframe)
	return noscript
}

func script(src, body string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: atom.Script, Data: "script"}
	if src != "" {
		n.Attr = []html.Attribute{{Key: "async", Val: ""}, {Key: "src", Val: src}}
	}
	if body != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: body})
	}
	return n
}

func prepend(parent, child *html.Node) {
	if parent.FirstChild == nil {
		parent.AppendChild(child)
		return
	}
	parent.InsertBefore(child, parent.FirstChild)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
