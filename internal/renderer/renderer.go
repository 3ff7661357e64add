// Package renderer renders the site's page templates to HTML.
//
// Pages are html/template files and Markdown documents under the template
// root. Files whose base name starts with an underscore are partials and
// layouts: they are parsed into a shared template set, addressable by
// their slash path relative to the template root, and never written on
// their own.
//
// Every page is executed with a context carrying relativeRoot (the "../"
// prefix leading from the page back to the site root), siteMeta, seo and
// production. Markdown pages additionally get page (their YAML front
// matter) and content (the rendered body) and are wrapped in a layout.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	mcss "github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"
	mjs "github.com/tdewolff/minify/v2/js"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kohki-shikata/psbg-boilerplate/internal/config"
	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
	"github.com/kohki-shikata/psbg-boilerplate/internal/relroot"
	"github.com/kohki-shikata/psbg-boilerplate/internal/tags"
)

// DefaultLayout wraps Markdown pages that do not name a layout.
const DefaultLayout = "_layout.html"

// SourcePattern selects page and partial sources below the template root.
const SourcePattern = "**/*.{html,md}"

// Options configures a Renderer.
type Options struct {
	SrcDir     string
	DestDir    string
	SiteMeta   config.SiteMeta
	SEO        config.SEOConfig
	Production bool
	Logger     logging.Logger
}

// Renderer renders every page below SrcDir into DestDir.
type Renderer struct {
	opts     Options
	logger   logging.Logger
	markdown goldmark.Markdown
	minifier *minify.M
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.SiteMeta == nil {
		opts.SiteMeta = config.SiteMeta{}
	}

	m := minify.New()
	m.AddFunc("text/css", mcss.Minify)
	m.AddFunc("text/html", mhtml.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), mjs.Minify)

	return &Renderer{
		opts:   opts,
		logger: logger.WithComponent("renderer"),
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		minifier: m,
	}
}

// Page is one rendered output document.
type Page struct {
	Source       string
	Output       string
	RelativeRoot string
}

// RenderAll renders every page and returns what was written.
func (r *Renderer) RenderAll(ctx context.Context) ([]Page, error) {
	sources, err := fsutil.Glob(r.opts.SrcDir, SourcePattern)
	if err != nil {
		return nil, err
	}
	entries, partials := fsutil.Split(sources)

	base, err := r.parsePartials(partials)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(entries))
	for _, rel := range entries {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		page, err := r.renderFile(base, rel)
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
		r.logger.Debug(ctx, "Rendered page", "source", rel, "output", page.Output, "relative_root", page.RelativeRoot)
	}

	r.logger.Info(ctx, "Rendered pages", "count", len(pages))
	return pages, nil
}

// parsePartials builds the shared template set from the partial sources.
func (r *Renderer) parsePartials(partials []string) (*template.Template, error) {
	base := template.New("").Funcs(Funcs())
	for _, rel := range partials {
		src, err := r.read(rel)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(path.Ext(rel), ".md") {
			continue
		}
		if _, err := base.New(rel).Parse(string(src)); err != nil {
			return nil, renderError("failed to parse partial", rel, err)
		}
	}
	return base, nil
}

func (r *Renderer) renderFile(base *template.Template, rel string) (Page, error) {
	src, err := r.read(rel)
	if err != nil {
		return Page{}, err
	}

	data := r.contextFor(rel)

	var out []byte
	if strings.EqualFold(path.Ext(rel), ".md") {
		out, err = r.renderMarkdown(base, rel, src, data)
	} else {
		out, err = r.renderHTML(base, rel, src, data)
	}
	if err != nil {
		return Page{}, err
	}

	out, err = r.postProcess(rel, out)
	if err != nil {
		return Page{}, err
	}

	outRel := fsutil.ReplaceExt(rel, ".html")
	if err := fsutil.WriteFile(filepath.Join(r.opts.DestDir, filepath.FromSlash(outRel)), out); err != nil {
		return Page{}, err
	}

	return Page{Source: rel, Output: outRel, RelativeRoot: data["relativeRoot"].(string)}, nil
}

// contextFor builds the template data for the page at rel.
func (r *Renderer) contextFor(rel string) map[string]interface{} {
	return map[string]interface{}{
		"relativeRoot": relroot.Resolve("/" + rel),
		"siteMeta":     r.opts.SiteMeta,
		"seo":          r.opts.SEO,
		"production":   r.opts.Production,
		"page":         map[string]interface{}{},
	}
}

func (r *Renderer) renderHTML(base *template.Template, rel string, src []byte, data map[string]interface{}) ([]byte, error) {
	t, err := base.Clone()
	if err != nil {
		return nil, renderError("failed to clone template set", rel, err)
	}
	if _, err := t.New(rel).Parse(string(src)); err != nil {
		return nil, renderError("failed to parse template", rel, err)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, rel, data); err != nil {
		return nil, renderError("failed to execute template", rel, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderMarkdown(base *template.Template, rel string, src []byte, data map[string]interface{}) ([]byte, error) {
	fm, body, err := SplitFrontMatter(src)
	if err != nil {
		return nil, renderError("invalid front matter", rel, err)
	}

	var content bytes.Buffer
	if err := r.markdown.Convert(body, &content); err != nil {
		return nil, renderError("failed to convert markdown", rel, err)
	}

	layout, explicit := layoutFor(fm)
	if layout == "" || base.Lookup(layout) == nil {
		if explicit && layout != "" {
			return nil, renderError(fmt.Sprintf("layout %q not found", layout), rel, nil)
		}
		return content.Bytes(), nil
	}

	data["page"] = fm
	data["content"] = template.HTML(content.String())

	t, err := base.Clone()
	if err != nil {
		return nil, renderError("failed to clone template set", rel, err)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layout, data); err != nil {
		return nil, renderError("failed to execute layout "+layout, rel, err)
	}
	return buf.Bytes(), nil
}

// layoutFor returns the layout named by front matter. A missing key falls
// back to DefaultLayout; "none" or an empty value disables the layout.
func layoutFor(fm map[string]interface{}) (name string, explicit bool) {
	v, ok := fm["layout"]
	if !ok {
		return DefaultLayout, false
	}
	s, _ := v.(string)
	if s == "none" {
		return "", true
	}
	return s, true
}

func (r *Renderer) postProcess(rel string, out []byte) ([]byte, error) {
	out, err := tags.Inject(out, r.opts.SEO.GA, r.opts.SEO.GTM)
	if err != nil {
		return nil, renderError("failed to inject analytics tags", rel, err)
	}

	if !r.opts.Production {
		return out, nil
	}

	minified, err := r.minifier.Bytes("text/html", out)
	if err != nil {
		return nil, renderError("failed to minify html", rel, err)
	}
	return minified, nil
}

func (r *Renderer) read(rel string) ([]byte, error) {
	p := filepath.Join(r.opts.SrcDir, filepath.FromSlash(rel))
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, perrors.FileError("read", p, err).WithStage("html")
	}
	return data, nil
}

func renderError(msg, rel string, cause error) *perrors.Error {
	return perrors.NewRenderError(perrors.ErrCodeRenderFailed, msg, cause).WithPath(rel).WithStage("html")
}

// Funcs returns the functions available to every template.
func Funcs() template.FuncMap {
	titler := cases.Title(language.Und)
	return template.FuncMap{
		"title": func(s string) string { return titler.String(s) },
		"join":  join,
		"asset": func(relativeRoot, p string) string {
			return relativeRoot + strings.TrimPrefix(p, "/")
		},
	}
}

// join concatenates a []string or a decoded JSON array with sep.
func join(sep string, items interface{}) string {
	switch v := items.(type) {
	case []string:
		return strings.Join(v, sep)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, sep)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
