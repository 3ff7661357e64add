// Package config provides configuration management for psbg using Viper
// for loading from .psbg.yml, PSBG_* environment variables and
// command-line flags.
//
// Load returns an immutable Config value constructed once at startup. Every
// pipeline stage receives the value (or the block it needs) explicitly;
// nothing reads shared mutable configuration at run time.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
)

type Config struct {
	Path              PathConfig `mapstructure:"path" yaml:"path"`
	Host              string     `mapstructure:"host" yaml:"host"`
	Port              int        `mapstructure:"port" yaml:"port"`
	Production        bool       `mapstructure:"production" yaml:"production"`
	ArchiveName       string     `mapstructure:"archive_name" yaml:"archive_name"`
	ProductionRootURL string     `mapstructure:"production_root_url" yaml:"production_root_url"`
	JSEntry           string     `mapstructure:"js_entry" yaml:"js_entry"`
	SEO               SEOConfig  `mapstructure:"seo" yaml:"seo"`
	Log               LogConfig  `mapstructure:"log" yaml:"log"`
}

type PathConfig struct {
	Src  SrcPaths  `mapstructure:"src" yaml:"src"`
	Dest DestPaths `mapstructure:"dest" yaml:"dest"`
}

type SrcPaths struct {
	Root string `mapstructure:"root" yaml:"root"`
	HTML string `mapstructure:"html" yaml:"html"`
	CSS  string `mapstructure:"css" yaml:"css"`
	Img  string `mapstructure:"img" yaml:"img"`
	JS   string `mapstructure:"js" yaml:"js"`
	Data string `mapstructure:"data" yaml:"data"`
}

type DestPaths struct {
	Root string `mapstructure:"root" yaml:"root"`
	HTML string `mapstructure:"html" yaml:"html"`
	CSS  string `mapstructure:"css" yaml:"css"`
	Img  string `mapstructure:"img" yaml:"img"`
	JS   string `mapstructure:"js" yaml:"js"`
}

type SEOConfig struct {
	GA    string      `mapstructure:"ga" yaml:"ga"`
	GTM   string      `mapstructure:"gtm" yaml:"gtm"`
	Metas MetasConfig `mapstructure:"metas" yaml:"metas"`
}

type MetasConfig struct {
	List []string   `mapstructure:"list" yaml:"list"`
	Meta MetaConfig `mapstructure:"meta" yaml:"meta"`
}

type MetaConfig struct {
	Title        string       `mapstructure:"title" yaml:"title"`
	Description  string       `mapstructure:"description" yaml:"description"`
	Author       string       `mapstructure:"author" yaml:"author"`
	Keywords     []string     `mapstructure:"keywords" yaml:"keywords"`
	Robots       RobotsConfig `mapstructure:"robots" yaml:"robots"`
	RevisitAfter string       `mapstructure:"revisit_after" yaml:"revisit_after"`
	Image        string       `mapstructure:"image" yaml:"image"`
	SiteName     string       `mapstructure:"site_name" yaml:"site_name"`
	Type         string       `mapstructure:"type" yaml:"type"`
}

type RobotsConfig struct {
	Index  bool `mapstructure:"index" yaml:"index"`
	Follow bool `mapstructure:"follow" yaml:"follow"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when no file, flag or
// environment variable overrides a setting.
func Default() Config {
	return Config{
		Path: PathConfig{
			Src: SrcPaths{
				Root: "src/",
				HTML: "src/html/",
				CSS:  "src/css/",
				Img:  "src/img/",
				JS:   "src/js/",
				Data: "src/data/",
			},
			Dest: DestPaths{
				Root: "dist/",
				HTML: "dist/",
				CSS:  "dist/assets/css/",
				Img:  "dist/assets/img/",
				JS:   "dist/assets/js/",
			},
		},
		Host:              "localhost",
		Port:              8000,
		ArchiveName:       "archive",
		ProductionRootURL: "https://example.com/",
		JSEntry:           "app.js",
		SEO: SEOConfig{
			Metas: MetasConfig{
				List: []string{"og", "se", "schema", "twitter"},
				Meta: MetaConfig{
					Robots:       RobotsConfig{Index: true, Follow: true},
					RevisitAfter: "1 month",
					Type:         "website",
				},
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every key of Default on v. Viper only consults
// the environment for keys it knows, so this is what makes
// PSBG_PATH_SRC_HTML and friends take effect.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]interface{}{
		"path.src.root":                d.Path.Src.Root,
		"path.src.html":                d.Path.Src.HTML,
		"path.src.css":                 d.Path.Src.CSS,
		"path.src.img":                 d.Path.Src.Img,
		"path.src.js":                  d.Path.Src.JS,
		"path.src.data":                d.Path.Src.Data,
		"path.dest.root":               d.Path.Dest.Root,
		"path.dest.html":               d.Path.Dest.HTML,
		"path.dest.css":                d.Path.Dest.CSS,
		"path.dest.img":                d.Path.Dest.Img,
		"path.dest.js":                 d.Path.Dest.JS,
		"host":                         d.Host,
		"port":                         d.Port,
		"production":                   d.Production,
		"archive_name":                 d.ArchiveName,
		"production_root_url":          d.ProductionRootURL,
		"js_entry":                     d.JSEntry,
		"seo.ga":                       d.SEO.GA,
		"seo.gtm":                      d.SEO.GTM,
		"seo.metas.list":               d.SEO.Metas.List,
		"seo.metas.meta.title":         d.SEO.Metas.Meta.Title,
		"seo.metas.meta.description":   d.SEO.Metas.Meta.Description,
		"seo.metas.meta.author":        d.SEO.Metas.Meta.Author,
		"seo.metas.meta.keywords":      d.SEO.Metas.Meta.Keywords,
		"seo.metas.meta.robots.index":  d.SEO.Metas.Meta.Robots.Index,
		"seo.metas.meta.robots.follow": d.SEO.Metas.Meta.Robots.Follow,
		"seo.metas.meta.revisit_after": d.SEO.Metas.Meta.RevisitAfter,
		"seo.metas.meta.image":         d.SEO.Metas.Meta.Image,
		"seo.metas.meta.site_name":     d.SEO.Metas.Meta.SiteName,
		"seo.metas.meta.type":          d.SEO.Metas.Meta.Type,
		"log.level":                    d.Log.Level,
		"log.format":                   d.Log.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load unmarshals the viper state into a Config, fills unset values from
// Default and validates the result. A nil v uses the global viper.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, perrors.NewConfigError(perrors.ErrCodeConfigInvalid, "failed to decode configuration", err)
	}

	applyDefaults(v, &cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyDefaults restores defaults for values explicitly set to zero values
// by an empty config key, which viper decodes over the defaults.
func applyDefaults(v *viper.Viper, cfg *Config) {
	def := Default()

	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = fallback
		}
	}

	fill(&cfg.Path.Src.Root, def.Path.Src.Root)
	fill(&cfg.Path.Src.HTML, def.Path.Src.HTML)
	fill(&cfg.Path.Src.CSS, def.Path.Src.CSS)
	fill(&cfg.Path.Src.Img, def.Path.Src.Img)
	fill(&cfg.Path.Src.JS, def.Path.Src.JS)
	fill(&cfg.Path.Src.Data, def.Path.Src.Data)
	fill(&cfg.Path.Dest.Root, def.Path.Dest.Root)
	fill(&cfg.Path.Dest.HTML, def.Path.Dest.HTML)
	fill(&cfg.Path.Dest.CSS, def.Path.Dest.CSS)
	fill(&cfg.Path.Dest.Img, def.Path.Dest.Img)
	fill(&cfg.Path.Dest.JS, def.Path.Dest.JS)
	fill(&cfg.Host, def.Host)
	fill(&cfg.ArchiveName, def.ArchiveName)
	fill(&cfg.ProductionRootURL, def.ProductionRootURL)
	fill(&cfg.JSEntry, def.JSEntry)
	fill(&cfg.Log.Level, def.Log.Level)
	fill(&cfg.Log.Format, def.Log.Format)

	// Handle production set via viper (workaround for viper bool handling of env strings)
	if v.IsSet("production") {
		cfg.Production = v.GetBool("production")
	}
}

// Validate checks the configuration for values that would make a stage
// misbehave, collecting every problem before returning.
func Validate(cfg Config) error {
	vec := &perrors.ValidationErrorCollection{}

	if cfg.Port < 0 || cfg.Port > 65535 {
		vec.AddField("port", cfg.Port, fmt.Sprintf("port %d is not in valid range 0-65535", cfg.Port),
			"Common development ports: 3000, 8000, 8080")
	}

	if strings.ContainsAny(cfg.Host, " ;&|$`()<>\"'\\") {
		vec.AddField("host", cfg.Host, "host contains invalid characters")
	}

	validateDestRoot(vec, cfg.Path.Dest.Root)
	validateDestOverlap(vec, cfg.Path)

	sources := map[string]string{
		"path.src.html": cfg.Path.Src.HTML,
		"path.src.css":  cfg.Path.Src.CSS,
		"path.src.img":  cfg.Path.Src.Img,
		"path.src.js":   cfg.Path.Src.JS,
		"path.src.data": cfg.Path.Src.Data,
	}
	for _, field := range sortedKeys(sources) {
		if strings.ContainsRune(sources[field], 0) {
			vec.AddField(field, sources[field], "path contains a NUL byte")
		}
	}

	dests := map[string]string{
		"path.dest.html": cfg.Path.Dest.HTML,
		"path.dest.css":  cfg.Path.Dest.CSS,
		"path.dest.img":  cfg.Path.Dest.Img,
		"path.dest.js":   cfg.Path.Dest.JS,
	}
	for _, field := range sortedKeys(dests) {
		if !Within(cfg.Path.Dest.Root, dests[field]) {
			vec.AddField(field, dests[field], "output path must be inside path.dest.root",
				"Use a path below "+cfg.Path.Dest.Root)
		}
	}

	if u, err := url.Parse(cfg.ProductionRootURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		vec.AddField("production_root_url", cfg.ProductionRootURL, "must be an absolute http(s) URL",
			"Example: https://example.com/")
	}

	if cfg.ArchiveName == "" || strings.ContainsAny(cfg.ArchiveName, `/\`) {
		vec.AddField("archive_name", cfg.ArchiveName, "must be a plain file name without separators")
	}

	if filepath.IsAbs(cfg.JSEntry) {
		vec.AddField("js_entry", cfg.JSEntry, "must be relative to path.src.js")
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		vec.AddField("log.level", cfg.Log.Level, err.Error(), "Use one of: debug, info, warn, error")
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		vec.AddField("log.format", cfg.Log.Format, "must be text or json")
	}

	return vec.ToError()
}

// validateDestRoot rejects output roots that clean would be dangerous on.
func validateDestRoot(vec *perrors.ValidationErrorCollection, root string) {
	clean := filepath.Clean(root)
	switch {
	case strings.TrimSpace(root) == "":
		vec.AddField("path.dest.root", root, "must not be empty")
	case clean == "." || clean == string(filepath.Separator) || filepath.VolumeName(clean)+string(filepath.Separator) == clean:
		vec.AddField("path.dest.root", root, "must be a dedicated output directory",
			"The output root is removed before every build")
	case filepath.IsAbs(clean):
		vec.AddField("path.dest.root", root, "should be relative path")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		vec.AddField("path.dest.root", root, "contains path traversal")
	}
}

// validateDestOverlap rejects an output root that contains, or lies
// inside, a source directory. clean would otherwise remove sources.
func validateDestOverlap(vec *perrors.ValidationErrorCollection, paths PathConfig) {
	if strings.TrimSpace(paths.Dest.Root) == "" {
		return
	}
	dest := absClean(paths.Dest.Root)
	sources := map[string]string{
		"path.src.root": paths.Src.Root,
		"path.src.html": paths.Src.HTML,
		"path.src.css":  paths.Src.CSS,
		"path.src.img":  paths.Src.Img,
		"path.src.js":   paths.Src.JS,
		"path.src.data": paths.Src.Data,
	}
	for _, field := range sortedKeys(sources) {
		if strings.TrimSpace(sources[field]) == "" {
			continue
		}
		src := absClean(sources[field])
		if Within(dest, src) || Within(src, dest) {
			vec.AddField("path.dest.root", paths.Dest.Root, "must not overlap "+field+" ("+sources[field]+")",
				"The output root is removed before every build")
			return
		}
	}
}

func absClean(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// Within reports whether path lies inside (or equals) root.
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// LoggerConfig converts the log block to a logging configuration.
func (c Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = level
	}
	lc.Format = c.Log.Format
	return lc
}

// Address returns the dev server listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ArchivePath returns the file name ship writes.
func (c Config) ArchivePath() string {
	return c.ArchiveName + ".zip"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
