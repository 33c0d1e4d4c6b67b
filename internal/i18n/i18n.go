// Package i18n resolves user-facing USSD text by key and language.
//
// The catalog is an embedded YAML document mapping each key to one template
// per language. A Catalog is read-only after construction and safe for
// concurrent use.
package i18n

import (
	_ "embed"
	"fmt"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Default is the fallback language for missing translations.
const Default = "en"

// Supported languages in menu order.
var supported = []language.Tag{
	language.English,
	language.Make("lg"),
	language.Swahili,
}

var matcher = language.NewMatcher(supported)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog holds key → language → template.
type Catalog struct {
	entries map[string]map[string]string
}

// New parses the embedded catalog.
func New() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a Catalog from YAML. Every key must carry a template for the
// default language.
func Parse(data []byte) (*Catalog, error) {
	var entries map[string]map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("i18n: parse catalog: %w", err)
	}
	var missing []string
	for key, byLang := range entries {
		if _, ok := byLang[Default]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("i18n: keys without %q text: %v", Default, missing)
	}
	return &Catalog{entries: entries}, nil
}

// Translate returns the template for key in lang, falling back to the
// default language. A missing key yields "[key]".
func (c *Catalog) Translate(key, lang string) string {
	byLang, ok := c.entries[key]
	if !ok {
		return "[" + key + "]"
	}
	if s, ok := byLang[lang]; ok {
		return s
	}
	return byLang[Default]
}

// Format translates key and applies fmt.Sprintf with args.
func (c *Catalog) Format(key, lang string, args ...any) string {
	return fmt.Sprintf(c.Translate(key, lang), args...)
}

// Has reports whether key exists.
func (c *Catalog) Has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Languages returns the supported language codes in menu order.
func Languages() []string {
	out := make([]string, len(supported))
	for i, t := range supported {
		out[i] = t.String()
	}
	return out
}

// Match maps a BCP 47 tag such as "sw-KE" or "lg-UG" onto a supported
// language, defaulting to English. Configured languages pass through it.
func Match(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return Default
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return Default
	}
	return supported[idx].String()
}

// Amount formats v with the digit grouping of lang.
func Amount(lang string, v int64) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag).Sprintf("%d", v)
}
