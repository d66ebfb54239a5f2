// Package i18n renders user-facing error messages per locale.
package i18n

import (
	"bytes"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
)

// BaseLocale is the fallback locale when no catalog matches.
const BaseLocale = "en-US"

var catalogs = map[string]map[string]string{
	"en-US": messagesEnUS,
	"pt-BR": messagesPtBR,
}

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	messages map[string]string
}

var (
	matcherOnce sync.Once
	matcher     language.Matcher
	tags        []language.Tag
	locales     []string
)

func initMatcher() {
	locales = make([]string, 0, len(catalogs))
	tags = make([]language.Tag, 0, len(catalogs))
	// Base locale must come first so it wins ties.
	locales = append(locales, BaseLocale)
	tags = append(tags, language.MustParse(BaseLocale))
	for locale := range catalogs {
		if locale == BaseLocale {
			continue
		}
		locales = append(locales, locale)
		tags = append(tags, language.MustParse(locale))
	}
	matcher = language.NewMatcher(tags)
}

// GetCatalog returns the catalog best matching the requested locale.
// Falls back to en-US when the locale is unknown.
func GetCatalog(locale string) *Catalog {
	matcherOnce.Do(initMatcher)

	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}
	desired, err := language.Parse(requested)
	if err != nil {
		desired = tags[0]
	}
	_, index, _ := matcher.Match(desired)
	resolved := locales[index]
	return &Catalog{locale: resolved, messages: catalogs[resolved]}
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found.
func (c *Catalog) Format(code string, metadata map[string]string) string {
	raw, ok := c.messages[code]
	if !ok {
		if c.locale != BaseLocale {
			if base, baseOK := catalogs[BaseLocale][code]; baseOK {
				raw = base
				ok = true
			}
		}
		if !ok {
			return code
		}
	}

	tmpl, err := template.New(code).Parse(raw)
	if err != nil {
		return raw
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, metadata); err != nil {
		return raw
	}
	return out.String()
}
