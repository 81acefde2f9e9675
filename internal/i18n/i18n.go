// Package i18n loads the display texts for validity rules and the rest of the
// user facing strings, in every language shipped under locales/.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/matt-riley/yomu/internal/logging"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	DirectionLTR = "ltr"
	DirectionRTL = "rtl"
)

var rtlScripts = map[string]bool{
	"Adlm": true,
	"Arab": true,
	"Hebr": true,
	"Mand": true,
	"Nkoo": true,
	"Rohg": true,
	"Samr": true,
	"Syrc": true,
	"Thaa": true,
}

type Translator struct {
	bundle    *goi18n.Bundle
	supported []language.Tag
	matcher   language.Matcher
	logger    *slog.Logger
}

// New builds a Translator from the embedded locale files. defaultLang is used
// when nothing in a request matches a shipped locale.
func New(defaultLang string, logger *slog.Logger) (*Translator, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	defaultTag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("parse default language %q: %w", defaultLang, err)
	}

	bundle := goi18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	supported := []language.Tag{defaultTag}
	foundDefault := false
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".json") {
			logger.Debug("skipping locale file", "file", name)
			continue
		}

		file, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name)
		if err != nil {
			return nil, fmt.Errorf("load locale %s: %w", name, err)
		}
		if file.Tag == defaultTag {
			foundDefault = true
			continue
		}
		supported = append(supported, file.Tag)
		logger.Debug("locale loaded", "lang", file.Tag.String(), "messages", len(file.Messages))
	}
	if !foundDefault {
		return nil, fmt.Errorf("no locale file for default language %q", defaultLang)
	}

	return &Translator{
		bundle:    bundle,
		supported: supported,
		matcher:   language.NewMatcher(supported),
		logger:    logger,
	}, nil
}

func (t *Translator) Languages() []string {
	langs := make([]string, 0, len(t.supported))
	for _, tag := range t.supported {
		langs = append(langs, tag.String())
	}
	return langs
}

// Match picks the shipped locale that best fits an Accept-Language header or a
// stored preference. Unparseable or unsupported input yields the default.
func (t *Translator) Match(preferences ...string) string {
	var tags []language.Tag
	for _, preference := range preferences {
		if preference == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(preference)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return t.supported[0].String()
	}

	_, index, confidence := t.matcher.Match(tags...)
	if confidence == language.No {
		return t.supported[0].String()
	}
	return t.supported[index].String()
}

// Localize returns the message for key in lang. A missing message returns the
// key itself so callers can always render something.
func (t *Translator) Localize(lang, key string) string {
	return t.LocalizeData(lang, key, nil)
}

func (t *Translator) LocalizeData(lang, key string, data map[string]any) string {
	localizer := goi18n.NewLocalizer(t.bundle, lang)
	msg, err := localizer.Localize(&goi18n.LocalizeConfig{MessageID: key, TemplateData: data})
	if err != nil {
		t.logger.Debug("translation missing", "key", key, "lang", lang, "error", err)
		return key
	}
	return msg
}

// Direction reports the text direction for a language tag.
func Direction(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return DirectionLTR
	}
	script, _ := tag.Script()
	if rtlScripts[script.String()] {
		return DirectionRTL
	}
	return DirectionLTR
}
