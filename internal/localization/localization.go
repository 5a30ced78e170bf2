// Package localization holds the admin notice bundles sent to Telegram, one
// JSON file per language (pt-BR and en ship with the binary).
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// DefaultLanguage backs any notice missing from the configured locale.
const DefaultLanguage = "en"

//go:embed locales/*.json
var bundled embed.FS

// Localizer maps a locale to its notice templates. Bundles are read once and
// never mutated, so lookups need no locking.
type Localizer struct {
	bundles map[string]map[string]string
}

// New returns a Localizer over the bundles embedded in the binary.
func New() (*Localizer, error) {
	return NewLocalizer(bundled, "locales")
}

// NewLocalizer reads every "<locale>.json" bundle found in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("list notice bundles in %s: %w", dir, err)
	}

	l := &Localizer{bundles: make(map[string]map[string]string, len(entries))}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read notice bundle %s: %w", name, err)
		}
		var notices map[string]string
		if err := json.Unmarshal(raw, &notices); err != nil {
			return nil, fmt.Errorf("decode notice bundle %s: %w", name, err)
		}
		l.bundles[strings.TrimSuffix(name, ".json")] = notices
	}
	return l, nil
}

// GetString returns the template for notice key in locale. A notice the
// locale lacks comes from the English bundle; an unknown notice renders as
// its key so a missing translation still reaches the admin chat.
func (l *Localizer) GetString(locale, key string) string {
	for _, candidate := range []string{locale, DefaultLanguage} {
		if tmpl, ok := l.bundles[candidate][key]; ok {
			return tmpl
		}
	}
	return key
}

// Format renders notice key in locale with fmt.Sprintf.
func (l *Localizer) Format(locale, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(locale, key), args...)
}
