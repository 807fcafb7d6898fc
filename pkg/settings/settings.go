// Package settings parses the storefront-supplied infinite scroll settings.
//
// Settings arrive as a JSON object in the data-infinite-scroll-settings
// attribute rendered by the theme block. Parsing never fails: unknown keys are
// ignored and values of the wrong type fall back to their defaults.
package settings

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// Attribute is the element attribute carrying the settings payload.
const Attribute = "data-infinite-scroll-settings"

// Default labels.
const (
	DefaultManualTriggerLabel = "Load More Products"
	DefaultLoadingLabel       = "Loading..."
	DefaultExhaustedLabel     = "No more products"
	DefaultErrorLabel         = "Error loading products. Try again."
)

// Settings is the immutable configuration of a scroll session.
type Settings struct {
	// AutoScrollEnabled loads the next page when the sentinel nears the viewport.
	AutoScrollEnabled bool

	// ManualTriggerEnabled renders a "load more" button.
	ManualTriggerEnabled bool

	// URLSyncEnabled pushes each loaded page URL into the session history.
	URLSyncEnabled bool

	ManualTriggerLabel string
	LoadingLabel       string
	ExhaustedLabel     string
	ErrorLabel         string

	// ShowExhaustedMessage renders the end-of-results message.
	ShowExhaustedMessage bool
}

// Default returns the documented defaults.
func Default() Settings {
	return Settings{
		AutoScrollEnabled:    true,
		ManualTriggerEnabled: false,
		URLSyncEnabled:       false,
		ManualTriggerLabel:   DefaultManualTriggerLabel,
		LoadingLabel:         DefaultLoadingLabel,
		ExhaustedLabel:       DefaultExhaustedLabel,
		ErrorLabel:           DefaultErrorLabel,
		ShowExhaustedMessage: true,
	}
}

// ViewportTriggering reports whether loads are driven by sentinel visibility.
// It coexists with the manual trigger; both feed the same load path.
func (s Settings) ViewportTriggering() bool {
	return s.AutoScrollEnabled
}

// LoaderText is the inline text shown next to the spinner. The manual
// trigger carries its own busy label, so the loader stays silent then.
func (s Settings) LoaderText() string {
	if s.ManualTriggerEnabled {
		return ""
	}
	return s.LoadingLabel
}

// keys lists accepted names per field. The first name is the canonical one and
// wins when a payload carries several; the rest are theme editor names.
var (
	keysAutoScroll    = []string{"autoScrollEnabled", "autoScroll"}
	keysManual        = []string{"manualTriggerEnabled", "showLoadMore"}
	keysURLSync       = []string{"urlSyncEnabled", "updateUrl"}
	keysManualLabel   = []string{"manualTriggerLabel", "loadMoreText"}
	keysLoadingLabel  = []string{"loadingLabel", "loadingText"}
	keysExhaustLabel  = []string{"exhaustedLabel", "endMessage"}
	keysErrorLabel    = []string{"errorLabel", "errorText"}
	keysShowExhausted = []string{"showExhaustedMessage", "showEndMessage"}
)

// Parse decodes a settings payload. Malformed JSON yields Default().
func Parse(raw []byte) Settings {
	s := Default()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return s
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		log.Warn().Err(err).Msg("Settings payload is not a JSON object, using defaults")
		return s
	}

	s.AutoScrollEnabled = boolField(fields, keysAutoScroll, s.AutoScrollEnabled)
	s.ManualTriggerEnabled = boolField(fields, keysManual, s.ManualTriggerEnabled)
	s.URLSyncEnabled = boolField(fields, keysURLSync, s.URLSyncEnabled)
	s.ShowExhaustedMessage = boolField(fields, keysShowExhausted, s.ShowExhaustedMessage)
	s.ManualTriggerLabel = stringField(fields, keysManualLabel, s.ManualTriggerLabel)
	s.LoadingLabel = stringField(fields, keysLoadingLabel, s.LoadingLabel)
	s.ExhaustedLabel = stringField(fields, keysExhaustLabel, s.ExhaustedLabel)
	s.ErrorLabel = stringField(fields, keysErrorLabel, s.ErrorLabel)

	return s
}

// FromDocument reads settings from the first element carrying Attribute.
// A document without one yields Default().
func FromDocument(doc *goquery.Document) Settings {
	if doc == nil {
		return Default()
	}
	raw, ok := doc.Find("[" + Attribute + "]").First().Attr(Attribute)
	if !ok {
		return Default()
	}
	return Parse([]byte(raw))
}

func boolField(fields map[string]json.RawMessage, keys []string, def bool) bool {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Debug().Str("key", key).Msg("Settings field is not a boolean, ignoring")
			continue
		}
		return v
	}
	return def
}

func stringField(fields map[string]json.RawMessage, keys []string, def string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Debug().Str("key", key).Msg("Settings field is not a string, ignoring")
			continue
		}
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		return v
	}
	return def
}
