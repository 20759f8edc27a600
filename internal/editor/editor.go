// Package editor holds the option catalogs for the browser code editor.
package editor

import (
	"slices"
	"strings"
)

// Defaults applied when no preference is supplied.
const (
	DefaultTheme       = "twilight"
	DefaultKeybinding  = "vscode"
	DefaultPlaceholder = "// Enter code here"
)

var themes = []string{
	"ambiance",
	"chaos",
	"chrome",
	"clouds",
	"clouds_midnight",
	"cobalt",
	"crimson_editor",
	"dawn",
	"dracula",
	"dreamweaver",
	"eclipse",
	"github",
	"gob",
	"gruvbox",
	"idle_fingers",
	"iplastic",
	"katzenmilch",
	"kr_theme",
	"kuroir",
	"merbivore",
	"merbivore_soft",
	"mono_industrial",
	"monokai",
	"nord_dark",
	"pastel_on_dark",
	"solarized_dark",
	"solarized_light",
	"sqlserver",
	"terminal",
	"textmate",
	"tomorrow",
	"tomorrow_night",
	"tomorrow_night_blue",
	"tomorrow_night_bright",
	"tomorrow_night_eighties",
	"twilight",
	"vibrant_ink",
	"xcode",
}

var keybindings = []string{"emacs", "sublime", "vim", "vscode"}

// Themes returns the supported editor themes.
func Themes() []string { return slices.Clone(themes) }

// Keybindings returns the supported key binding modes.
func Keybindings() []string { return slices.Clone(keybindings) }

// Display holds the editor chrome toggles.
type Display struct {
	ShowGutter      bool `json:"showGutter"`
	ShowPrintMargin bool `json:"showPrintMargin"`
	AutoUpdate      bool `json:"autoUpdate"`
	ReadOnly        bool `json:"readOnly"`
}

// Options is everything the editor needs to mount.
type Options struct {
	InitialText string  `json:"initialText"`
	Language    string  `json:"language"`
	Theme       string  `json:"theme"`
	Keybinding  string  `json:"keybinding"`
	Placeholder string  `json:"placeholder"`
	Display     Display `json:"display"`
}

// Default returns the stock editor configuration for language.
func Default(language string) Options {
	return Options{
		Language:    language,
		Theme:       DefaultTheme,
		Keybinding:  DefaultKeybinding,
		Placeholder: DefaultPlaceholder,
		Display: Display{
			ShowGutter:      true,
			ShowPrintMargin: true,
		},
	}
}

// Resolve applies a requested theme and keybinding on top of defaults.
// Unknown names keep the default value.
func Resolve(defaults Options, theme, keybinding string) Options {
	out := defaults
	if t := normalize(theme); slices.Contains(themes, t) {
		out.Theme = t
	}
	if k := normalize(keybinding); slices.Contains(keybindings, k) {
		out.Keybinding = k
	}
	return out
}

// WithInitialText returns a copy of o that opens with text. A blank starter
// leaves the fallback in place.
func (o Options) WithInitialText(starter, fallback string) Options {
	if strings.TrimSpace(starter) != "" {
		o.InitialText = starter
	} else {
		o.InitialText = fallback
	}
	return o
}

// ValidTheme reports whether name is in the theme catalog.
func ValidTheme(name string) bool { return slices.Contains(themes, normalize(name)) }

// ValidKeybinding reports whether name is in the keybinding catalog.
func ValidKeybinding(name string) bool { return slices.Contains(keybindings, normalize(name)) }

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, "-", "_")
}
