package device

import "strings"

// Locale is one entry of the selectable language catalog.
type Locale struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Channel Channel `json:"channel"`
}

// French is verified by email; every other selectable language by phone.
var locales = []Locale{
	{Code: "en", Name: "English", Channel: ChannelPhone},
	{Code: "es", Name: "Español", Channel: ChannelPhone},
	{Code: "hi", Name: "हिन्दी", Channel: ChannelPhone},
	{Code: "pt", Name: "Português", Channel: ChannelPhone},
	{Code: "zh", Name: "中文", Channel: ChannelPhone},
	{Code: "fr", Name: "Français", Channel: ChannelEmail},
}

// Locales returns the selectable catalog.
func Locales() []Locale {
	out := make([]Locale, len(locales))
	copy(out, locales)
	return out
}

// LookupLocale accepts a bare code or a region-qualified tag such as fr-CA.
func LookupLocale(tag string) (Locale, error) {
	code := strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	for _, l := range locales {
		if l.Code == code {
			return l, nil
		}
	}
	return Locale{}, ErrUnsupportedLocale
}

// ChannelForLocale is the challenge channel required to switch to tag.
func ChannelForLocale(tag string) (Channel, error) {
	l, err := LookupLocale(tag)
	if err != nil {
		return ChannelNone, err
	}
	return l.Channel, nil
}
