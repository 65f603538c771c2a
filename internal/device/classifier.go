// Package device turns a caller's declared device and browser descriptor into
// a challenge decision. All vendor, OS and form-factor knowledge lives in the
// rule tables below; callers only see Classification.
package device

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

type Type string

const (
	TypeMobile  Type = "mobile"
	TypeTablet  Type = "tablet"
	TypeLaptop  Type = "laptop"
	TypeDesktop Type = "desktop"
)

// Channel is where a one-time code is delivered.
type Channel string

const (
	ChannelNone  Channel = ""
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

var ErrUnsupportedLocale = errors.New("unsupported locale")

// Info is what a client reports about itself at login.
type Info struct {
	Browser          string `json:"browser"`
	UserAgent        string `json:"userAgent,omitempty"`
	OS               string `json:"os"`
	DeviceType       string `json:"deviceType"`
	ScreenResolution string `json:"screenResolution"`
	Touch            bool   `json:"touch,omitempty"`
	Language         string `json:"language"`
	SourceAddress    string `json:"ip"`
}

type Classification struct {
	DeviceType        Type    `json:"deviceType"`
	Browser           string  `json:"browser"`
	OS                string  `json:"os"`
	FirstParty        bool    `json:"firstParty"`
	RequiresChallenge bool    `json:"requiresChallenge"`
	Channel           Channel `json:"channel,omitempty"`
}

type browserRule struct {
	name       string
	firstParty bool
	aliases    []string
	ua         *regexp.Regexp
}

// Order matters: Edge and Opera user agents also carry "Chrome/", and
// Chrome carries "Safari/".
var browserRules = []browserRule{
	{"Microsoft Edge", true, []string{"microsoft edge", "edge"}, regexp.MustCompile(`Edg(e|A|iOS)?/`)},
	{"Internet Explorer", true, []string{"internet explorer", "ie", "msie"}, regexp.MustCompile(`MSIE |Trident/`)},
	{"Opera", false, []string{"opera"}, regexp.MustCompile(`OPR/|Opera`)},
	{"Google Chrome", false, []string{"google chrome", "chrome"}, regexp.MustCompile(`Chrome/|CriOS/`)},
	{"Mozilla Firefox", false, []string{"mozilla firefox", "firefox"}, regexp.MustCompile(`Firefox/|FxiOS/`)},
	{"Safari", false, []string{"safari"}, regexp.MustCompile(`Safari/`)},
}

type osRule struct {
	name string
	ua   *regexp.Regexp
}

var osRules = []osRule{
	{"Android", regexp.MustCompile(`(?i)android`)},
	{"iOS", regexp.MustCompile(`(?i)iphone|ipad|ipod`)},
	{"Windows", regexp.MustCompile(`(?i)windows`)},
	{"macOS", regexp.MustCompile(`(?i)macintosh|mac os`)},
	{"Linux", regexp.MustCompile(`(?i)linux`)},
}

type formFactorRule struct {
	deviceType Type
	ua         *regexp.Regexp
}

var formFactorRules = []formFactorRule{
	{TypeMobile, regexp.MustCompile(`(?i)mobile|android|iphone|ipod|blackberry|iemobile|opera mini`)},
	{TypeTablet, regexp.MustCompile(`(?i)tablet|ipad`)},
}

// desktopMinWidth is the screen width above which a non-touch device counts
// as a desktop rather than a laptop.
const desktopMinWidth = 1024

// Classify decides device type and challenge requirement. A first-party
// browser never needs a challenge; any other browser gets an email code.
func Classify(info Info) Classification {
	browser, firstParty := detectBrowser(info)
	c := Classification{
		DeviceType: detectType(info),
		Browser:    browser,
		OS:         detectOS(info),
		FirstParty: firstParty,
	}
	if !firstParty {
		c.RequiresChallenge = true
		c.Channel = ChannelEmail
	}
	return c
}

func detectBrowser(info Info) (string, bool) {
	if info.UserAgent != "" {
		for _, rule := range browserRules {
			if rule.ua.MatchString(info.UserAgent) {
				return rule.name, rule.firstParty
			}
		}
	}
	declared := strings.ToLower(strings.TrimSpace(info.Browser))
	for _, rule := range browserRules {
		for _, alias := range rule.aliases {
			if declared == alias {
				return rule.name, rule.firstParty
			}
		}
	}
	if info.Browser != "" {
		return info.Browser, false
	}
	return "Unknown", false
}

func detectOS(info Info) string {
	if info.OS != "" {
		return info.OS
	}
	for _, rule := range osRules {
		if rule.ua.MatchString(info.UserAgent) {
			return rule.name
		}
	}
	return "Unknown"
}

func detectType(info Info) Type {
	switch t := Type(strings.ToLower(strings.TrimSpace(info.DeviceType))); t {
	case TypeMobile, TypeTablet, TypeLaptop, TypeDesktop:
		return t
	}
	for _, rule := range formFactorRules {
		if rule.ua.MatchString(info.UserAgent) {
			return rule.deviceType
		}
	}
	if screenWidth(info.ScreenResolution) > desktopMinWidth && !info.Touch {
		return TypeDesktop
	}
	return TypeLaptop
}

func screenWidth(resolution string) int {
	w, _, ok := strings.Cut(strings.ToLower(resolution), "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0
	}
	return n
}
