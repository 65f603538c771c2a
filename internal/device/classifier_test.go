package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uaEdge    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51"
	uaIE      = "Mozilla/5.0 (Windows NT 10.0; WOW64; Trident/7.0; rv:11.0) like Gecko"
	uaChrome  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	uaOpera   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 OPR/109.0.0.0"
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaIPad    = "Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/604.1"
	uaFirefox = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0"
)

func TestClassify_Browsers(t *testing.T) {
	tests := []struct {
		name       string
		info       Info
		browser    string
		firstParty bool
	}{
		{"edge user agent", Info{UserAgent: uaEdge}, "Microsoft Edge", true},
		{"internet explorer", Info{UserAgent: uaIE}, "Internet Explorer", true},
		{"chrome", Info{UserAgent: uaChrome}, "Google Chrome", false},
		{"opera carries chrome token", Info{UserAgent: uaOpera}, "Opera", false},
		{"firefox", Info{UserAgent: uaFirefox}, "Mozilla Firefox", false},
		{"declared edge only", Info{Browser: "Microsoft Edge"}, "Microsoft Edge", true},
		{"declared chrome only", Info{Browser: "Google Chrome"}, "Google Chrome", false},
		{"unknown", Info{}, "Unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.info)
			assert.Equal(t, tt.browser, c.Browser)
			assert.Equal(t, tt.firstParty, c.FirstParty)
			assert.Equal(t, !tt.firstParty, c.RequiresChallenge)
			if tt.firstParty {
				assert.Equal(t, ChannelNone, c.Channel)
			} else {
				assert.Equal(t, ChannelEmail, c.Channel)
			}
		})
	}
}

func TestClassify_DeviceType(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want Type
	}{
		{"declared wins", Info{DeviceType: "Tablet", UserAgent: uaIPhone}, TypeTablet},
		{"iphone", Info{UserAgent: uaIPhone}, TypeMobile},
		{"ipad", Info{UserAgent: uaIPad}, TypeTablet},
		{"wide non touch", Info{UserAgent: uaChrome, ScreenResolution: "1920x1080"}, TypeDesktop},
		{"wide touch", Info{UserAgent: uaChrome, ScreenResolution: "1920x1080", Touch: true}, TypeLaptop},
		{"narrow", Info{UserAgent: uaChrome, ScreenResolution: "1024x768"}, TypeLaptop},
		{"garbage declared", Info{DeviceType: "watch", ScreenResolution: "bad"}, TypeLaptop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.info).DeviceType)
		})
	}
}

func TestClassify_OS(t *testing.T) {
	assert.Equal(t, "iOS", Classify(Info{UserAgent: uaIPhone}).OS)
	assert.Equal(t, "macOS", Classify(Info{UserAgent: uaFirefox}).OS)
	assert.Equal(t, "Linux", Classify(Info{UserAgent: uaChrome}).OS)
	assert.Equal(t, "Windows", Classify(Info{OS: "Windows", UserAgent: uaChrome}).OS)
}

func TestChannelForLocale(t *testing.T) {
	ch, err := ChannelForLocale("fr")
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, ch)

	ch, err = ChannelForLocale("fr-CA")
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, ch)

	for _, code := range []string{"en", "es", "hi", "pt", "zh", "EN_us"} {
		ch, err := ChannelForLocale(code)
		require.NoError(t, err, code)
		assert.Equal(t, ChannelPhone, ch, code)
	}

	_, err = ChannelForLocale("de")
	assert.ErrorIs(t, err, ErrUnsupportedLocale)
	assert.Len(t, Locales(), 6)
}
