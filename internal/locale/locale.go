// Package locale resolves user-facing strings for the host's directory names
// and the companion's connection messages.
package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key is an English source string used as the catalog key.
type Key string

const (
	OnDevice Key = "On Device"
	ICloud   Key = "iCloud"

	CannotConnect       Key = "Cannot connect to iPhone."
	NeedsUnlock         Key = "iPhone needs to be unlocked after reboot."
	AppNotInstalled     Key = "Companion app is not installed on iPhone."
	NotActivated        Key = "Connection is not activated."
	CommunicationFailed Key = "Could not communicate with iPhone."
	InvalidResponse     Key = "Received an invalid response from iPhone."
)

var japanese = map[Key]string{
	OnDevice:            "このデバイス内",
	ICloud:              "iCloud",
	CannotConnect:       "iPhoneに接続できません。",
	NeedsUnlock:         "再起動後にiPhoneのロックを解除する必要があります。",
	AppNotInstalled:     "iPhoneにAppがインストールされていません。",
	NotActivated:        "接続が有効になっていません。",
	CommunicationFailed: "iPhoneと通信できませんでした。",
	InvalidResponse:     "iPhoneから無効な応答を受信しました。",
}

var (
	supported = []language.Tag{language.English, language.Japanese}
	matcher   = language.NewMatcher(supported)
	strings   = buildCatalog()
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, ja := range japanese {
		b.SetString(language.English, string(key), string(key))
		b.SetString(language.Japanese, string(key), ja)
	}
	return b
}

// Localizer renders keys for one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New picks the best supported language for the preferred BCP 47 tags,
// falling back to English.
func New(preferred ...string) *Localizer {
	_, idx := language.MatchStrings(matcher, preferred...)
	tag := supported[idx]
	return &Localizer{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(strings)),
	}
}

// Tag returns the resolved language.
func (l *Localizer) Tag() language.Tag {
	return l.tag
}

// String returns the localized text for key.
func (l *Localizer) String(key Key) string {
	return l.printer.Sprintf(string(key))
}
