package repository

import "github.com/cbnote/cbnote/internal/locale"

// DocumentDir identifies a document root. The string value is the stable
// identifier carried on the wire.
type DocumentDir string

const (
	OnDevice DocumentDir = "onDevice"
	ICloud   DocumentDir = "iCloud"
)

// allDirs lists the roots in presentation order.
var allDirs = []DocumentDir{OnDevice, ICloud}

// ParseDir maps a wire identifier to a DocumentDir.
func ParseDir(id string) (DocumentDir, bool) {
	for _, d := range allDirs {
		if string(d) == id {
			return d, true
		}
	}
	return "", false
}

// NameKey returns the localization key of the display name.
func (d DocumentDir) NameKey() locale.Key {
	if d == ICloud {
		return locale.ICloud
	}
	return locale.OnDevice
}

// Icon returns the icon hint.
func (d DocumentDir) Icon() string {
	if d == ICloud {
		return "icloud"
	}
	return "iphone"
}

// PinnedKey returns the preferences key holding the pinned file names.
func (d DocumentDir) PinnedKey() string {
	if d == ICloud {
		return "pinnedFiles_iCloud"
	}
	return "pinnedFiles_OnDevice"
}
