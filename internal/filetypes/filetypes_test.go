package filetypes

import "testing"

func TestIcon(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"note.txt", IconText},
		{"README.MD", IconText},
		{"config.toml", IconText},
		{"photo.JPEG", IconImage},
		{"scan.heic", IconImage},
		{"archive.zip", IconOther},
		{"Makefile", IconOther},
		{".txt", IconText},
	}
	for _, tt := range tests {
		if got := Icon(tt.name); got != tt.want {
			t.Errorf("Icon(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestClassificationIsExclusive(t *testing.T) {
	for _, name := range []string{"a.txt", "a.png", "a.bin"} {
		if IsEditableText(name) && IsPreviewableImage(name) {
			t.Errorf("%s classified as both text and image", name)
		}
	}
}
