package tree

import (
	"path/filepath"
	"testing"
)

func TestFilterAllowed(t *testing.T) {
	f, err := NewFilter(FilterOptions{
		ExcludePrefixes: []string{".", "@"},
		ExcludeExts:     []string{".TMP", "part"},
		Exclude:         []string{"Thumbs.db", "*~"},
		ExcludePaths:    []string{filepath.Join("/volume1", "*", "private")},
	})
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	tests := []struct {
		name   string
		parent string
		isDir  bool
		want   bool
	}{
		{"song.mp3", "/volume1/music", false, true},
		{".DS_Store", "/volume1/music", false, false},
		{"@eaDir", "/volume1/music", true, false},
		{"movie.tmp", "/volume1/video", false, false},
		{"movie.Tmp", "/volume1/video", false, false},
		{"album.tmp", "/volume1/music", true, true},
		{"download.part", "/volume1/video", false, false},
		{"Thumbs.db", "/volume1/photo", false, false},
		{"notes.txt~", "/volume1/photo", false, false},
		{"private", "/volume1/photo", true, false},
		{"private", "/volume1/photo/2024", true, true},
		{"noext", "/volume1/music", false, true},
		{"", "/volume1/music", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name+"@"+tt.parent, func(t *testing.T) {
			if got := f.Allowed(tt.name, tt.parent, tt.isDir); got != tt.want {
				t.Errorf("Allowed(%q, %q, %v) = %v, want %v", tt.name, tt.parent, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestFilterNormalizesNames(t *testing.T) {
	f, err := NewFilter(FilterOptions{Exclude: []string{"caf\u00e9"}})
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}
	if f.Allowed("cafe\u0301", "/volume1", false) {
		t.Error("Decomposed name should match the precomposed pattern")
	}
}

func TestNilFilterAllowsEverything(t *testing.T) {
	var f *Filter
	if !f.Allowed(".hidden", "/", false) {
		t.Error("nil filter should allow everything")
	}
	if len(f.Options().ExcludePrefixes) != 0 {
		t.Error("nil filter should have empty options")
	}
}

func TestDefaultFilter(t *testing.T) {
	f := DefaultFilter()
	if f.Allowed("@eaDir", "/volume1/photo", true) {
		t.Error("Default filter should reject @eaDir")
	}
	if f.Allowed("x.tmp", "/volume1/photo", false) {
		t.Error("Default filter should reject temporary files")
	}
	if !f.Allowed("x.jpg", "/volume1/photo", false) {
		t.Error("Default filter should allow x.jpg")
	}
}

func TestNewFilterRejectsBadPattern(t *testing.T) {
	if _, err := NewFilter(FilterOptions{Exclude: []string{"[a-"}}); err == nil {
		t.Error("Expected an error for an invalid pattern")
	}
}
