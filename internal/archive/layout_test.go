package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLayout_paths(t *testing.T) {
	l, err := NewLayout("/srv/videos", "/srv/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if got := l.ChunkPath(7, 3, "mp4"); got != "/srv/videos/chunks/7/3.mp4" {
		t.Errorf("ChunkPath = %s", got)
	}
	if l.Sources != "/srv/videos/sources" || l.Tmp != "/srv/tmp" {
		t.Errorf("unexpected layout %+v", l)
	}
	tmp := l.TempPath("mp4")
	if filepath.Dir(tmp) != "/srv/tmp" || !strings.HasSuffix(tmp, ".mp4") || tmp == l.TempPath("mp4") {
		t.Errorf("TempPath = %s", tmp)
	}
}

func TestLayout_NextChunkIndex(t *testing.T) {
	l := testLayout(t)

	idx, err := l.NextChunkIndex(1, "mjpeg")
	if err != nil || idx != 0 {
		t.Fatalf("missing dir: idx=%d err=%v", idx, err)
	}

	dir := l.ChunkDir(1)
	os.MkdirAll(dir, 0o755)
	for _, name := range []string{"0.mjpeg", "1.mjpeg", "notes.txt", "0.mp4"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	if idx, _ := l.NextChunkIndex(1, "mjpeg"); idx != 2 {
		t.Errorf("expected 2, got %d", idx)
	}

	// A gap in numbering must not lead to overwriting the highest file.
	os.Remove(filepath.Join(dir, "0.mjpeg"))
	os.WriteFile(filepath.Join(dir, "2.mjpeg"), []byte("x"), 0o644)
	if idx, _ := l.NextChunkIndex(1, "mjpeg"); idx != 3 {
		t.Errorf("expected 3 after gap, got %d", idx)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"my clip.mp4":         "my_clip.mp4",
		"c@m#1 (front).avi":   "cm1_front.avi",
		"../../etc/passwd":    "passwd",
		"ok-name_2.final.MP4": "ok-name_2.final.MP4",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLayout_UploadPath_dedupes(t *testing.T) {
	l := testLayout(t)

	p, err := l.UploadPath("front door.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p) != "front_door.mp4" {
		t.Fatalf("got %s", p)
	}
	os.WriteFile(p, nil, 0o644)

	p2, _ := l.UploadPath("front door.mp4")
	if filepath.Base(p2) != "front_door_1.mp4" {
		t.Errorf("first duplicate: %s", p2)
	}
	os.WriteFile(p2, nil, 0o644)

	p3, _ := l.UploadPath("front door.mp4")
	if filepath.Base(p3) != "front_door_2.mp4" {
		t.Errorf("second duplicate: %s", p3)
	}

	if _, err := l.UploadPath("###"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty sanitized name: %v", err)
	}
}

func TestLayout_OwnsUpload(t *testing.T) {
	l, _ := NewLayout("/srv/videos", "/srv/tmp")
	if !l.OwnsUpload("/srv/videos/sources/a.mp4") {
		t.Error("upload under sources root")
	}
	for _, p := range []string{"/srv/videos/sources", "/srv/videos/chunks/1/0.mp4", "/home/me/a.mp4", "/srv/videos/sources/../x.mp4"} {
		if l.OwnsUpload(p) {
			t.Errorf("%s should not be owned", p)
		}
	}
}
