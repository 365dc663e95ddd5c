package artifact

import "testing"

func TestFileName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cd   string
		url  string
		want string
	}{
		{name: "plain disposition", cd: `attachment; filename="report.pdf"`, url: "https://x/y", want: "report.pdf"},
		{name: "rfc5987 disposition", cd: `attachment; filename*=UTF-8''na%C3%AFve.zip`, url: "https://x/y", want: "naïve.zip"},
		{name: "disposition with path stripped", cd: `attachment; filename="../../etc/passwd"`, url: "https://x/y", want: "passwd"},
		{name: "fallback to url path", cd: "", url: "https://files.example.com/pkg/archive.tar.gz?sig=abc", want: "archive.tar.gz"},
		{name: "nothing usable", cd: "", url: "https://files.example.com/", want: "download.bin"},
		{name: "malformed disposition falls back", cd: "attachment; filename=", url: "https://x/data.bin", want: "data.bin"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FileName(tt.cd, tt.url); got != tt.want {
				t.Fatalf("FileName(%q, %q) = %q, want %q", tt.cd, tt.url, got, tt.want)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain.txt", want: "plain.txt"},
		{in: `dir\evil.exe`, want: "evil.exe"},
		{in: "a/b/c.bin", want: "c.bin"},
		{in: "..", want: ""},
		{in: "  ", want: ""},
		{in: "ctrl\x01char.txt", want: "ctrlchar.txt"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
