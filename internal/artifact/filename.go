package artifact

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

const fallbackName = "download.bin"

// FileName derives the artifact's original name from the response's
// Content-Disposition header (both plain and RFC 5987 forms), falling back
// to the URL path basename.
func FileName(contentDisposition, rawURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := SanitizeName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := SanitizeName(path.Base(u.Path)); name != "" {
			return name
		}
	}
	return fallbackName
}

// SanitizeName strips path separators and control characters so a
// provider-supplied name can never escape the working directory.
// Returns "" when nothing usable remains.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return ""
	}
	// Keep only the final path element, whatever the separator style.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimSpace(b.String())
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}
