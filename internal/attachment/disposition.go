package attachment

import (
	"mime"
	"strings"
)

// Disposition builds a Content-Disposition header value for serving an
// attachment. download selects "attachment" over "inline"; a non-empty
// summary is prepended to the filename.
func Disposition(filename string, download bool, summary string) string {
	kind := "inline"
	if download {
		kind = "attachment"
	}
	name := cleanFilename(filename, "photo")
	if summary = strings.TrimSpace(summary); summary != "" {
		name = cleanFilename(summary+" "+name, name)
	}
	return mime.FormatMediaType(kind, map[string]string{"filename": name})
}

// WantsDownload reads the download query flag. Any value other than empty,
// "0" and "false" asks for a download.
func WantsDownload(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}
