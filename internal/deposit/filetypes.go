package deposit

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"classhub/pkg/interfaces"
)

// allowedTypes maps each accepted MIME type to its accepted extensions.
// The first extension is the canonical one.
var allowedTypes = map[string][]string{
	"image/jpeg":         {".jpg", ".jpeg"},
	"image/png":          {".png"},
	"image/gif":          {".gif"},
	"image/webp":         {".webp"},
	"application/pdf":    {".pdf"},
	"application/msword": {".doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {".docx"},
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const maxBaseNameLen = 80

// resolveType returns the normalized MIME type and lowercase extension for
// a file, or false when the pair is not accepted. A missing or generic
// declared type is inferred from the extension.
func resolveType(fileName, declared string) (string, string, bool) {
	ext := strings.ToLower(filepath.Ext(fileName))

	mediaType := ""
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			mediaType = strings.ToLower(mt)
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = typeForExtension(ext)
	}

	exts, ok := allowedTypes[mediaType]
	if !ok {
		return "", "", false
	}
	for _, e := range exts {
		if e == ext {
			return mediaType, ext, true
		}
	}
	return "", "", false
}

func typeForExtension(ext string) string {
	for mediaType, exts := range allowedTypes {
		for _, e := range exts {
			if e == ext {
				return mediaType
			}
		}
	}
	return ""
}

// resourceType classifies uploads for the object store
func resourceType(mediaType string) string {
	if strings.HasPrefix(mediaType, "image/") {
		return interfaces.ResourceImage
	}
	return interfaces.ResourceRaw
}

// baseName strips the extension and any character unsafe in a locator
func baseName(fileName string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if len(name) > maxBaseNameLen {
		name = name[:maxBaseNameLen]
	}
	if name == "" {
		name = "file"
	}
	return name
}

// reconcileURL makes sure the locator ends with an extension valid for the
// MIME type, appending the expected one when the provider left it off
func reconcileURL(url, mediaType, ext string) string {
	lower := strings.ToLower(url)
	for _, e := range allowedTypes[mediaType] {
		if strings.HasSuffix(lower, e) {
			return url
		}
	}
	return url + ext
}
