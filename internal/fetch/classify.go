package fetch

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/protocol-education/school-intel/internal/model"
)

// kind is the coarse type of a response body before PDFs are split into
// text and image-only.
type kind int

const (
	kindUnsupported kind = iota
	kindHTML
	kindPDF
	kindImage
)

// supportedImages are the image formats the extraction service accepts.
var supportedImages = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// sniff decides what a body is from its declared type, its leading bytes
// and, as a last resort, the URL extension. It returns the media type used.
func sniff(contentType, rawURL string, data []byte) (kind, string) {
	declared := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			declared = strings.ToLower(mt)
		}
	}
	if declared == "" || declared == "application/octet-stream" || declared == "binary/octet-stream" {
		declared = strings.ToLower(strings.SplitN(http.DetectContentType(data), ";", 2)[0])
	}

	switch {
	case declared == "application/pdf", bytesHasPrefix(data, "%PDF-"):
		return kindPDF, "application/pdf"
	case supportedImages[declared]:
		return kindImage, declared
	case declared == "text/html", declared == "application/xhtml+xml":
		return kindHTML, "text/html"
	case declared == "text/plain":
		switch strings.ToLower(path.Ext(urlPath(rawURL))) {
		case ".pdf":
			return kindPDF, "application/pdf"
		}
		return kindHTML, "text/plain"
	}
	return kindUnsupported, declared
}

// Classify tags a body with its content class. PDFs are pdf-text when the
// extracted text layer has at least minChars characters, else pdf-image.
func Classify(contentType, rawURL string, data []byte, pdfText string, minChars int) (model.ContentClass, bool) {
	k, _ := sniff(contentType, rawURL, data)
	switch k {
	case kindHTML:
		return model.ClassHTML, true
	case kindImage:
		return model.ClassImage, true
	case kindPDF:
		if len(strings.TrimSpace(pdfText)) >= minChars {
			return model.ClassPDFText, true
		}
		return model.ClassPDFImage, true
	}
	return "", false
}

func bytesHasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}

func urlPath(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	return rawURL
}
