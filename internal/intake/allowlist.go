package intake

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind groups allow-listed extensions by the flow that may accept them.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

type fileType struct {
	kind  Kind
	mimes []string
}

var allowed = map[string]fileType{
	".jpg":  {kind: KindImage, mimes: []string{"image/jpeg", "image/jpg"}},
	".jpeg": {kind: KindImage, mimes: []string{"image/jpeg", "image/jpg"}},
	".png":  {kind: KindImage, mimes: []string{"image/png"}},
	".webp": {kind: KindImage, mimes: []string{"image/webp"}},
	".heic": {kind: KindImage, mimes: []string{"image/heic"}},
	".heif": {kind: KindImage, mimes: []string{"image/heif"}},
	".pdf":  {kind: KindPDF, mimes: []string{"application/pdf"}},
}

// sniffed content types accepted per kind. mimetype resolves aliases via Is.
var sniffable = map[Kind][]string{
	KindImage: {"image/jpeg", "image/png", "image/webp", "image/heic", "image/heif", "image/heic-sequence", "image/heif-sequence"},
	KindPDF:   {"application/pdf"},
}

// sniffLen covers mimetype's default read limit.
const sniffLen = 3072

func normalizeExt(name string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
}

func normalizeMIME(contentType string) string {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

func (ft fileType) acceptsMIME(mt string) bool {
	for _, m := range ft.mimes {
		if m == mt {
			return true
		}
	}
	return false
}

// detect returns the sniffed type of head and whether it belongs to kind.
func detect(head []byte, kind Kind) (string, bool) {
	mt := mimetype.Detect(head)
	for _, want := range sniffable[kind] {
		if mt.Is(want) {
			return mt.String(), true
		}
	}
	return mt.String(), false
}
