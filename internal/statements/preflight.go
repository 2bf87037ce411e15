package statements

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"expense-backend/internal/intake"
)

// preflightPDF checks that data opens as a PDF with at least one page. The
// parser panics on some malformed inputs, so those are reported as unreadable.
func preflightPDF(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = intake.NewValidationError(intake.ReasonUnreadablePDF, fmt.Sprintf("pdf could not be parsed: %v", r))
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, intake.NewValidationError(intake.ReasonUnreadablePDF, "pdf could not be opened: "+err.Error())
	}
	pages = reader.NumPage()
	if pages < 1 {
		return 0, intake.NewValidationError(intake.ReasonUnreadablePDF, "pdf has no pages")
	}
	return pages, nil
}
