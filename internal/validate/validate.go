// Package validate provides presence checks and filename sanitization for
// the free-text fields of the intake form.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

var unsafeRx = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// SupplierOK checks that the supplier name is non-empty after trimming
// whitespace.
func SupplierOK(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("supplier required")
	}
	return nil
}

// InvoiceOK checks that the invoice number is non-empty after trimming
// whitespace.
func InvoiceOK(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("invoice required")
	}
	return nil
}

// SafeName strips characters that are unsafe in remote file and folder
// names and collapses the result's surrounding whitespace. An input that
// sanitizes to nothing becomes "_".
func SafeName(s string) string {
	s = strings.TrimSpace(unsafeRx.ReplaceAllString(s, ""))
	if s == "" {
		return "_"
	}
	return s
}
