package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceChecks(t *testing.T) {
	assert.NoError(t, SupplierOK("Acme"))
	assert.Error(t, SupplierOK("   "))
	assert.NoError(t, InvoiceOK("42"))
	assert.Error(t, InvoiceOK(""))
}

func TestSafeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Acme", "Acme"},
		{"a/b\\c", "abc"},
		{`he said: "hi"`, "he said hi"},
		{"Вологда", "Вологда"},
		{"вне диапазона дат", "вне диапазона дат"},
		{"///", "_"},
		{"  trimmed  ", "trimmed"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SafeName(tc.in), "input %q", tc.in)
	}
}
