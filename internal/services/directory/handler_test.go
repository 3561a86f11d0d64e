package directory

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddEmoteRejectsBadInput(t *testing.T) {
	h := NewHandler(nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"unknown field", `{"name":"duck","url":"https://x/y.png","ownerId":"123456789012345678","extra":1}`},
		{"space in name", `{"name":"two words","url":"https://x/y.png","ownerId":"123456789012345678"}`},
		{"bad url", `{"name":"duck","url":"not a url","ownerId":"123456789012345678"}`},
		{"bad owner", `{"name":"duck","url":"https://x/y.png","ownerId":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
