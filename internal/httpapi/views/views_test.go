package views

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bengobox/oauth2-provider/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRenderPages(t *testing.T) {
	r, err := New(zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		page string
		data any
		want string
	}{
		{page: PageLogin, data: LoginData{Continue: "tok", Error: "bad"}, want: `name="continue" value="tok"`},
		{page: PageHome, data: HomeData{User: &store.User{Username: "alice"}}, want: "alice"},
		{page: PageConsent, data: ConsentData{User: &store.User{Username: "alice"}, ClientName: "demo", Scopes: []string{"profile"}, Action: "/oauth/authorize?x=1"}, want: "<li>profile</li>"},
		{page: PageError, data: ErrorData{Title: "Oops", Code: "invalid_redirect_uri", Description: "<script>"}, want: "&lt;script&gt;"},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.Render(rec, http.StatusOK, tt.page, tt.data)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestRenderUnknownPage(t *testing.T) {
	r, err := New(zap.NewNop())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	r.Render(rec, http.StatusOK, "missing.html", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
