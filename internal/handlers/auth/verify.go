package auth

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/utils"
)

//go:embed templates/*.html
var pages embed.FS

var (
	verifiedPage = template.Must(template.ParseFS(pages, "templates/verify_success.html"))
	failedPage   = template.Must(template.ParseFS(pages, "templates/verify_failed.html"))
)

type VerifyEmailHandler struct {
	Accounts *accounts.Service
	Log      logrus.FieldLogger
}

// ServeHTTP handles GET /users/verify-email?token=... and answers with a page
// meant for a browser, not JSON.
func (h *VerifyEmailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := h.Accounts.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, accounts.ErrInvalidOrExpiredToken) {
			h.Log.WithError(err).Error("email verification failed")
			status = http.StatusInternalServerError
		}
		render(w, h.Log, status, failedPage, nil)
		return
	}
	render(w, h.Log, http.StatusOK, verifiedPage, map[string]string{
		"Username": u.Username,
		"Email":    u.Email,
	})
}

func render(w http.ResponseWriter, log logrus.FieldLogger, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.WithError(err).Error("render page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	utils.HTML(w, status, buf.String())
}
