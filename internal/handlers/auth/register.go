package auth

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/utils"
)

type RegisterHandler struct {
	Accounts *accounts.Service
	Log      logrus.FieldLogger
}

// ServeHTTP handles POST /users/register
func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req accounts.RegisterInput
	if !utils.DecodeJSON(w, r, &req) {
		return
	}

	u, err := h.Accounts.Register(r.Context(), req)
	if err != nil {
		writeAccountError(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, u.Public())
}
