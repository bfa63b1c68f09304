package auth

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/utils"
)

type LoginHandler struct {
	Accounts *accounts.Service
	Log      logrus.FieldLogger
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ServeHTTP handles POST /users/login
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !utils.DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAccountError(w, h.Log, err)
		return
	}
	utils.JSON(w, http.StatusOK, res)
}
