package user

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/middleware"
	"vexekhach/internal/utils"
)

type MeHandler struct {
	Accounts *accounts.Service
	Log      logrus.FieldLogger
}

// ServeHTTP handles GET /users/me behind middleware.AuthJWT.
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		utils.Error(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	u, err := h.Accounts.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			utils.Error(w, http.StatusNotFound, "User not found")
			return
		}
		h.Log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Error("load profile")
		utils.Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	utils.JSON(w, http.StatusOK, u.Public())
}
