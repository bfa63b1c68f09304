package auth

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/utils"
)

// writeAccountError maps a flow error to its status and client message.
// Anything unexpected is logged and reported generically.
func writeAccountError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	var verr *accounts.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.Error(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, accounts.ErrDuplicateEmail):
		utils.Error(w, http.StatusBadRequest, "Email has been registered")
	case errors.Is(err, accounts.ErrDuplicateUsername):
		utils.Error(w, http.StatusBadRequest, "Username already in use")
	case errors.Is(err, accounts.ErrDuplicateAccount):
		utils.Error(w, http.StatusBadRequest, "Email or username already exists!")
	case errors.Is(err, accounts.ErrInvalidCredentials):
		utils.Error(w, http.StatusBadRequest, "Incorrect email or password!")
	case errors.Is(err, accounts.ErrEmailNotVerified):
		utils.Error(w, http.StatusForbidden, "Please verify your email before logging in. Check your inbox for verification.")
	case errors.Is(err, accounts.ErrUserNotFound):
		utils.Error(w, http.StatusNotFound, "User not found")
	default:
		log.WithError(err).Error("account request failed")
		utils.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}
