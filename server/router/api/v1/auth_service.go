package v1

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/errkind"
)

type anonymousResponse struct {
	PrincipalID string `json:"principal_id"`
	Token       string `json:"token"`
}

// signInAnonymously provisions a principal for a visitor without an account.
// A caller that already holds a valid token keeps its principal.
func (s *APIV1Service) signInAnonymously(c *echo.Context) error {
	if token := auth.ExtractToken(c.Request()); token != "" {
		if principal, err := s.Tokens.Verify(token); err == nil {
			return c.JSON(http.StatusOK, anonymousResponse{PrincipalID: principal, Token: token})
		}
	}

	principal := uuid.NewString()
	token, err := s.Tokens.Issue(principal)
	if err != nil {
		return writeError(c, errkind.Wrap(errkind.Unknown, err, "Failed to issue token"))
	}
	http.SetCookie(c.Response(), auth.NewCookie(token, !s.Profile.IsDev()))
	slog.Info("provisioned anonymous principal", slog.String("principal_id", principal))
	return c.JSON(http.StatusCreated, anonymousResponse{PrincipalID: principal, Token: token})
}
