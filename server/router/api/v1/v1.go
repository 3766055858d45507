package v1

import (
	"github.com/labstack/echo/v5"

	"github.com/threadcast/threadcast/plugin/generation"
	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/profile"
	"github.com/threadcast/threadcast/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Tokens  *auth.TokenService
	Backend generation.Backend

	limiter *principalLimiter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, tokens *auth.TokenService, backend generation.Backend) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Store:   store,
		Tokens:  tokens,
		Backend: backend,
		limiter: newPrincipalLimiter(profile.GenerateRatePerMinute),
	}
}

// RegisterRoutes mounts the API under /api/v1.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/generate", s.handleGenerate)
	g.POST("/auth/anonymous", s.signInAnonymously)
}
