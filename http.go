package identity

import (
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RefreshTokenCookie is the cookie carrying the refresh token. It is scoped
// to the renew route so browsers never attach the long lived credential to
// any other request.
const RefreshTokenCookie = "refreshToken"

// RenewPath is the only route the refresh token cookie is sent to.
const RenewPath = "/auth/renew"

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// AuthController exposes the session lifecycle over HTTP: credential login,
// access token renewal and email change confirmation.
type AuthController struct {
	auther    *Authenticator
	emailFlow *EmailChangeFlow
	cfg       Config
	logger    Logger
}

// NewAuthController creates the controller.
func NewAuthController(auther *Authenticator, emailFlow *EmailChangeFlow, cfg Config) *AuthController {
	return &AuthController{
		auther:    auther,
		emailFlow: emailFlow,
		cfg:       cfg,
		logger:    defLogger{},
	}
}

func (c *AuthController) WithLogger(l Logger) *AuthController {
	if l != nil {
		c.logger = l
	}
	return c
}

// RegisterRoutes registers the session routes.
func (c *AuthController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/auth/token", c.Token)
	group.Post(RenewPath, c.Renew)
	group.Get("/auth/verify/:token", c.ConfirmEmail)
}

// Token authenticates a credential pair. The refresh token travels back in a
// path scoped HttpOnly cookie; the response body carries a first access token
// so clients can call the API without an immediate renew round trip.
func (c *AuthController) Token(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "failed to parse login payload",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	client := clientContext(ctx)

	refresh, err := c.auther.Authenticate(ctx.Context(), payload.Username, payload.Password, client)
	if err != nil {
		return c.unauthorized(ctx, err)
	}

	access, err := c.auther.RenewSession(ctx.Context(), refresh, client)
	if err != nil {
		return c.unauthorized(ctx, err)
	}

	ctx.Cookie(&router.Cookie{
		Name:     RefreshTokenCookie,
		Value:    refresh,
		Path:     RenewPath,
		Expires:  time.Now().Add(hoursOrDefault(c.cfg.GetRefreshExpiration(), 30*24*time.Hour)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return ctx.JSON(router.StatusOK, TokenResponse{Token: access})
}

// Renew exchanges the refresh token cookie for a fresh access token.
func (c *AuthController) Renew(ctx router.Context) error {
	refresh := ctx.Cookies(RefreshTokenCookie)
	if refresh == "" {
		return c.unauthorized(ctx, ErrSessionNotFound)
	}

	access, err := c.auther.RenewSession(ctx.Context(), refresh, clientContext(ctx))
	if err != nil {
		return c.unauthorized(ctx, err)
	}

	return ctx.JSON(router.StatusOK, TokenResponse{Token: access})
}

// ConfirmEmail completes a pending email change from the verification link.
func (c *AuthController) ConfirmEmail(ctx router.Context) error {
	token := ctx.Param("token", "")

	account, err := c.emailFlow.Confirm(ctx.Context(), token)
	if err != nil {
		if IsInvalidCredential(err) {
			return c.unauthorized(ctx, err)
		}
		c.logger.Error("email change confirmation error: %v", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]string{
			"error": "failed to confirm email change",
		})
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"email": account.Email,
	})
}

func (c *AuthController) unauthorized(ctx router.Context, err error) error {
	var rich *errors.Error
	if errors.As(err, &rich) {
		c.logger.Info("authentication rejected: %s", rich.Message)
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error":     rich.Message,
			"text_code": rich.TextCode,
		})
	}

	c.logger.Error("authentication error: %v", err)
	return ctx.JSON(router.StatusUnauthorized, map[string]string{
		"error": "authentication failed",
	})
}

func clientContext(ctx router.Context) ClientContext {
	return ClientContext{
		UserAgent: ctx.Header("User-Agent"),
	}
}
