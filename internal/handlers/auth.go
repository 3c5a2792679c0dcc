package handlers

import (
	"net/http"
	"time"

	"github.com/elga-io/corgi/internal/httpx"
	usermodel "github.com/elga-io/corgi/internal/models/user"
	"github.com/elga-io/corgi/internal/service"
)

type CookieConfig struct {
	Name   string
	Secure bool
}

type AuthHandler struct {
	users  *service.UserService
	cookie CookieConfig
}

func NewAuthHandler(users *service.UserService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{users: users, cookie: cookie}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeJSON[usermodel.RegisterRequest](w, r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	sess, err := h.users.Register(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.setCookie(w, sess.Token, sess.ExpiresAt)
	httpx.WriteData(w, http.StatusCreated, sess)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeJSON[usermodel.LoginRequest](w, r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	sess, err := h.users.Login(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.setCookie(w, sess.Token, sess.ExpiresAt)
	httpx.WriteData(w, http.StatusOK, sess)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Me(r.Context(), httpx.UserIDFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, u)
}

func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	patch, err := httpx.DecodeJSON[usermodel.ProfilePatch](w, r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	u, err := h.users.UpdateProfile(r.Context(), httpx.UserIDFrom(r.Context()), patch)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, u)
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
