package handlers

import (
	"net/http"
	"strconv"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/httpx"
	"github.com/elga-io/corgi/internal/models"
	"github.com/elga-io/corgi/internal/qrcode"
	"github.com/elga-io/corgi/internal/service"
)

type LinkHandler struct {
	links *service.LinkService
}

func NewLinkHandler(links *service.LinkService) *LinkHandler {
	return &LinkHandler{links: links}
}

func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := httpx.DecodeJSON[models.CreateLinkRequest](w, r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	link, err := h.links.Create(r.Context(), httpx.UserIDFrom(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/links/"+link.ID)
	httpx.WriteData(w, http.StatusCreated, link)
}

func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ListLinks"
	q := r.URL.Query()

	page, err := intParam(op, q.Get("page"), "page")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	limit, err := intParam(op, q.Get("limit"), "limit")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	query := service.ListQuery{
		Page:  page,
		Limit: limit,
		Query: q.Get("q"),
		Sort:  q.Get("sort"),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(w, r, errx.Field(op, "active", "active must be true or false"))
			return
		}
		query.Active = &active
	}

	res, err := h.links.List(r.Context(), httpx.UserIDFrom(r.Context()), query)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *LinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Get(r.Context(), httpx.UserIDFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, link)
}

func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	patch, err := httpx.DecodeJSON[models.LinkPatch](w, r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	link, err := h.links.Update(r.Context(), httpx.UserIDFrom(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, link)
}

func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Delete(r.Context(), httpx.UserIDFrom(r.Context()), r.PathValue("id")); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LinkHandler) Clicks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam("handlers.LinkClicks", r.URL.Query().Get("limit"), "limit")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	events, err := h.links.Clicks(r.Context(), httpx.UserIDFrom(r.Context()), r.PathValue("id"), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, events)
}

func (h *LinkHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.links.Stats(r.Context(), httpx.UserIDFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, stats)
}

func (h *LinkHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	size, err := intParam("handlers.QRCode", r.URL.Query().Get("size"), "size")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	link, err := h.links.Get(r.Context(), httpx.UserIDFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	png, err := qrcode.PNG(link.ShortURL, size)
	if err != nil {
		httpx.WriteError(w, r, errx.E("handlers.QRCode", errx.Internal, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// intParam parses an optional integer query parameter; empty is zero.
func intParam(op, raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errx.Field(op, name, name+" must be an integer")
	}
	return n, nil
}
