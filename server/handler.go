package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type cacheHandler struct {
	cache Cache
}

func (h *cacheHandler) mount(r chi.Router) {
	r.Route("/cache", func(r chi.Router) {
		r.Put("/{key}", wrap(h.put))
		r.Get("/{key}", wrap(h.get))
		r.Delete("/{key}", wrap(h.del))
		r.Post("/{key}/touch", wrap(h.touch))
	})
	r.Get("/stats", wrap(h.stats))
}

type putRequest struct {
	Value string `json:"value"`
	Cost  int    `json:"cost"`
	TTLMs int    `json:"ttl_ms"`
}

type touchRequest struct {
	TTLMs int `json:"ttl_ms"`
}

type valueDTO struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type statsDTO struct {
	Items      int        `json:"items"`
	Cost       int        `json:"cost"`
	NextVictim string     `json:"next_victim,omitempty"`
	ExpireAt   *time.Time `json:"next_victim_expire_at,omitempty"`
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, err)
		}
	}
}

func (h *cacheHandler) put(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	if key == "" {
		return BadRequest("empty key")
	}
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return InvalidJSON("invalid json")
	}
	if req.Cost <= 0 || req.TTLMs <= 0 {
		return BadRequest("cost and ttl_ms must be greater than 0")
	}
	if !h.cache.Put(key, req.Value, req.Cost, req.TTLMs) {
		return TooManyRequests("write buffer is full")
	}
	writeSuccess(w, http.StatusAccepted, valueDTO{Key: key, Value: req.Value})
	return nil
}

func (h *cacheHandler) get(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	if key == "" {
		return BadRequest("empty key")
	}
	v, ok := h.cache.Get(key)
	if !ok {
		return NotFound("key not found")
	}
	writeSuccess(w, http.StatusOK, valueDTO{Key: key, Value: v})
	return nil
}

func (h *cacheHandler) del(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	if key == "" {
		return BadRequest("empty key")
	}
	h.cache.Delete(key)
	writeSuccess(w, http.StatusOK, valueDTO{Key: key})
	return nil
}

func (h *cacheHandler) touch(w http.ResponseWriter, r *http.Request) error {
	key := chi.URLParam(r, "key")
	if key == "" {
		return BadRequest("empty key")
	}
	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return InvalidJSON("invalid json")
	}
	if req.TTLMs <= 0 {
		return BadRequest("ttl_ms must be greater than 0")
	}
	if !h.cache.Touch(key, req.TTLMs) {
		return TooManyRequests("write buffer is full")
	}
	writeSuccess(w, http.StatusAccepted, valueDTO{Key: key})
	return nil
}

func (h *cacheHandler) stats(w http.ResponseWriter, r *http.Request) error {
	resp := statsDTO{Items: h.cache.Size(), Cost: h.cache.Cost()}
	if key, expireAt, ok := h.cache.NextVictim(); ok {
		resp.NextVictim = key
		resp.ExpireAt = &expireAt
	}
	writeSuccess(w, http.StatusOK, resp)
	return nil
}
