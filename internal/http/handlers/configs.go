package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/cache"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/domain/registrant"
)

type ConfigStore interface {
	Get(ctx context.Context, role string) (regconfig.Config, error)
	Upsert(ctx context.Context, role string, req regconfig.UpsertRequest) (regconfig.Config, error)
}

// ConfigReader is what the rest of the API needs from the config store.
type ConfigReader interface {
	Get(ctx context.Context, role string) (regconfig.Config, error)
}

type ConfigsHandler struct {
	store ConfigStore
	cache *cache.TTL[regconfig.Config]
}

func NewConfigsHandler(store ConfigStore, ttl time.Duration) *ConfigsHandler {
	return &ConfigsHandler{
		store: store,
		cache: cache.New[regconfig.Config](ttl),
	}
}

// Get is a cached read, shared by the handlers that need categories or OTP rules.
func (h *ConfigsHandler) Get(ctx context.Context, role string) (regconfig.Config, error) {
	return h.cache.GetOrLoad(ctx, role, func(ctx context.Context) (regconfig.Config, error) {
		return h.store.Get(ctx, role)
	})
}

// GET /api/{role}-config
func (h *ConfigsHandler) Show(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cctx, cancel := config.WithTimeout(2 * time.Second)
		defer cancel()

		c, err := h.Get(cctx, string(role))
		if err != nil {
			if errors.Is(err, regconfig.ErrNotFound) {
				RespondNotFound(ctx, "Registration config not found")
				return
			}
			RespondInternal(ctx, "Could not load registration config")
			return
		}

		RespondJSONWithETag(ctx, http.StatusOK, c)
	}
}

// PUT /api/{role}-config
func (h *ConfigsHandler) Put(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req regconfig.UpsertRequest
		if !BindJSON(ctx, &req) {
			return
		}

		if dup := duplicateFieldName(req.Fields); dup != "" {
			RespondBadRequest(ctx, "Field names must be unique", gin.H{"field": dup})
			return
		}

		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		c, err := h.store.Upsert(cctx, string(role), req)
		if err != nil {
			RespondInternal(ctx, "Could not save registration config")
			return
		}
		h.cache.Delete(string(role))

		ctx.JSON(http.StatusOK, c)
	}
}

func duplicateFieldName(fields []regconfig.Field) string {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		k := strings.ToLower(strings.TrimSpace(f.Name))
		if _, ok := seen[k]; ok {
			return f.Name
		}
		seen[k] = struct{}{}
	}
	return ""
}
