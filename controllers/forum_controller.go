package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclass/liveforum/config"
	"github.com/openclass/liveforum/gateway"
	"github.com/openclass/liveforum/middleware"
	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/realtime"
	"github.com/openclass/liveforum/store"
	"github.com/openclass/liveforum/utils"
)

// ForumController serves the REST read path: room snapshots, single
// posts, and room statistics. Snapshots are cached in Redis under the
// prefix the write gateway invalidates on every room mutation.
type ForumController struct {
	agg      *store.Aggregate
	gw       *gateway.Gateway
	registry *realtime.Registry
}

// NewForumController creates a new ForumController instance.
func NewForumController(agg *store.Aggregate, gw *gateway.Gateway, registry *realtime.Registry) *ForumController {
	return &ForumController{agg: agg, gw: gw, registry: registry}
}

// GetRoomSnapshot returns every post of the room in chronological order.
func (f *ForumController) GetRoomSnapshot(ctx *gin.Context) {
	room := ctx.Param("room")
	if _, err := models.ParseRoom(room); err != nil {
		utils.Error(ctx, utils.CodeBadRequest+10, "invalid room identifier")
		return
	}

	cacheKey := "cache:room:" + room + ":snapshot"
	if cached, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	posts, err := f.agg.Snapshot(ctx.Request.Context(), room)
	if err != nil {
		utils.Error(ctx, utils.CodeInternal+10, "failed to load room snapshot")
		return
	}

	envelope := utils.JSONResponse{Code: utils.CodeOK, Message: "ok", Data: gin.H{
		"room":  room,
		"posts": posts,
	}}
	body, err := json.Marshal(envelope)
	if err != nil {
		utils.Error(ctx, utils.CodeInternal+11, "failed to encode snapshot")
		return
	}
	ttl := time.Duration(config.Get().SnapshotCacheTTLSec) * time.Second
	utils.CacheSetBytes(cacheKey, body, ttl)
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// GetPost returns one post with its comments and bumps the view counter.
func (f *ForumController) GetPost(ctx *gin.Context) {
	room := ctx.Param("room")
	postID := ctx.Param("id")
	if _, err := models.ParseRoom(room); err != nil {
		utils.Error(ctx, utils.CodeBadRequest+10, "invalid room identifier")
		return
	}

	if _, err := f.agg.IncrementViews(ctx.Request.Context(), room, postID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Error(ctx, utils.CodeNotFound+10, "post not found")
			return
		}
		utils.Error(ctx, utils.CodeInternal+12, "failed to load post")
		return
	}
	post, err := f.agg.GetPost(ctx.Request.Context(), room, postID)
	if err != nil {
		utils.Error(ctx, utils.CodeInternal+12, "failed to load post")
		return
	}
	utils.Success(ctx, post)
}

// GetRoomStats reports live membership and post volume for the room.
func (f *ForumController) GetRoomStats(ctx *gin.Context) {
	room := ctx.Param("room")
	if _, err := models.ParseRoom(room); err != nil {
		utils.Error(ctx, utils.CodeBadRequest+10, "invalid room identifier")
		return
	}
	count, err := f.agg.PostCount(ctx.Request.Context(), room)
	if err != nil {
		utils.Error(ctx, utils.CodeInternal+13, "failed to load room stats")
		return
	}
	utils.Success(ctx, gin.H{
		"room":         room,
		"posts":        count,
		"live_members": f.registry.MemberCount(room),
	})
}

// PostIntent accepts a mutation intent over plain HTTP for clients
// without a live websocket. The actor identity comes from the JWT, never
// from the payload.
func (f *ForumController) PostIntent(ctx *gin.Context) {
	var req struct {
		Type   gateway.IntentType `json:"type" binding:"required"`
		Room   string             `json:"room" binding:"required"`
		Params json.RawMessage    `json:"params" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, utils.CodeBadRequest+20, "invalid request payload")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, utils.CodeUnauthorized+10, "unauthorized")
		return
	}

	result, err := f.gw.Dispatch(ctx.Request.Context(), gateway.Intent{
		Type:      req.Type,
		ActorID:   userID,
		ActorRole: middleware.ActorRole(ctx),
		Room:      req.Room,
		Params:    req.Params,
	})
	if err != nil {
		respondIntentError(ctx, err)
		return
	}
	utils.Success(ctx, result)
}

func respondIntentError(ctx *gin.Context, err error) {
	switch gateway.ErrorKind(err) {
	case "Unauthorized":
		utils.Error(ctx, utils.CodeForbidden+1, "not allowed")
	case "NotFound":
		utils.Error(ctx, utils.CodeNotFound+1, "target not found")
	case "InvalidState":
		utils.Error(ctx, utils.CodeConflict+1, "conflicting state")
	case "BadIntent":
		utils.Error(ctx, utils.CodeBadRequest+21, err.Error())
	default:
		utils.Error(ctx, utils.CodeInternal+20, "internal error")
	}
}

func getUserID(ctx *gin.Context) (string, bool) {
	v, ok := ctx.Get(middleware.ContextUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
