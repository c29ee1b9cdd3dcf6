package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"
)

type ISocialPostHandler interface {
	SchedulePost(ctx *gin.Context)
	ListPosts(ctx *gin.Context)
	GetPost(ctx *gin.Context)
	GetPostLogs(ctx *gin.Context)
	CancelPost(ctx *gin.Context)
}

type SocialPostHandler struct {
	scheduleUsecase usecase.IScheduleUsecase
}

func NewSocialPostHandler(uc usecase.IScheduleUsecase) ISocialPostHandler {
	return &SocialPostHandler{scheduleUsecase: uc}
}

func (h *SocialPostHandler) SchedulePost(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	var req dto.SchedulePostRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid request body"})
		return
	}
	post, err := h.scheduleUsecase.SchedulePost(ctx.Request.Context(), userID, &req)
	if err != nil {
		logger.GetLogger().
			WithField("userId", userID).
			WithField("platform", req.Platform).
			WithField("error", err.Error()).
			Warn("Schedule request rejected")
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	ctx.JSON(http.StatusCreated, dto.Res{ResponseCode: "201", ResponseMessage: "Created", Data: post})
}

func (h *SocialPostHandler) ListPosts(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	posts, err := h.scheduleUsecase.ListPosts(ctx.Request.Context(), userID, ctx.Query("status"), limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: err.Error()})
		return
	}
	if posts == nil {
		posts = []*model.ScheduledPost{}
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: posts})
}

func (h *SocialPostHandler) GetPost(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid post id"})
		return
	}
	post, err := h.scheduleUsecase.GetPost(ctx.Request.Context(), userID, id)
	if err != nil {
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: post})
}

func (h *SocialPostHandler) GetPostLogs(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid post id"})
		return
	}
	logs, err := h.scheduleUsecase.GetPostLogs(ctx.Request.Context(), userID, id)
	if err != nil {
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	if logs == nil {
		logs = []*model.UploadLog{}
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: logs})
}

func (h *SocialPostHandler) CancelPost(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid post id"})
		return
	}
	if err := h.scheduleUsecase.CancelPost(ctx.Request.Context(), userID, id); err != nil {
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Cancelled"})
}

// mapScheduleError translates usecase errors onto HTTP statuses. Unknown
// errors stay 500 so storage faults are not mistaken for bad requests.
func mapScheduleError(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrUnknownPlatform),
		errors.Is(err, usecase.ErrPastSchedule),
		errors.Is(err, usecase.ErrAccountMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, usecase.ErrAccountNotFound),
		errors.Is(err, usecase.ErrPostNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, usecase.ErrAccountUnusable),
		errors.Is(err, usecase.ErrNotCancellable):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
