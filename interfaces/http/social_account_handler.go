package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"social-publisher/domain/dto"
	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"
)

type ISocialAccountHandler interface {
	ListAccounts(ctx *gin.Context)
	StartConnect(ctx *gin.Context)
	ConnectAccount(ctx *gin.Context)
	DisconnectAccount(ctx *gin.Context)
}

type SocialAccountHandler struct {
	scheduleUsecase usecase.IScheduleUsecase
}

func NewSocialAccountHandler(uc usecase.IScheduleUsecase) ISocialAccountHandler {
	return &SocialAccountHandler{scheduleUsecase: uc}
}

func (h *SocialAccountHandler) ListAccounts(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	accounts, err := h.scheduleUsecase.ListAccounts(ctx.Request.Context(), userID)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: err.Error()})
		return
	}
	if accounts == nil {
		accounts = []*model.ConnectedAccount{}
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: accounts})
}

// StartConnect hands the caller the provider consent URL. The state in the
// response must come back unchanged on ConnectAccount.
func (h *SocialAccountHandler) StartConnect(ctx *gin.Context) {
	authURL, state, err := h.scheduleUsecase.StartConnect(ctx.Request.Context(), ctx.Param("platform"))
	if err != nil {
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: gin.H{
		"auth_url": authURL,
		"state":    state,
	}})
}

func (h *SocialAccountHandler) ConnectAccount(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	var req dto.ConnectAccountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid request body"})
		return
	}
	acct, err := h.scheduleUsecase.ConnectAccount(ctx.Request.Context(), userID, &req)
	if err != nil {
		logger.GetLogger().
			WithField("userId", userID).
			WithField("platform", req.Platform).
			WithField("error", err.Error()).
			Warn("Account connect failed")
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	ctx.JSON(http.StatusCreated, dto.Res{ResponseCode: "201", ResponseMessage: "Connected", Data: acct})
}

func (h *SocialAccountHandler) DisconnectAccount(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid account id"})
		return
	}
	if err := h.scheduleUsecase.DisconnectAccount(ctx.Request.Context(), userID, id); err != nil {
		status, msg := mapScheduleError(err)
		ctx.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: msg})
		return
	}
	ctx.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Disconnected"})
}
