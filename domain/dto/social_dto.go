package dto

import "time"

// Res is the generic response envelope used by handlers and middleware.
type Res struct {
	ResponseCode    string      `json:"response_code"`
	ResponseMessage string      `json:"response_message"`
	Data            interface{} `json:"data,omitempty"`
}

// SchedulePostRequest is the body of POST /api/social/posts.
type SchedulePostRequest struct {
	Platform       string            `json:"platform" binding:"required"`
	AccountID      int64             `json:"account_id" binding:"required"`
	VideoKey       string            `json:"video_key" binding:"required"`
	Title          string            `json:"title"`
	Caption        string            `json:"caption"`
	ScheduledAt    time.Time         `json:"scheduled_at" binding:"required"`
	PublishOptions map[string]string `json:"publish_options"`
}

// ConnectAccountRequest completes an OAuth exchange for an already-consented
// authorization code.
type ConnectAccountRequest struct {
	Platform string `json:"platform" binding:"required"`
	Code     string `json:"code" binding:"required"`
	State    string `json:"state"`
}
