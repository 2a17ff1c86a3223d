package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/scholarly/internal/middleware"
	"github.com/hitoshi/scholarly/internal/model"
)

// maxMessageBodyBytes はPOST /chat/messageのリクエストボディ上限。
const maxMessageBodyBytes = 64 << 10

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Append(ctx context.Context, userID, message, sender string) (*model.ChatMessage, error)
	List(ctx context.Context, userID string, limit int) ([]model.ChatMessage, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

// ChatHandler はチャット履歴のHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

// postMessageRequest はPOST /chat/messageのボディ。
// キーの有無を区別するためポインタで受ける。空文字列は有効な値として扱う。
type postMessageRequest struct {
	Message *string `json:"message"`
	Sender  *string `json:"sender"`
}

// validate は欠けている必須キーを*model.ValidationErrorとして返す。
func (req postMessageRequest) validate() error {
	var missing []string
	if req.Message == nil {
		missing = append(missing, "message")
	}
	if req.Sender == nil {
		missing = append(missing, "sender")
	}
	if len(missing) > 0 {
		return &model.ValidationError{Fields: missing}
	}
	return nil
}

type chatMessageResponse struct {
	ID        int64  `json:"id"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// PostMessage はメッセージを履歴に保存する。
// POST /chat/message
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	// JSONとして読めないボディ（文字列以外の値を含む）は必須キーなしとして扱う
	var req postMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBodyBytes)).Decode(&req); err != nil {
		req = postMessageRequest{}
	}
	if err := req.validate(); err != nil {
		handleServiceError(w, err)
		return
	}

	msg, err := h.service.Append(r.Context(), userID, *req.Message, *req.Sender)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Message saved",
		"id":      msg.ID,
	})
}

// GetHistory はユーザーの履歴を古い順に返す。
// GET /chat/history?limit=N
//
// limitが数値でない場合は既定値を使う。
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	history := make([]chatMessageResponse, 0, len(messages))
	for _, m := range messages {
		history = append(history, chatMessageResponse{
			ID:        m.ID,
			Message:   m.Message,
			Sender:    m.Sender,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"chat_history": history})
}

// DeleteHistory はユーザーの全履歴を削除する。
// DELETE /chat/history
func (h *ChatHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	deleted, err := h.service.Clear(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Chat history deleted",
		"deleted": deleted,
	})
}
