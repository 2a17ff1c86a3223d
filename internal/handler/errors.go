package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/scholarly/internal/middleware"
	"github.com/hitoshi/scholarly/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse はAPIErrorを統一エラーフォーマットで書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		protoErr    *model.ProtocolError
		conflictErr *model.ConflictError
		validErr    *model.ValidationError
		apiErr      *model.APIError
	)

	switch {
	case model.IsAuthenticationError(err):
		middleware.WriteUnauthenticated(w)
	case errors.As(err, &protoErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewOAuthFailedError(protoErr))
	case errors.As(err, &conflictErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewEmailConflictError(conflictErr))
	case errors.As(err, &validErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError(validErr))
	case errors.Is(err, model.ErrUserNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
	case errors.As(err, &apiErr):
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
	default:
		// 型付きエラー以外は内部サーバーエラーとして扱う
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeOAuthFailed, model.ErrCodeEmailConflict, model.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
