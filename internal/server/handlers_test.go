package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"treesync/internal/models"
)

func TestClassifyRunError(t *testing.T) {
	srv := &Server{}
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		errCode int
		message string
	}{
		{
			name:    "not found",
			err:     fmt.Errorf("project p9: %w", models.ErrNotFound),
			status:  http.StatusNotFound,
			code:    "not_found",
			errCode: ErrCodeScopeNotFound,
			message: "project p9: no data found",
		},
		{
			name:    "transfer failure keeps its message",
			err:     models.TransferFailed("doc1", errors.New("source object doc1 does not exist")),
			status:  http.StatusInternalServerError,
			code:    "transfer_failed",
			errCode: ErrCodeTransferFailed,
			message: "transfer doc1 failed: source object doc1 does not exist",
		},
		{
			name:    "store failure is masked",
			err:     models.NewStoreError("put", "projects/p1", false, errors.New("disk full")),
			status:  http.StatusInternalServerError,
			code:    "internal",
			errCode: ErrCodeStoreFailure,
			message: "internal error",
		},
		{
			name:    "unknown error is masked",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    "internal",
			errCode: ErrCodeInternal,
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyRunError(tt.err)
			status := httpStatusFromError(err)
			if status != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, status)
			}
			resp := srv.errorResponse(nil, status, err)
			if resp.Code != tt.code || resp.ErrorCode != tt.errCode || resp.Message != tt.message {
				t.Fatalf("unexpected response %+v", resp)
			}
		})
	}
}
