package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "ValidationError", KindValidation.String())
	assert.Equal(t, "ResourceNotFound", KindResourceNotFound.String())
	assert.Equal(t, "Internal", Kind(99).String())
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("app %q not found", "app1"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.True(t, IsNotFound(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", Validation("bad"), ExitValidation},
		{"required", RequiredArgument("--ingress"), ExitValidation},
		{"remote", RemoteFailed("Boom", "failed"), ExitRemote},
		{"not found", NotFound("x"), ExitRemote},
		{"cancelled", Cancelled(context.Canceled), ExitCancelled},
		{"raw context", context.Canceled, ExitCancelled},
		{"plain", errors.New("plain"), ExitRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestDecodeRemoteError(t *testing.T) {
	wrapped, ok := DecodeRemoteError([]byte(`{"error":{"code":"BadRequest","message":"nope","target":"name"}}`))
	require.True(t, ok)
	assert.Equal(t, "BadRequest", wrapped.Code)
	assert.Equal(t, "name", wrapped.Target)

	flat, ok := DecodeRemoteError([]byte(`{"code":"Conflict","message":"busy"}`))
	require.True(t, ok)
	assert.Equal(t, "busy", flat.Message)

	_, ok = DecodeRemoteError([]byte(`not json`))
	assert.False(t, ok)
	_, ok = DecodeRemoteError(nil)
	assert.False(t, ok)
}

func TestFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantCode string
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"ResourceNotFound","message":"gone"}}`, KindResourceNotFound, "ResourceNotFound"},
		{"already exists", http.StatusConflict, `{"error":{"code":"ResourceAlreadyExists","message":"dup"}}`, KindAlreadyExists, "ResourceAlreadyExists"},
		{"forbidden", http.StatusForbidden, `{"error":{"code":"AuthorizationFailed","message":"no"}}`, KindUnauthorized, "AuthorizationFailed"},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"InvalidParameter","message":"bad"}}`, KindRemoteOperationFailed, "InvalidParameter"},
		{"plain body", http.StatusInternalServerError, `oops`, KindRemoteOperationFailed, ""},
		{"empty body", http.StatusBadGateway, ``, KindRemoteOperationFailed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := FromResponse(tt.status, []byte(tt.body))
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.status, e.StatusCode)
		})
	}
}

func TestFromResponseEmptyBodyUsesStatusText(t *testing.T) {
	e := FromResponse(http.StatusBadGateway, nil)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), e.Message)
}

func TestLegacyClassifier(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantMsg string
	}{
		{"workload profile required", "Error: WorkloadProfileNameRequired for app", MsgWorkloadProfileRequired},
		{"unknown properties", "Unknown properties Name in WorkloadProfile are not supported", MsgWorkloadProfileNotSupported},
		{"job start", "Error starting job: exit 1", MsgJobStartFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(errors.New(tt.msg))
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLegacyClassifierEmbeddedJSON(t *testing.T) {
	err := Classify(errors.New(`Operation failed with status 400: {"error":{"code":"InvalidTemplate","message":"bad template"}}`))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindRemoteOperationFailed, e.Kind)
	assert.Equal(t, "InvalidTemplate", e.Code)
	assert.Equal(t, "bad template", e.Message)
}

func TestFromResponseLegacyCase(t *testing.T) {
	e := FromResponse(http.StatusBadRequest, []byte(`{"error":{"code":"WorkloadProfileNameRequired","message":"set it"}}`))
	assert.Equal(t, KindValidation, e.Kind)
	assert.Equal(t, MsgWorkloadProfileRequired, e.Message)
}

func TestClassifyPassesThrough(t *testing.T) {
	original := Validation("already typed")
	assert.Same(t, original, Classify(original))
	assert.Nil(t, Classify(nil))

	err := Classify(context.DeadlineExceeded)
	assert.Equal(t, KindCancelled, KindOf(err))

	plain := Classify(errors.New("boom"))
	assert.Equal(t, KindInternal, KindOf(plain))
}

func TestFromOperationError(t *testing.T) {
	e := FromOperationError(&RemoteError{Code: "ProvisioningFailed", Message: "image pull"}, "Failed")
	assert.Equal(t, KindRemoteOperationFailed, e.Kind)
	assert.Equal(t, "ProvisioningFailed", e.Code)

	e = FromOperationError(nil, "Canceled")
	assert.Equal(t, "Canceled", e.Code)
}

func TestFromSDK(t *testing.T) {
	err := FromSDK(&azcore.ResponseError{ErrorCode: "RoleAssignmentExists", StatusCode: http.StatusConflict})
	assert.Equal(t, KindRemoteOperationFailed, KindOf(err))

	err = FromSDK(&azcore.ResponseError{ErrorCode: "NotFound", StatusCode: http.StatusNotFound})
	assert.True(t, IsNotFound(err))

	err = FromSDK(&azcore.ResponseError{ErrorCode: "AuthorizationFailed", StatusCode: http.StatusForbidden})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	assert.Nil(t, FromSDK(nil))
}

func TestMissingAsyncHeader(t *testing.T) {
	e := MissingAsyncHeader("azure-asyncoperation")
	assert.Equal(t, KindInternal, e.Kind)
	assert.Contains(t, e.Error(), "azure-asyncoperation")
}

func TestErrorFormatting(t *testing.T) {
	e := &Error{Kind: KindRemoteOperationFailed, Code: "C", Message: "m", Target: "t"}
	assert.Equal(t, "(C) m [target: t]", e.Error())

	wrapped := &Error{Kind: KindCancelled, Err: context.Canceled}
	assert.Equal(t, context.Canceled.Error(), wrapped.Error())
}
