package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// RemoteError is the ARM error schema.
type RemoteError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Target  string        `json:"target,omitempty"`
	Details []RemoteError `json:"details,omitempty"`
}

type remoteEnvelope struct {
	Error *RemoteError `json:"error"`
}

// Legacy message fragments recognised by the substring classifier.
const (
	workloadProfileRequiredFragment = "WorkloadProfileNameRequired"
	unknownPropertiesFragment       = "Unknown properties Name"
	workloadProfileFragment         = "WorkloadProfile"
	jobStartFragment                = "Error starting job"
)

// Legacy messages surfaced for the substring classifier.
const (
	MsgWorkloadProfileRequired     = "workload profile name required"
	MsgWorkloadProfileNotSupported = "workload profile not supported in region"
	MsgJobStartFailed              = "job execution start failed; check inputs"
)

var embeddedJSONPattern = regexp.MustCompile(`(?s)\{.*\}`)

// DecodeRemoteError decodes body as either {"error":{...}} or {code, message}.
func DecodeRemoteError(body []byte) (*RemoteError, bool) {
	if len(body) == 0 {
		return nil, false
	}
	var wrapped remoteEnvelope
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil && wrapped.Error.Code != "" {
		return wrapped.Error, true
	}
	var flat RemoteError
	if err := json.Unmarshal(body, &flat); err == nil && flat.Code != "" {
		return &flat, true
	}
	return nil, false
}

// FromResponse classifies a non-2xx response.
func FromResponse(statusCode int, body []byte) *Error {
	remote, ok := DecodeRemoteError(body)
	if !ok {
		remote = &RemoteError{Message: strings.TrimSpace(string(body))}
		if remote.Message == "" {
			remote.Message = http.StatusText(statusCode)
		}
	}

	if legacy := classifyLegacy(remote.Code + " " + remote.Message); legacy != nil {
		legacy.StatusCode = statusCode
		return legacy
	}

	e := &Error{
		Code:       remote.Code,
		Message:    remote.Message,
		Target:     remote.Target,
		StatusCode: statusCode,
	}
	switch {
	case statusCode == http.StatusNotFound:
		e.Kind = KindResourceNotFound
	case containsFold(remote.Code, "AlreadyExists"):
		e.Kind = KindAlreadyExists
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.Kind = KindUnauthorized
	default:
		e.Kind = KindRemoteOperationFailed
	}
	return e
}

// FromOperationError converts the error object of a failed LRO status body.
func FromOperationError(remote *RemoteError, status string) *Error {
	if remote == nil {
		return RemoteFailed(status, "operation ended with status "+status)
	}
	if legacy := classifyLegacy(remote.Code + " " + remote.Message); legacy != nil {
		return legacy
	}
	return &Error{
		Kind:    KindRemoteOperationFailed,
		Code:    remote.Code,
		Message: remote.Message,
		Target:  remote.Target,
	}
}

// FromSDK maps an error returned by an Azure SDK client.
func FromSDK(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		e := &Error{
			Code:       respErr.ErrorCode,
			Message:    respErr.Error(),
			StatusCode: respErr.StatusCode,
			Err:        err,
		}
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			e.Kind = KindResourceNotFound
		case containsFold(respErr.ErrorCode, "AlreadyExists"):
			e.Kind = KindAlreadyExists
		case respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden:
			e.Kind = KindUnauthorized
		default:
			e.Kind = KindRemoteOperationFailed
		}
		return e
	}
	return Classify(err)
}

// Classify applies the legacy substring classifier to an arbitrary error.
// Already classified errors and context errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	if legacy := classifyLegacy(err.Error()); legacy != nil {
		legacy.Err = err
		return legacy
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

func classifyLegacy(msg string) *Error {
	switch {
	case strings.Contains(msg, workloadProfileRequiredFragment):
		return Validation(MsgWorkloadProfileRequired)
	case strings.Contains(msg, unknownPropertiesFragment) && strings.Contains(msg, workloadProfileFragment):
		return Validation(MsgWorkloadProfileNotSupported)
	case strings.Contains(msg, jobStartFragment):
		return Validation(MsgJobStartFailed)
	}
	if blob := embeddedJSONPattern.FindString(msg); blob != "" {
		if remote, ok := DecodeRemoteError([]byte(blob)); ok {
			return RemoteFailed(remote.Code, remote.Message)
		}
	}
	return nil
}
