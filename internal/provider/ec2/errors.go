// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	stderrors "errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// EC2 error codes the reaper reacts to.
const (
	codeImageNotFound        = "InvalidAMIID.NotFound"
	codeImageUnavailable     = "InvalidAMIID.Unavailable"
	codeSnapshotNotFound     = "InvalidSnapshot.NotFound"
	codeUnauthorizedOp       = "UnauthorizedOperation"
	codeAuthFailure          = "AuthFailure"
	codeRequestLimitExceeded = "RequestLimitExceeded"
)

// ProviderRequestError is returned when a call to the EC2 API fails.
type ProviderRequestError struct {
	// Op is the name of the EC2 operation, e.g. DeregisterImage.
	Op     string
	Region string

	// Code is the EC2 error code, if the API returned one.
	Code string
	Err  error
}

// Error implements error.
func (e *ProviderRequestError) Error() string {
	return fmt.Sprintf("ec2 %s in %s: %v", e.Op, e.Region, e.Err)
}

// Unwrap returns the underlying SDK error.
func (e *ProviderRequestError) Unwrap() error {
	return e.Err
}

// IsAuthorization reports whether the request was rejected for lack of
// credentials or permissions.
func (e *ProviderRequestError) IsAuthorization() bool {
	return e.Code == codeUnauthorizedOp || e.Code == codeAuthFailure
}

// IsThrottled reports whether the request was rejected by the provider's
// rate limit.
func (e *ProviderRequestError) IsThrottled() bool {
	return e.Code == codeRequestLimitExceeded
}

func newProviderRequestError(op, region string, err error) error {
	return &ProviderRequestError{
		Op:     op,
		Region: region,
		Code:   errorCode(err),
		Err:    err,
	}
}

// IsProviderRequestError reports whether err is, or wraps, a
// *ProviderRequestError.
func IsProviderRequestError(err error) bool {
	var reqErr *ProviderRequestError
	return stderrors.As(err, &reqErr)
}

// errorCode returns the EC2 error code carried by err, or "" if there is
// none.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func hasErrorCode(err error, codes ...string) bool {
	code := errorCode(err)
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}
