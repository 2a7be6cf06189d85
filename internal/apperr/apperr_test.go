package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageOnlyWhenNoCause(t *testing.T) {
	err := New(CodeValidation, "bad input")
	assert.Equal(t, "bad input", err.Error())
}

func TestError_IncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeDatabase, "save failed", cause)
	assert.Equal(t, "save failed: boom", err.Error())
	assert.Same(t, cause, err.Unwrap())
}

func TestWrap_NilCauseReturnsNilError(t *testing.T) {
	err := Wrap(CodeExternalService, "unused", nil)
	assert.Nil(t, err)
}

func TestHTTPStatus_MapsKnownCodes(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:            http.StatusBadRequest,
		CodeAuthentication:        http.StatusUnauthorized,
		CodeAuthorization:         http.StatusForbidden,
		CodeNotFound:              http.StatusNotFound,
		CodeConflict:              http.StatusConflict,
		CodeExternalService:       http.StatusBadGateway,
		CodeMarketDataUnavailable: http.StatusServiceUnavailable,
		CodeRateLimit:             http.StatusTooManyRequests,
		CodeDatabase:              http.StatusInternalServerError,
	}
	for code, want := range cases {
		err := New(code, "x")
		assert.Equal(t, want, err.HTTPStatus(), "code %s", code)
	}
}

func TestHTTPStatus_UnknownCodeDefaultsTo500(t *testing.T) {
	err := New(Code("something_new"), "x")
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestCodeOf_ExtractsCodeFromWrappedChain(t *testing.T) {
	inner := New(CodeNotFound, "missing")
	outer := fmt.Errorf("loading: %w", inner)
	assert.Equal(t, CodeNotFound, CodeOf(outer))
}

func TestCodeOf_PlainErrorDefaultsToDatabase(t *testing.T) {
	assert.Equal(t, CodeDatabase, CodeOf(errors.New("plain")))
}

func TestIs_MatchesTaggedCode(t *testing.T) {
	err := New(CodeRateLimit, "slow down")
	assert.True(t, Is(err, CodeRateLimit))
	assert.False(t, Is(err, CodeConflict))
}
