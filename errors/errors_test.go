package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

func TestNewCarriesCodeAndFields(t *testing.T) {
	err := medragerr.New(medragerr.CodeRecordsInvokeUnknownOperation, "unknown operation",
		medragerr.FieldOperation("get_everything"))

	require.Error(t, err)
	assert.Equal(t, medragerr.CodeRecordsInvokeUnknownOperation, medragerr.CodeOf(err))
	assert.True(t, medragerr.IsNotFound(err))
	assert.Equal(t, "get_everything", medragerr.FieldsOf(err)["operation"])
}

func TestWrapKeepsChain(t *testing.T) {
	root := stderrors.New("connection refused")
	err := medragerr.Wrap(root, medragerr.CodeRecordsHTTPUpstreamFailure, "calling records service")

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.True(t, medragerr.IsUpstreamFailure(err))
	assert.Nil(t, medragerr.Wrap(nil, medragerr.CodeAgentLoopFailure, "noop"))
	assert.Nil(t, medragerr.Wrapf(nil, medragerr.CodeAgentLoopFailure, "noop %d", 1))
}

func TestErrorfWrapsInner(t *testing.T) {
	inner := stderrors.New("disk full")
	err := medragerr.Errorf(medragerr.CodeRetrievalIndexFailure, "indexing chunk %d: %w", 3, inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "indexing chunk 3")
}

func TestSentinelsClassify(t *testing.T) {
	assert.True(t, medragerr.IsNotFound(fmt.Errorf("patient: %w", medragerr.ErrNotFound)))
	assert.True(t, medragerr.IsInvalidInput(fmt.Errorf("args: %w", medragerr.ErrInvalidInput)))
	assert.Equal(t, medragerr.Code(""), medragerr.CodeOf(stderrors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid", medragerr.New(medragerr.CodeServerRequestInvalid, "bad body"), http.StatusBadRequest},
		{"rate", medragerr.New(medragerr.CodeMiddlewareRateLimited, "slow down"), http.StatusTooManyRequests},
		{"timeout", medragerr.New(medragerr.CodeAgentToolTimeout, "late"), http.StatusGatewayTimeout},
		{"upstream", medragerr.New(medragerr.CodeProviderUpstreamFailure, "503"), http.StatusBadGateway},
		{"other", stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, medragerr.HTTPStatus(tc.err))
		})
	}
}
