package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

func fastClient(url string) *Client {
	return NewClient(Config{
		BaseURL:        url,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestCatalogEndpoints(t *testing.T) {
	want := map[string]string{
		OpGetPatientByID:       "/patient/7",
		OpGetAllPatients:       "/patients",
		OpGetDoctorByID:        "/doctor/7",
		OpGetAllDoctors:        "/doctors",
		OpGetStudyByID:         "/study/7",
		OpGetAllStudies:        "/studies",
		OpGetDoctorsForPatient: "/patient/7/doctors",
		OpGetStudiesForPatient: "/patient/7/studies",
		OpGetStudiesForDoctor:  "/doctor/7/studies",
	}
	ops := Catalog()
	require.Len(t, ops, len(want))
	for _, op := range ops {
		assert.Equal(t, want[op.Name], op.Endpoint(7), op.Name)
		if op.Param == "" {
			assert.Empty(t, op.Parameters())
		} else {
			require.Len(t, op.Parameters(), 1)
			assert.Equal(t, "integer", op.Parameters()[0].Type)
		}
	}
	_, ok := Lookup("delete_patient")
	assert.False(t, ok)
}

func TestClientInvoke(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches patient and forwards caller id", func(t *testing.T) {
		var gotPath, gotCaller string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath, gotCaller = r.URL.Path, r.Header.Get(CallerIDHeader)
			_, _ = w.Write([]byte(`{"id":7,"name":"Asha Rao","age":54,"gender":"F","diagnosis":"Type 2 diabetes",
				"contact_number":"555-0107","email":"asha@example.org","admission_date":"2024-03-02"}`))
		}))
		defer srv.Close()

		p, err := GetPatient(WithCallerID(ctx, "dr-who"), fastClient(srv.URL), 7)
		require.NoError(t, err)
		assert.Equal(t, "/patient/7", gotPath)
		assert.Equal(t, "dr-who", gotCaller)
		assert.Equal(t, "Asha Rao", p.Name)
		assert.Nil(t, p.DischargeDate)
	})

	t.Run("unknown operation never reaches the service", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
		defer srv.Close()

		_, err := fastClient(srv.URL).Invoke(ctx, "drop_tables", nil)
		require.Error(t, err)
		assert.True(t, medragerr.IsNotFound(err))
		var opErr *OperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "Unknown function: drop_tables", opErr.Reason)
		assert.Zero(t, hits.Load())
	})

	t.Run("argument coercion", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		}))
		defer srv.Close()
		c := fastClient(srv.URL)

		for _, good := range []any{7, float64(7), "7", json.Number("7")} {
			_, err := c.Invoke(ctx, OpGetStudiesForPatient, map[string]any{"patient_id": good})
			assert.NoError(t, err, "%T", good)
		}
		for _, bad := range []any{7.5, "seven", true, -1, nil} {
			_, err := c.Invoke(ctx, OpGetStudiesForPatient, map[string]any{"patient_id": bad})
			assert.True(t, medragerr.IsInvalidInput(err), "%v", bad)
		}
	})

	t.Run("404 is permanent and keeps diagnostics", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			http.Error(w, `{"detail":"Patient not found"}`, http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := fastClient(srv.URL).Invoke(ctx, OpGetPatientByID, map[string]any{"patient_id": 99})
		require.Error(t, err)
		assert.EqualValues(t, 1, hits.Load())
		assert.True(t, medragerr.IsNotFound(err))

		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
		assert.Contains(t, httpErr.Body, "Patient not found")

		payload := ErrorPayload(OpGetPatientByID, err)
		assert.Equal(t, "HTTP error occurred: 404", payload["error"])
		assert.Equal(t, OpGetPatientByID, payload["operation_name"])
		assert.Equal(t, srv.URL+"/patient/99", payload["url"])
	})

	t.Run("5xx retried until success", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`[{"id":1,"doctor_name":"Dr. Mehta","patient_id":7}]`))
		}))
		defer srv.Close()

		docs, err := DoctorsForPatient(ctx, fastClient(srv.URL), 7)
		require.NoError(t, err)
		assert.EqualValues(t, 3, hits.Load())
		require.Len(t, docs, 1)
		assert.Equal(t, "Dr. Mehta", docs[0].DoctorName)
	})

	t.Run("5xx gives up after max attempts", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := fastClient(srv.URL).Invoke(ctx, OpGetAllStudies, nil)
		require.Error(t, err)
		assert.EqualValues(t, 3, hits.Load())
		assert.True(t, medragerr.IsUpstreamFailure(err))
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>oops</html>`))
		}))
		defer srv.Close()

		_, err := fastClient(srv.URL).Invoke(ctx, OpGetAllDoctors, nil)
		require.Error(t, err)
		assert.True(t, medragerr.HasCode(err, medragerr.CodeRecordsResponseInvalid))
	})

	t.Run("transport failure becomes payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := fastClient(url).Invoke(ctx, OpGetAllPatients, nil)
		require.Error(t, err)
		payload := ErrorPayload(OpGetAllPatients, err)
		assert.Equal(t, "HTTP Request failed", payload["error"])
		assert.Equal(t, url+"/patients", payload["url"])
	})
}
