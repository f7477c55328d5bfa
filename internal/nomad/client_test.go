package nomad

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startFakeNomad runs an httptest server with the given chi routes and
// returns a client pointed at it.
func startFakeNomad(t *testing.T, cfg Config, routes func(r chi.Router)) *Client {
	t.Helper()

	r := chi.NewRouter()
	routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	cfg.Address = ts.URL
	return NewClient(cfg, testLogger())
}

func TestDispatch(t *testing.T) {
	dispatchedID := "etl-batch-dispatch-" + uuid.NewString()
	evalID := uuid.NewString()
	payload := []byte("hello payload")

	var got struct {
		Meta             map[string]string `json:"Meta"`
		Payload          string            `json:"Payload"`
		IdPrefixTemplate string            `json:"IdPrefixTemplate"`
	}

	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Post("/v1/job/{jobID}/dispatch", func(w http.ResponseWriter, req *http.Request) {
			if jobID := chi.URLParam(req, "jobID"); jobID != "etl-batch" {
				t.Errorf("jobID = %q, want %q", jobID, "etl-batch")
			}
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				t.Fatalf("decode dispatch body: %v", err)
			}
			json.NewEncoder(w).Encode(DispatchResponse{
				DispatchedJobID: dispatchedID,
				EvalID:          evalID,
			})
		})
	})

	resp, err := c.Dispatch(context.Background(), DispatchRequest{
		JobID:            "etl-batch",
		Meta:             map[string]string{"env": "prod"},
		Payload:          payload,
		IDPrefixTemplate: "nightly",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if resp.DispatchedJobID != dispatchedID || resp.EvalID != evalID {
		t.Errorf("unexpected response: %+v", resp)
	}
	if got.Meta["env"] != "prod" {
		t.Errorf("meta not forwarded: %v", got.Meta)
	}
	if got.Payload != base64.StdEncoding.EncodeToString(payload) {
		t.Errorf("payload not base64-encoded on the wire: %q", got.Payload)
	}
	if got.IdPrefixTemplate != "nightly" {
		t.Errorf("IdPrefixTemplate = %q", got.IdPrefixTemplate)
	}
}

func TestDispatch_ServerErrorIsVerbatim(t *testing.T) {
	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Post("/v1/job/{jobID}/dispatch", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, `job "etl-batch" is not parameterized`, http.StatusBadRequest)
		})
	})

	_, err := c.Dispatch(context.Background(), DispatchRequest{JobID: "etl-batch"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Error() != `job "etl-batch" is not parameterized` {
		t.Errorf("server message not verbatim: %q", apiErr.Error())
	}
}

func TestEvalAllocations(t *testing.T) {
	evalID := uuid.NewString()
	allocID := uuid.NewString()

	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Get("/v1/evaluation/{evalID}/allocations", func(w http.ResponseWriter, req *http.Request) {
			if got := chi.URLParam(req, "evalID"); got != evalID {
				t.Errorf("evalID = %q, want %q", got, evalID)
			}
			json.NewEncoder(w).Encode([]map[string]any{
				{"ID": allocID, "TaskStates": map[string]any{"worker": map[string]any{"State": "running"}}},
			})
		})
	})

	allocs, err := c.EvalAllocations(context.Background(), evalID)
	if err != nil {
		t.Fatalf("EvalAllocations: %v", err)
	}
	if len(allocs) != 1 || allocs[0].ID != allocID {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}
	if _, ok := allocs[0].TaskStates["worker"]; !ok {
		t.Errorf("worker task state missing: %+v", allocs[0].TaskStates)
	}
}

func TestEvalAllocations_Empty(t *testing.T) {
	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Get("/v1/evaluation/{evalID}/allocations", func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte("[]"))
		})
	})

	allocs, err := c.EvalAllocations(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("EvalAllocations: %v", err)
	}
	if len(allocs) != 0 {
		t.Errorf("expected no allocations, got %+v", allocs)
	}
}

func TestLogChunk(t *testing.T) {
	allocID := uuid.NewString()

	c := startFakeNomad(t, Config{Region: "eu1", Namespace: "batch", Token: "secret"}, func(r chi.Router) {
		r.Get("/v1/client/fs/logs/{allocID}", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			if q.Get("task") != "worker" || q.Get("type") != "stderr" {
				t.Errorf("task/type query = %q/%q", q.Get("task"), q.Get("type"))
			}
			if q.Get("offset") != "42" || q.Get("origin") != "start" {
				t.Errorf("offset/origin query = %q/%q", q.Get("offset"), q.Get("origin"))
			}
			if q.Get("region") != "eu1" || q.Get("namespace") != "batch" {
				t.Errorf("region/namespace query = %q/%q", q.Get("region"), q.Get("namespace"))
			}
			if req.Header.Get("X-Nomad-Token") != "secret" {
				t.Errorf("token header = %q", req.Header.Get("X-Nomad-Token"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"File":   "alloc/logs/worker.stderr.0",
				"Offset": 48,
				"Data":   base64.StdEncoding.EncodeToString([]byte("oops\n")),
			})
		})
	})

	chunk, err := c.LogChunk(context.Background(), allocID, "worker", LogTypeStderr, 42)
	if err != nil {
		t.Fatalf("LogChunk: %v", err)
	}
	if !bytes.Equal(chunk.Data, []byte("oops\n")) {
		t.Errorf("Data = %q", chunk.Data)
	}
	if chunk.Offset != 48 {
		t.Errorf("Offset = %d, want 48", chunk.Offset)
	}
}

func TestLogChunk_EmptyFrame(t *testing.T) {
	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Get("/v1/client/fs/logs/{allocID}", func(w http.ResponseWriter, req *http.Request) {
			// Nomad answers with an empty body when there is nothing new.
		})
	})

	chunk, err := c.LogChunk(context.Background(), uuid.NewString(), "worker", LogTypeStdout, 0)
	if err != nil {
		t.Fatalf("LogChunk: %v", err)
	}
	if len(chunk.Data) != 0 || chunk.Offset != 0 {
		t.Errorf("expected zero chunk, got %+v", chunk)
	}
}

func TestAllocation(t *testing.T) {
	allocID := uuid.NewString()

	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Get("/v1/allocation/{allocID}", func(w http.ResponseWriter, req *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"ID": allocID, "ClientStatus": "complete"})
		})
	})

	status, err := c.Allocation(context.Background(), allocID)
	if err != nil {
		t.Fatalf("Allocation: %v", err)
	}
	if status.ClientStatus != StatusComplete {
		t.Errorf("ClientStatus = %q", status.ClientStatus)
	}
}

func TestDeregister(t *testing.T) {
	var deleted string

	c := startFakeNomad(t, Config{}, func(r chi.Router) {
		r.Delete("/v1/job/{jobID}", func(w http.ResponseWriter, req *http.Request) {
			deleted = chi.URLParam(req, "jobID")
			json.NewEncoder(w).Encode(map[string]any{"EvalID": uuid.NewString()})
		})
	})

	if err := c.Deregister(context.Background(), "etl-batch-dispatch-123"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if deleted != "etl-batch-dispatch-123" {
		t.Errorf("deregistered job = %q", deleted)
	}
}

func TestAPIError_EmptyBody(t *testing.T) {
	err := &APIError{StatusCode: 500}
	if err.Error() != "HTTP 500" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestClientStatus_IsTerminal(t *testing.T) {
	for _, s := range []ClientStatus{StatusComplete, StatusFailed, StatusLost} {
		if !s.IsTerminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	for _, s := range []ClientStatus{StatusPending, StatusRunning, ""} {
		if s.IsTerminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}
