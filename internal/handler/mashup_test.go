package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/trackmash/api/internal/model"
	"github.com/trackmash/api/internal/service"
)

type fakeMashupService struct {
	submitted *model.MashupRequest
	statusErr error
	resultErr error
}

func (f *fakeMashupService) Submit(_ context.Context, req *model.MashupRequest) (*model.MashupSubmitResponse, error) {
	f.submitted = req
	return &model.MashupSubmitResponse{
		JobID:     "job-1",
		Status:    model.JobStatusQueued,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeMashupService) GetStatus(context.Context, string) (*model.MashupStatusResponse, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &model.MashupStatusResponse{JobID: "job-1", Status: model.JobStatusRunning, Progress: 40}, nil
}

func (f *fakeMashupService) GetResult(context.Context, string) (*model.MashupResult, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	return &model.MashupResult{Token: "tok", ClipCount: 3}, nil
}

func setupMashupApp(svc *fakeMashupService) *fiber.App {
	app := fiber.New()
	h := NewMashupHandler(svc, validator.New(), 20, 90)
	app.Post("/api/mashup", h.Submit)
	app.Get("/api/mashup/status/:jobId", h.Status)
	app.Get("/api/mashup/result/:jobId", h.Result)
	return app
}

func submitRequest(t *testing.T, app *fiber.App, payload string) (int, errorBody) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/mashup", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

type errorBody struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	Error  struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func TestSubmitAccepted(t *testing.T) {
	svc := &fakeMashupService{}
	app := setupMashupApp(svc)

	status, body := submitRequest(t, app, `{"query":"daft punk","count":5,"clipSeconds":20,"email":"a@b.com"}`)
	if status != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", status)
	}
	if body.JobID != "job-1" || body.Status != string(model.JobStatusQueued) {
		t.Errorf("accept body = %+v", body)
	}
	if svc.submitted == nil {
		t.Fatal("service never received the request")
	}
	if svc.submitted.Count != 5 || svc.submitted.ClipSeconds != 20 {
		t.Errorf("service received %+v", svc.submitted)
	}
}

func TestSubmitRejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"count above limit", `{"query":"q","count":25,"clipSeconds":20}`, "Count"},
		{"clip seconds above limit", `{"query":"q","count":3,"clipSeconds":120}`, "ClipSeconds"},
		{"count below one", `{"query":"q","count":0,"clipSeconds":20}`, "Count"},
		{"missing query", `{"count":3,"clipSeconds":20}`, "Query"},
		{"bad email", `{"query":"q","count":3,"clipSeconds":20,"email":"nope"}`, "Email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeMashupService{}
			app := setupMashupApp(svc)

			status, body := submitRequest(t, app, tt.payload)
			if status != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400", status)
			}
			if body.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("error code = %q", body.Error.Code)
			}
			if _, ok := body.Error.Details[tt.field]; !ok {
				t.Errorf("details = %v, want entry for %s", body.Error.Details, tt.field)
			}
			if svc.submitted != nil {
				t.Error("rejected request still reached the service")
			}
		})
	}
}

func TestSubmitLimitsFollowConfiguration(t *testing.T) {
	svc := &fakeMashupService{}
	app := fiber.New()
	h := NewMashupHandler(svc, validator.New(), 30, 120)
	app.Post("/api/mashup", h.Submit)

	status, _ := submitRequest(t, app, `{"query":"q","count":25,"clipSeconds":100}`)
	if status != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202 under raised limits", status)
	}
}

func TestSubmitInvalidBody(t *testing.T) {
	app := setupMashupApp(&fakeMashupService{})

	status, body := submitRequest(t, app, `{not json`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if body.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	app := setupMashupApp(&fakeMashupService{statusErr: service.ErrJobNotFound})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/mashup/status/missing", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResultNotCompleted(t *testing.T) {
	app := setupMashupApp(&fakeMashupService{resultErr: service.ErrJobNotCompleted})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/mashup/result/job-1", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for incomplete job", resp.StatusCode)
	}
}
