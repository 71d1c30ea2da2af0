package availability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/auth"
	"github.com/medibook/booking/internal/platform/validation"
)

func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	e.Validator = validation.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, target, body string, a *auth.Actor) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if a != nil {
		req = req.WithContext(auth.WithActor(req.Context(), a))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndList(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	rec := do(e, http.MethodPost, "/api/v1/availability",
		`{"availability_date":"2024-06-01","start_time":"09:00:37","end_time":"12:00","is_available":false}`, f.doctorActor())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["start_time"] != "09:00" || created["availability_date"] != "2024-06-01" || created["is_available"] != false {
		t.Errorf("unexpected body %v", created)
	}

	rec = do(e, http.MethodGet, "/api/v1/availability/doctor/"+f.doctor.ProfileID.String()+"/date/2024-06-01", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var slots []Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 1 {
		t.Errorf("expected 1 slot, got %d", len(slots))
	}

	rec = do(e, http.MethodGet, "/api/v1/availability", "", f.doctorActor())
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"end_time":"12:00"`) {
		t.Errorf("unexpected own listing %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	rec := do(e, http.MethodPost, "/api/v1/availability", `{"start_time":"09:00","end_time":"10:00"}`, f.doctorActor())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing date, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/availability",
		`{"availability_date":"2024-06-01","start_time":"09:00","end_time":"10:00","start_time2":"09:30","end_time2":"10:30"}`, f.doctorActor())
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "intervals overlap") {
		t.Errorf("expected 400 overlap, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_RoleGuards(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	patient := &auth.Actor{Role: auth.RolePatient}

	if rec := do(e, http.MethodPost, "/api/v1/availability", `{}`, patient); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for patient create, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/availability", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without actor, got %d", rec.Code)
	}
}

func TestHandler_UpdateDelete(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	rec := do(e, http.MethodPost, "/api/v1/availability", `{"availability_date":"2024-06-01","start_time":"09:00","end_time":"10:00"}`, f.doctorActor())
	var slot Slot
	if err := json.Unmarshal(rec.Body.Bytes(), &slot); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(e, http.MethodPut, "/api/v1/availability/"+slot.ID.String(), `{"end_time":"11:00"}`, f.doctorActor())
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"end_time":"11:00"`) {
		t.Fatalf("unexpected update response %d: %s", rec.Code, rec.Body.String())
	}

	if rec = do(e, http.MethodDelete, "/api/v1/availability/not-a-uuid", "", f.doctorActor()); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec = do(e, http.MethodDelete, "/api/v1/availability/"+slot.ID.String(), "", f.doctorActor()); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec = do(e, http.MethodDelete, "/api/v1/availability/"+slot.ID.String(), "", f.doctorActor()); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_FindAvailableDoctors(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	do(e, http.MethodPost, "/api/v1/availability", `{"availability_date":"2024-06-01","start_time":"09:00","end_time":"17:00"}`, f.doctorActor())

	rec := do(e, http.MethodGet, "/api/v1/availability/doctors?date=2024-06-01&start_time=10:00&end_time=11:00", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), f.doctor.ProfileID.String()) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/availability/doctors?date=june&start_time=10:00&end_time=11:00", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", rec.Code)
	}
}
