package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func newTestVerifier() *TokenVerifier {
	return NewTokenVerifier(testSigningKey, "booking-test")
}

func doctorActor() *Actor {
	return &Actor{UserID: uuid.New(), Role: RoleDoctor, DoctorID: uuid.New()}
}

func issue(t *testing.T, v *TokenVerifier, a *Actor, ttl time.Duration) string {
	t.Helper()
	tok, err := v.Issue(a, ttl)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (*Actor, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got *Actor
	err := mw(func(c echo.Context) error {
		got, _ = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(newTestVerifier(), nil), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(newTestVerifier(), nil), header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	v := newTestVerifier()
	want := doctorActor()

	got, err := runMiddleware(t, JWTMiddleware(v, nil), "Bearer "+issue(t, v, want, time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || *got != *want {
		t.Errorf("expected actor %+v, got %+v", want, got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	v := newTestVerifier()
	tok := issue(t, v, doctorActor(), -time.Minute)

	_, err := runMiddleware(t, JWTMiddleware(v, nil), "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	other := NewTokenVerifier([]byte("another-secret"), "booking-test")
	tok := issue(t, other, doctorActor(), time.Hour)

	_, err := runMiddleware(t, JWTMiddleware(newTestVerifier(), nil), "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	skipAll := func(echo.Context) bool { return true }
	got, err := runMiddleware(t, JWTMiddleware(newTestVerifier(), skipAll), "")
	if err != nil {
		t.Fatalf("skipped request should pass: %v", err)
	}
	if got != nil {
		t.Error("skipped request should carry no actor")
	}
}

func TestTokenVerifier_RejectsUnknownRole(t *testing.T) {
	v := newTestVerifier()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "booking-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "nurse",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Parse(tok); err == nil {
		t.Error("expected unknown role to be rejected")
	}
}

func TestTokenVerifier_RejectsWrongIssuer(t *testing.T) {
	tok := issue(t, NewTokenVerifier(testSigningKey, "someone-else"), doctorActor(), time.Hour)
	if _, err := newTestVerifier().Parse(tok); err == nil {
		t.Error("expected issuer mismatch to be rejected")
	}
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	got, err := runMiddleware(t, DevAuthMiddleware(newTestVerifier(), nil), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || !got.IsAdmin() {
		t.Errorf("expected dev admin actor, got %+v", got)
	}
}

func TestDevAuthMiddleware_StillVerifiesTokens(t *testing.T) {
	_, err := runMiddleware(t, DevAuthMiddleware(newTestVerifier(), nil), "Bearer not-a-jwt")
	expectStatus(t, err, http.StatusUnauthorized)

	v := newTestVerifier()
	want := doctorActor()
	got, err := runMiddleware(t, DevAuthMiddleware(v, nil), "Bearer "+issue(t, v, want, time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Role != RoleDoctor || got.DoctorID != want.DoctorID {
		t.Errorf("expected token actor, got %+v", got)
	}
}
