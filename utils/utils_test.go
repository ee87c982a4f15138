package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestGenKSortedID(t *testing.T) {
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, GenKSortedID("p_"))
	}
	for _, id := range ids {
		if !strings.HasPrefix(id, "p_") {
			t.Fatalf("expected prefix on %s", id)
		}
	}
	if len(GenRandomShortID()) != 8 {
		t.Fatal("expected an 8 char short id")
	}
}

func TestIsPermanent(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", PermError("nope"))
	if !IsPermanent(err) {
		t.Fatal("expected a wrapped PermError to be permanent")
	}
	if IsPermanent(errors.New("nope")) {
		t.Fatal("expected a plain error to be retryable")
	}
}

func TestHelpers(t *testing.T) {
	if Deref[int](nil, 3) != 3 || Deref(Ptr(4), 3) != 4 {
		t.Fatal("unexpected Deref")
	}
	if ArrayOrEmpty[string](nil) == nil {
		t.Fatal("expected an empty slice")
	}
	if !ContainsString([]string{"a", "b"}, "b") || ContainsString(nil, "a") {
		t.Fatal("unexpected ContainsString")
	}
}

func TestNoEscapeJSONSerializer(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	s := &NoEscapeJSONSerializer{}
	if err := s.Serialize(c, map[string]string{"a": "<b>&"}, ""); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"a":"<b>&"}` {
		t.Fatalf("expected unescaped output, got %s", rec.Body.String())
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a": 1}`)), httptest.NewRecorder())
	var dst struct {
		A string `json:"a"`
	}
	err := s.Deserialize(c, &dst)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected a bad request on a type mismatch, got %v", err)
	}
}
