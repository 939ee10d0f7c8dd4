package tenant

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHeaderResolver_Resolve(t *testing.T) {
	resolver := HeaderResolver{}

	t.Run("returns guild id from header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Guild-ID", "123")

		id, err := resolver.Resolve(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != Guild(123) {
			t.Errorf("id = %v, want guild(123)", id)
		}
	})

	t.Run("returns error when header missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := resolver.Resolve(r); err == nil {
			t.Fatal("expected error for missing header")
		}
	})

	t.Run("returns error when header is not numeric", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Guild-ID", "not-a-number")
		if _, err := resolver.Resolve(r); err == nil {
			t.Fatal("expected error for non-numeric header")
		}
	})
}

func TestMiddleware(t *testing.T) {
	var gotID ID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := Middleware(HeaderResolver{})(next)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Guild-ID", "99")
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotID != Guild(99) {
		t.Errorf("context tenant = %v, want guild(99)", gotID)
	}
}

func TestMiddlewareRejectsUnresolvable(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be called")
	})
	mw := Middleware(HeaderResolver{})(next)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
