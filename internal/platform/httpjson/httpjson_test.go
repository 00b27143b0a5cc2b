package httpjson

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
)

func TestDecodeInvalidBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{nope"))
	var target struct{}
	err := Decode(r, &target)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected VALIDATION, got %s", errors.CodeOf(err))
	}
}

func TestWriteErrorUsesCodeStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New(errors.CodeSessionNotFound, "session missing"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != errors.CodeSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND, got %s", body.Code)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, strings.NewReader("").UnreadRune())

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "UnreadRune") {
		t.Fatal("expected internal details to be hidden")
	}
}
