package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(
		WithToken("test-token"),
		WithPhoneNumberID("12345"),
		WithBaseURL(srv.URL),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(WithPhoneNumberID("12345")); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewClient(WithToken("tok")); err == nil {
		t.Error("expected error without phone number id")
	}
}

func TestSendTextWireFormat(t *testing.T) {
	var captured map[string]interface{}
	var path, auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"messages": [{"id": "wamid.out.1"}]}`))
	})

	id, err := c.SendText(context.Background(), "263771234567", "hello")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if id != "wamid.out.1" {
		t.Errorf("expected provider id, got %q", id)
	}
	if path != "/v22.0/12345/messages" {
		t.Errorf("unexpected path %q", path)
	}
	if auth != "Bearer test-token" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if captured["messaging_product"] != "whatsapp" || captured["to"] != "263771234567" || captured["type"] != "text" {
		t.Errorf("unexpected envelope: %+v", captured)
	}
	text, _ := captured["text"].(map[string]interface{})
	if text["body"] != "hello" {
		t.Errorf("unexpected text payload: %+v", text)
	}
}

func TestSendTextEmptyRecipient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty recipient")
	})
	if _, err := c.SendText(context.Background(), "", "hello"); err != models.ErrEmptyRecipient {
		t.Fatalf("expected ErrEmptyRecipient, got %v", err)
	}
}

func TestSendButtonsLimits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages": [{"id": "wamid.out.1"}]}`))
	})

	four := []Button{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	if _, err := c.SendButtons(context.Background(), "263771234567", "pick", four); err == nil {
		t.Error("expected error for more than three buttons")
	}
	if _, err := c.SendButtons(context.Background(), "263771234567", "pick", nil); err == nil {
		t.Error("expected error for zero buttons")
	}
}

func TestSendButtonsTruncatesTitles(t *testing.T) {
	var captured messageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"messages": [{"id": "wamid.out.1"}]}`))
	})

	long := strings.Repeat("x", MaxButtonTitleLen+10)
	if _, err := c.SendButtons(context.Background(), "263771234567", "pick", []Button{{ID: "a", Title: long}}); err != nil {
		t.Fatalf("SendButtons failed: %v", err)
	}
	got := captured.Interactive.Action.Buttons[0].Reply.Title
	if utf8.RuneCountInString(got) > MaxButtonTitleLen {
		t.Errorf("expected truncated title, got %d runes", utf8.RuneCountInString(got))
	}
}

func TestTruncateKeepsMultibyteTitlesValid(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten chars!", 18, "exactly ten chars!"},
		{strings.Repeat("x", 25), 20, strings.Repeat("x", 20)},
		// Multibyte near the limit must cut on the rune boundary.
		{"Zvidzidzo zveBhizimisi 🎓📚", 24, "Zvidzidzo zveBhizimisi 🎓"},
		{strings.Repeat("é", 30), 20, strings.Repeat("é", 20)},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}

func TestSendListRowLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages": [{"id": "wamid.out.1"}]}`))
	})

	rows := make([]Row, MaxListRows+1)
	for i := range rows {
		rows[i] = Row{ID: "r", Title: "row"}
	}
	_, err := c.SendList(context.Background(), "263771234567", "pick", "Options", []Section{{Rows: rows}})
	if err == nil {
		t.Error("expected error for too many rows")
	}
}

func TestMarkReadWireFormat(t *testing.T) {
	var captured messageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"success": true}`))
	})

	if err := c.MarkRead(context.Background(), "wamid.in.1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if captured.Status != "read" || captured.MessageID != "wamid.in.1" {
		t.Errorf("unexpected mark-read payload: %+v", captured)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid token", "type": "OAuthException", "code": 190}}`))
	})

	_, err := c.SendText(context.Background(), "263771234567", "hello")
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("expected API error surfaced, got %v", err)
	}
}
