package rtc

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"event":"room_started","room_name":"private-voice-chat-call-1"}`)

	if err := VerifySignature(secret, body, Signature(secret, body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifySignature(secret, body, Signature([]byte("other"), body)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if err := VerifySignature(secret, body, "not-hex"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for malformed header, got %v", err)
	}
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"event":"participant_left","room_name":"private-voice-chat-call-1","participant_identity":"0xa","reason":"client_initiated"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Type != EventParticipantLeft || e.ParticipantIdentity != "0xa" || e.Reason != LeaveClientInitiated {
		t.Fatalf("unexpected event: %+v", e)
	}

	if _, err := DecodeEvent([]byte(`{"event":"made_up","room_name":"x"}`)); err == nil {
		t.Fatalf("expected unknown event type to be rejected")
	}
	if _, err := DecodeEvent([]byte(`{"event":"participant_joined"}`)); err == nil {
		t.Fatalf("expected missing room_name to be rejected")
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected malformed body to be rejected")
	}
}

type recordingSink struct {
	joined  []string
	left    []string
	deleted []string
	err     error
}

func (s *recordingSink) HandleParticipantJoined(_ context.Context, address, roomName string) error {
	s.joined = append(s.joined, address+"@"+roomName)
	return s.err
}

func (s *recordingSink) HandleParticipantLeft(_ context.Context, address, roomName string, reason LeaveReason) error {
	s.left = append(s.left, address+"@"+roomName+":"+string(reason))
	return s.err
}

func (s *recordingSink) HandleRoomDeleted(_ context.Context, roomName string) error {
	s.deleted = append(s.deleted, roomName)
	return s.err
}

func postWebhook(t *testing.T, h WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/rtc", h.Handle)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/rtc", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler(t *testing.T) {
	secret := []byte("whsec")
	sink := &recordingSink{}
	h := WebhookHandler{Secret: secret, Sink: sink}

	body := []byte(`{"event":"participant_joined","room_name":"private-voice-chat-call-1","participant_identity":"0xa"}`)
	if w := postWebhook(t, h, body, Signature(secret, body)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(sink.joined) != 1 || sink.joined[0] != "0xa@private-voice-chat-call-1" {
		t.Fatalf("sink not fed: %+v", sink)
	}
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	sink := &recordingSink{}
	h := WebhookHandler{Secret: []byte("whsec"), Sink: sink}

	body := []byte(`{"event":"participant_joined","room_name":"private-voice-chat-call-1"}`)
	if w := postWebhook(t, h, body, Signature([]byte("wrong"), body)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(sink.joined) != 0 {
		t.Fatalf("sink must not see unauthenticated events")
	}
}

func TestWebhookHandler_IgnoresNonSessionEvents(t *testing.T) {
	secret := []byte("whsec")
	sink := &recordingSink{}
	h := WebhookHandler{Secret: secret, Sink: sink}

	body := []byte(`{"event":"ingress_started","room_name":"community-voice-chat-c-1"}`)
	if w := postWebhook(t, h, body, Signature(secret, body)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(sink.joined)+len(sink.left)+len(sink.deleted) != 0 {
		t.Fatalf("ingress events must not reach the sink: %+v", sink)
	}
}

func TestWebhookHandler_SinkErrorIs500(t *testing.T) {
	secret := []byte("whsec")
	sink := &recordingSink{err: errors.New("db down")}
	h := WebhookHandler{Secret: secret, Sink: sink}

	body := []byte(`{"event":"room_deleted","room_name":"private-voice-chat-call-1"}`)
	if w := postWebhook(t, h, body, Signature(secret, body)); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
