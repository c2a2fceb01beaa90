package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slipway-ci/slipway/internal/models"
)

// signatureHeader carries the HMAC of the payload, hex encoded with a
// sha256= prefix.
const signatureHeader = "X-Hub-Signature-256"

// eventHeader names the webhook event kind.
const eventHeader = "X-Slipway-Event"

// maxPayloadBytes caps the webhook body; release payloads are small.
const maxPayloadBytes = 1 << 20

// ErrBadSignature reports a missing or wrong payload signature.
var ErrBadSignature = errors.New("webhook signature mismatch")

// ErrUnknownEvent reports an event kind the listener does not react to.
var ErrUnknownEvent = errors.New("unknown webhook event kind")

// VerifySignature checks the hex HMAC-SHA256 signature of body against
// the shared secret in constant time.
func VerifySignature(secret, body []byte, header string) error {
	sigHex, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sigHex == "" {
		return fmt.Errorf("%w: malformed %s header", ErrBadSignature, signatureHeader)
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature header value for a payload. Used by
// tests and by operators wiring custom webhook emitters.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// releasePayload is the subset of the webhook payload slipway reads.
type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName         string `json:"tag_name"`
		TargetCommitish string `json:"target_commitish"`
	} `json:"release"`
	Ref        string `json:"ref"` // tag push payloads
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// ParseWebhookEvent turns a webhook request body into an Event. kind is
// the value of the event header. Kinds other than release and tag
// return ErrUnknownEvent; the listener acknowledges and ignores those.
func ParseWebhookEvent(kind string, body []byte) (*models.Event, error) {
	var payload releasePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}

	event := &models.Event{
		Repo:       payload.Repository.FullName,
		Actor:      payload.Sender.Login,
		ReceivedAt: time.Now(),
	}

	switch kind {
	case models.EventRelease:
		event.Kind = models.EventRelease
		event.Action = payload.Action
		event.Tag = payload.Release.TagName
		event.Commit = payload.Release.TargetCommitish
	case models.EventTag, "push":
		tag, ok := strings.CutPrefix(payload.Ref, "refs/tags/")
		if !ok {
			return nil, fmt.Errorf("%w: push without a tag ref", ErrUnknownEvent)
		}
		event.Kind = models.EventTag
		event.Tag = tag
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	return event, nil
}
