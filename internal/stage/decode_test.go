package stage

import (
	"errors"
	"testing"

	"transcoder/internal/contracts"
	"transcoder/internal/services"
)

const testVideoID = "0b6a3f5e-8f4e-4d1c-9a57-1f1c2f6a9b10"

func TestDecodeValid(t *testing.T) {
	body := []byte(`{"videoId":"` + testVideoID + `","artifactsDirectory":"/shared/x/720p","encodingId":"720p","extra":true}`)
	msg, err := Decode[contracts.VideoEncoded]("uploader", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.EncodingID != "720p" || msg.VideoID != testVideoID {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"empty":        "   ",
		"invalid json": "{not json",
		"missing id":   `{"artifactsDirectory":"/shared/x","encodingId":"720p"}`,
		"relative dir": `{"videoId":"` + testVideoID + `","artifactsDirectory":"x/720p","encodingId":"720p"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode[contracts.VideoEncoded]("uploader", []byte(body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if services.IsRetryable(err) {
				t.Fatal("decode failures must not be retryable")
			}
		})
	}
}
