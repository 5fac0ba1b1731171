package gmail

import (
	"encoding/base64"
	"testing"
)

const sample = "From: Vendor <feeds@vendor.test>\r\n" +
	"Subject: Daily stock\r\n" +
	"Message-ID: <abc@vendor.test>\r\n" +
	"Date: Mon, 04 Mar 2024 09:30:00 +0000\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attached\r\n"

func TestFetchedReadsHeadersFromRaw(t *testing.T) {
	raw, err := decodeRaw(base64.RawURLEncoding.EncodeToString([]byte(sample)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := fetched("g-1", 0, raw)
	if msg.MessageID != "<abc@vendor.test>" || msg.Subject != "Daily stock" || msg.From != "Vendor <feeds@vendor.test>" {
		t.Fatalf("unexpected headers: %+v", msg)
	}
	if msg.ReceivedAt != "2024-03-04T09:30:00Z" {
		t.Fatalf("unexpected date: %s", msg.ReceivedAt)
	}

	msg = fetched("g-1", 1709544600000, raw)
	if msg.ReceivedAt != "2024-03-04T09:30:00Z" {
		t.Fatalf("internal date ignored: %s", msg.ReceivedAt)
	}
}

func TestDecodeRawPadded(t *testing.T) {
	got, err := decodeRaw(base64.URLEncoding.EncodeToString([]byte("ab")))
	if err != nil || string(got) != "ab" {
		t.Fatalf("decode padded: %q %v", got, err)
	}
	if _, err := decodeRaw("!!"); err == nil {
		t.Fatalf("expected decode error")
	}
}
