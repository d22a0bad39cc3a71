package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature header scheme: "t=<unix>,v1=<hex hmac>[,v1=...]" where the hmac
// is SHA-256 over "<t>.<raw body>" keyed by the endpoint secret. Multiple v1
// entries appear during secret rotation; any one matching is sufficient.
const SignatureHeader = "Stripe-Signature"

var (
	ErrNoSignature        = errors.New("stripe: missing signature header")
	ErrInvalidSignature   = errors.New("stripe: signature mismatch")
	ErrTimestampTolerance = errors.New("stripe: signed timestamp outside tolerance")
)

// ConstructEvent verifies the signature over payload and unmarshals the
// event envelope. The caller owns the raw body; nothing here mutates it.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration, now time.Time) (*Event, error) {
	if sigHeader == "" {
		return nil, ErrNoSignature
	}

	ts, candidates, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if tolerance > 0 {
		signedAt := time.Unix(ts, 0)
		if signedAt.Before(now.Add(-tolerance)) || signedAt.After(now.Add(tolerance)) {
			return nil, ErrTimestampTolerance
		}
	}

	expected := computeSignature(ts, payload, secret)
	matched := false
	for _, c := range candidates {
		sig, err := hex.DecodeString(c)
		if err != nil {
			continue
		}
		if hmac.Equal(sig, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("stripe: unmarshal event: %w", err)
	}
	return &ev, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var ts int64 = -1
	var sigs []string
	for _, pair := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidSignature
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, ErrInvalidSignature
	}
	return ts, sigs, nil
}

func computeSignature(ts int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignPayload builds a valid signature header for payload; used by tests and
// local tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(ts, payload, secret)))
}
