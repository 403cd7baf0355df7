// Package binance adapts the USD-M futures API to the exchange capability.
package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// signParams builds the query string with the request timestamp appended and
// returns it with its HMAC-SHA256 signature. url.Values.Encode sorts keys, so
// the signature base string is deterministic.
func signParams(params map[string]string, secret string, now time.Time) (query, signature string) {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	v.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))

	query = v.Encode()
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(query))
	return query, hex.EncodeToString(h.Sum(nil))
}
