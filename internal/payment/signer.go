// Package payment implements the payment-provider integrations: request
// signing, payment initiation, callback verification, and the idempotent
// application of verified callbacks to transactions and wallets.
//
// Two providers are supported, each with its own integrity scheme:
//
//	JazzCash  — HMAC-SHA256 over the sorted field values, keyed and salted
//	            with the merchant's integrity salt; uppercase hex.
//	Easypaisa — plain SHA-256 over a fixed field concatenation with the
//	            shared hash key appended; lowercase hex.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// JazzCashHashField is the form field carrying the JazzCash signature. It is
// always excluded from the signed material.
const JazzCashHashField = "pp_SecureHash"

// EasyPaisaHashField is the JSON field carrying the Easypaisa signature.
const EasyPaisaHashField = "merchantHashedReq"

// JazzCashSignature computes the JazzCash integrity hash for a set of request
// or callback fields. Field names are sorted lexicographically, the signature
// field itself is skipped, and the values are joined with '&' after the
// integrity salt. The result is uppercase hex and deterministic for a given
// input.
func JazzCashSignature(integritySalt string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == JazzCashHashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(integritySalt)
	for _, k := range keys {
		sb.WriteByte('&')
		sb.WriteString(fields[k])
	}

	mac := hmac.New(sha256.New, []byte(integritySalt))
	mac.Write([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// VerifyJazzCash recomputes the signature over the received fields and
// compares it case-insensitively against the pp_SecureHash field.
func VerifyJazzCash(integritySalt string, fields map[string]string) bool {
	received := fields[JazzCashHashField]
	if received == "" {
		return false
	}
	expected := JazzCashSignature(integritySalt, fields)
	return strings.EqualFold(received, expected)
}

// EasyPaisaSignature computes the Easypaisa integrity hash: SHA-256 over the
// concatenation of amount, order reference, store ID and post-back URL with
// the shared hash key appended. Lowercase hex, deterministic.
func EasyPaisaSignature(hashKey, storeID, amount, orderRef, postBackURL string) string {
	sum := sha256.Sum256([]byte(amount + orderRef + storeID + postBackURL + hashKey))
	return hex.EncodeToString(sum[:])
}

// VerifyEasyPaisa recomputes the signature and compares it byte-for-byte
// (the provider sends lowercase hex; case is significant).
func VerifyEasyPaisa(hashKey, storeID, amount, orderRef, postBackURL, received string) bool {
	if received == "" {
		return false
	}
	return received == EasyPaisaSignature(hashKey, storeID, amount, orderRef, postBackURL)
}
