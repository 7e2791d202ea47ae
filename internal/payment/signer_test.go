package payment

import (
	"strings"
	"testing"
)

const testSalt = "TEST_SALT_12345"

func TestJazzCashSignature_Format(t *testing.T) {
	fields := map[string]string{
		"pp_Amount":   "10000",
		"pp_TxnRefNo": "T20240101120000TEST",
	}

	sig := JazzCashSignature(testSalt, fields)

	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if sig != strings.ToUpper(sig) {
		t.Errorf("signature should be uppercase: %s", sig)
	}
	for _, c := range sig {
		if !strings.ContainsRune("0123456789ABCDEF", c) {
			t.Fatalf("non-hex character %q in signature", c)
		}
	}
}

func TestJazzCashSignature_Deterministic(t *testing.T) {
	fields := map[string]string{
		"pp_Amount":     "10000",
		"pp_TxnRefNo":   "T20240101120000TEST",
		"pp_MerchantID": "TEST_MERCHANT",
	}

	if JazzCashSignature(testSalt, fields) != JazzCashSignature(testSalt, fields) {
		t.Error("same input should always produce the same signature")
	}
}

func TestJazzCashSignature_ExcludesHashField(t *testing.T) {
	fields := map[string]string{
		"pp_Amount":   "10000",
		"pp_TxnRefNo": "T20240101120000TEST",
	}
	base := JazzCashSignature(testSalt, fields)

	fields[JazzCashHashField] = "SOMETHING"
	if JazzCashSignature(testSalt, fields) != base {
		t.Error("the signature field itself must not participate in signing")
	}
}

func TestJazzCashSignature_SensitiveToValues(t *testing.T) {
	a := JazzCashSignature(testSalt, map[string]string{"pp_Amount": "100"})
	b := JazzCashSignature(testSalt, map[string]string{"pp_Amount": "101"})
	if a == b {
		t.Error("different field values should produce different signatures")
	}
}

func TestVerifyJazzCash_RoundTrip(t *testing.T) {
	fields := map[string]string{
		"pp_Amount":       "15050",
		"pp_TxnRefNo":     "T20240101120000TEST",
		"pp_ResponseCode": "000",
	}
	fields[JazzCashHashField] = JazzCashSignature(testSalt, fields)

	if !VerifyJazzCash(testSalt, fields) {
		t.Error("verify(sign(data)) should succeed")
	}
}

func TestVerifyJazzCash_CaseInsensitive(t *testing.T) {
	fields := map[string]string{
		"pp_Amount":   "15050",
		"pp_TxnRefNo": "T20240101120000TEST",
	}
	fields[JazzCashHashField] = strings.ToLower(JazzCashSignature(testSalt, fields))

	if !VerifyJazzCash(testSalt, fields) {
		t.Error("verification should accept lowercase signatures")
	}
}

func TestVerifyJazzCash_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"wrong hash", map[string]string{
			"pp_Amount":       "100",
			JazzCashHashField: "INVALID_HASH",
		}},
		{"missing hash", map[string]string{
			"pp_Amount": "100",
		}},
		{"tampered amount", func() map[string]string {
			f := map[string]string{"pp_Amount": "100", "pp_TxnRefNo": "T1"}
			f[JazzCashHashField] = JazzCashSignature(testSalt, f)
			f["pp_Amount"] = "999"
			return f
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyJazzCash(testSalt, tt.fields) {
				t.Error("verification should fail")
			}
		})
	}
}

func TestEasyPaisaSignature_Format(t *testing.T) {
	sig := EasyPaisaSignature("TEST_HASH_KEY", "TEST_STORE", "100", "T20240101120000",
		"http://localhost:8000/api/payments/easypaisa/callback")

	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if sig != strings.ToLower(sig) {
		t.Errorf("signature should be lowercase: %s", sig)
	}
}

func TestEasyPaisaSignature_Deterministic(t *testing.T) {
	a := EasyPaisaSignature("k", "s", "100", "T1", "http://cb")
	b := EasyPaisaSignature("k", "s", "100", "T1", "http://cb")
	if a != b {
		t.Error("same input should always produce the same signature")
	}
}

func TestVerifyEasyPaisa_RoundTrip(t *testing.T) {
	sig := EasyPaisaSignature("k", "s", "150.5", "T1", "http://cb")

	if !VerifyEasyPaisa("k", "s", "150.5", "T1", "http://cb", sig) {
		t.Error("verify(sign(data)) should succeed")
	}
}

func TestVerifyEasyPaisa_CaseSensitive(t *testing.T) {
	sig := EasyPaisaSignature("k", "s", "150.5", "T1", "http://cb")

	if VerifyEasyPaisa("k", "s", "150.5", "T1", "http://cb", strings.ToUpper(sig)) {
		t.Error("verification must be byte-exact; uppercase should fail")
	}
}

func TestVerifyEasyPaisa_Rejects(t *testing.T) {
	sig := EasyPaisaSignature("k", "s", "150.5", "T1", "http://cb")

	if VerifyEasyPaisa("k", "s", "999", "T1", "http://cb", sig) {
		t.Error("tampered amount should fail verification")
	}
	if VerifyEasyPaisa("k", "s", "150.5", "T1", "http://cb", "") {
		t.Error("missing signature should fail verification")
	}
}
