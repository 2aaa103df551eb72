package canonical

import (
	"encoding/json"
	"testing"
)

func FuzzCanonicalizeJSON(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"html":"<script>&</script>"}`))
	f.Add([]byte(`{"num":123.456,"bool":true,"null":null}`))
	f.Add([]byte(`{"arr":[3,1,2],"nested":{"deep":{"key":"val"}}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"":"empty_key","a":""}`))
	f.Add([]byte(`{"unicode":"こんにちは"}`))
	f.Add([]byte(`{"escape":"line1\nline2\ttab"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
			return
		}

		b1, err := CanonicalizeJSON(data)
		if err != nil {
			// Some valid JSON (e.g. out-of-range numbers) may not be
			// representable in canonical form.
			return
		}

		// Determinism: canonical form must be a fixed point.
		b2, err := CanonicalizeJSON(b1)
		if err != nil {
			t.Fatalf("canonical form rejected on re-canonicalization: %v", err)
		}
		if string(b1) != string(b2) {
			t.Errorf("canonicalization not idempotent:\n  first:  %s\n  second: %s", b1, b2)
		}

		// Output must stay valid JSON.
		var check interface{}
		if err := json.Unmarshal(b1, &check); err != nil {
			t.Errorf("canonical output is not valid JSON: %s", string(b1))
		}

		// Hashing the canonical form must be stable.
		if HashBytes(b1) != HashBytes(b2) {
			t.Error("hash of canonical form unstable")
		}
	})
}
