package canonical

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"negative", int64(-7), "-7"},
		{"uint", uint8(255), "255"},
		{"float", 1.5, "1.5"},
		{"integral float", 3.0, "3"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"large", 1e21, "1e+21"},
		{"below large", 1e20, "100000000000000000000"},
		{"small", 1e-7, "1e-7"},
		{"not small", 0.000001, "0.000001"},
		{"nan", math.NaN(), "null"},
		{"inf", math.Inf(1), "null"},
		{"-inf", math.Inf(-1), "null"},
		{"json number", json.Number("12.50"), "12.5"},
		{"string", "hi bob", `"hi bob"`},
		{"escapes", "a\"b\\c\n\t\x01", `"a\"b\\c\n\t\u0001"`},
		{"no html escape", "<a&b>", `"<a&b>"`},
		{"unicode", "✨", `"✨"`},
		{"line separator", "\u2028", "\"\u2028\""},
		{"invalid utf8", "a\xffb", "\"a\ufffdb\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_SortsKeys(t *testing.T) {
	aad := map[string]any{
		"sender_ap_id":    "https://example.com/users/alice",
		"recipient_ap_id": "https://example.net/users/bob",
		"sender_kid":      "e2ee-a",
		"recipient_kid":   "e2ee-b",
	}

	got, err := Marshal(aad)
	require.NoError(t, err)
	assert.Equal(t,
		`{"recipient_ap_id":"https://example.net/users/bob","recipient_kid":"e2ee-b","sender_ap_id":"https://example.com/users/alice","sender_kid":"e2ee-a"}`,
		string(got))
}

func TestMarshal_OrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": []any{3, 2, 1}, "c": map[string]any{"z": nil, "y": true}}

	var b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"c":{"y":true,"z":null},"a":[3,2,1],"b":1}`), &b))

	ca, err := Marshal(a)
	require.NoError(t, err)
	cb, err := Marshal(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":[3,2,1],"b":1,"c":{"y":true,"z":null}}`, string(ca))
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D.. which sort before U+FF61.
	got, err := Marshal(map[string]any{"｡": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"｡\":1}", string(got))
}

func TestMarshal_Struct(t *testing.T) {
	type party struct {
		Kid   string `json:"kid"`
		ApID  string `json:"ap_id"`
		Extra string `json:"extra,omitempty"`
	}

	got, err := Marshal(party{Kid: "e2ee-a", ApID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, `{"ap_id":"alice","kid":"e2ee-a"}`, string(got))

	var nilPtr *party
	got, err = Marshal(nilPtr)
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))
}

func TestMarshal_StringMap(t *testing.T) {
	got, err := Marshal(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, string(got))
}

func TestMarshal_Unsupported(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}
