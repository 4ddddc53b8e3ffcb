package settings_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wick3d/customdomains/internal/settings"
)

func TestDecodeAdditionalDomains_objects(t *testing.T) {
	raw := []byte(`[
		{"domain":"a.example.com","verificationToken":"wick3d-verification=aa","verified":true,"addedAt":"2026-01-02T03:04:05Z"},
		{"domain":"b.example.com","cnameTarget":"d-1234.wick3d.app","verified":false}
	]`)

	got, err := settings.DecodeAdditionalDomains(raw)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "a.example.com", got[0].Domain)
	assert.Equal(t, "wick3d-verification=aa", got[0].VerificationToken)
	assert.True(t, got[0].Verified)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got[0].AddedAt)
	assert.False(t, got[0].NeedsMigration)

	assert.Equal(t, "d-1234.wick3d.app", got[1].CNAMETarget)
}

func TestDecodeAdditionalDomains_legacyStrings(t *testing.T) {
	raw := []byte(`["Old.Example.com", {"domain":"new.example.com","verificationToken":"t"}, null, ""]`)

	got, err := settings.DecodeAdditionalDomains(raw)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "old.example.com", got[0].Domain)
	assert.True(t, got[0].NeedsMigration)
	assert.Empty(t, got[0].VerificationToken)

	assert.Equal(t, "new.example.com", got[1].Domain)
	assert.False(t, got[1].NeedsMigration)
}

func TestDecodeAdditionalDomains_emptyInputs(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "[]", `"[]"`} {
		got, err := settings.DecodeAdditionalDomains([]byte(raw))
		require.NoError(t, err, "input %q", raw)
		assert.NotNil(t, got)
		assert.Empty(t, got, "input %q", raw)
	}
}

func TestDecodeAdditionalDomains_doubleEncoded(t *testing.T) {
	raw := []byte(`"[\"legacy.example.com\"]"`)

	got, err := settings.DecodeAdditionalDomains(raw)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "legacy.example.com", got[0].Domain)
	assert.True(t, got[0].NeedsMigration)
}

func TestDecodeAdditionalDomains_malformed(t *testing.T) {
	for _, raw := range []string{`{`, `{"domain":"x"}`, `[1]`} {
		_, err := settings.DecodeAdditionalDomains([]byte(raw))
		assert.Error(t, err, "input %q", raw)
	}
}

func TestEncodeAdditionalDomains_keepsMigrationMarker(t *testing.T) {
	in := []settings.AdditionalDomain{
		{Domain: "legacy.example.com", NeedsMigration: true},
		{Domain: "a.example.com", VerificationToken: "tok", Verified: true},
	}
	raw, err := settings.EncodeAdditionalDomains(in)
	require.NoError(t, err)

	out, err := settings.DecodeAdditionalDomains(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].NeedsMigration)
	assert.Equal(t, "tok", out[1].VerificationToken)

	raw, err = settings.EncodeAdditionalDomains(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}
