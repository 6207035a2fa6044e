package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	require.NoError(t, ValidateToken("abcDEF123_-.=+/"))
	require.NoError(t, ValidateToken("  padded_token_ok_123  "))
	require.NoError(t, ValidateToken(strings.Repeat("a", MaxTokenLength)))

	cases := []string{
		"",
		"   ",
		"\t\n",
		"short",
		strings.Repeat("a", MaxTokenLength+1),
		"has spaces in it 12345",
		"emoji_token_éééé",
		"token;with;semicolons",
	}
	for _, c := range cases {
		err := ValidateToken(c)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "input %q", c)
		require.NotEmpty(t, verr.Reason)
	}
}

func TestValidateUserId(t *testing.T) {
	require.NoError(t, ValidateUserId("userA"))
	require.NoError(t, ValidateUserId(strings.Repeat("u", MaxUserIdLen)))

	for _, c := range []string{"", "   ", strings.Repeat("u", MaxUserIdLen+1)} {
		var verr *ValidationError
		require.ErrorAs(t, ValidateUserId(c), &verr, "input %q", c)
	}
}
