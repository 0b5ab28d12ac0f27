package escrow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToLamports(t *testing.T) {
	cases := []struct {
		price string
		want  uint64
	}{
		{"2.5", 2_500_000_000},
		{"1", 1_000_000_000},
		{"0.000000001", 1},
		{" 0.1 ", 100_000_000},
		{"+3", 3_000_000_000},
		{"007.50", 7_500_000_000},
		{"18446744073.709551615", 18446744073709551615},
	}
	for _, tc := range cases {
		got, err := ToLamports(tc.price)
		require.NoError(t, err, tc.price)
		require.Equal(t, tc.want, got, tc.price)
	}
}

func TestToLamportsRejects(t *testing.T) {
	cases := map[string]error{
		"":                      ErrInvalidAmount,
		"0":                     ErrInvalidAmount,
		"-1":                    ErrInvalidAmount,
		"abc":                   ErrInvalidAmount,
		"1e9":                   ErrInvalidAmount,
		"1/3":                   ErrInvalidAmount,
		"0x10":                  ErrInvalidAmount,
		"0b11":                  ErrInvalidAmount,
		"0o7":                   ErrInvalidAmount,
		"1_000":                 ErrInvalidAmount,
		".5":                    ErrInvalidAmount,
		"1.":                    ErrInvalidAmount,
		"0.0000000001":          ErrFractionalLamports,
		"18446744073.709551616": ErrInvalidAmount,
	}
	for price, want := range cases {
		_, err := ToLamports(price)
		require.Error(t, err, price)
		require.True(t, errors.Is(err, want), "price %q: got %v", price, err)
	}
}

func TestNormalizePrice(t *testing.T) {
	got, err := NormalizePrice("2.500")
	require.NoError(t, err)
	require.Equal(t, "2.5", got)

	got, err = NormalizePrice("3.0")
	require.NoError(t, err)
	require.Equal(t, "3", got)

	require.Equal(t, "0.000000001", FormatLamports(1))
}
