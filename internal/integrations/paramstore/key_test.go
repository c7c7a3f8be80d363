package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGetter is a minimal Getter stub.
type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestNewKey_Validates(t *testing.T) {
	_, err := NewKey(nil, "/voice/gemini-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewKey(&fakeGetter{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

func TestKey_FetchedOnce(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	k, err := NewKey(g, "/voice/gemini-token")
	require.NoError(t, err)

	v, err := k.Key(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", v)

	_, _ = k.Key(context.Background())
	_, _ = k.Key(context.Background())
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
}

func TestKey_RetriedAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	k, err := NewKey(g, "/voice/gemini-token")
	require.NoError(t, err)

	_, err = k.Key(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")

	g.err = nil
	g.val = `{"token":"sk-second"}`
	v, err := k.Key(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-second", v)
	require.Equal(t, 2, g.calls)
}

func TestFetchToken(t *testing.T) {
	cases := []struct {
		name    string
		val     string
		want    string
		wantErr string
	}{
		{name: "json token", val: `{"token":"sk-from-json"}`, want: "sk-from-json"},
		{name: "plain value", val: " sk-plain \n", want: "sk-plain"},
		{name: "missing token field", val: `{"other":"value"}`, wantErr: "API token is empty"},
		{name: "malformed json", val: `{"broken`, wantErr: "unmarshal"},
		{name: "empty", val: "  ", wantErr: "API token is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fetchToken(context.Background(), &fakeGetter{val: tc.val}, "/voice/token")
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
