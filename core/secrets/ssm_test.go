package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values map[string]string
	calls  []string
	err    error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	v, ok := f.values[name]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestNewRejectsNilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter(t *testing.T) {
	api := &fakeSSM{values: map[string]string{"/formbot/bot_token": "123:abc"}}
	c, err := New(api)
	require.NoError(t, err)

	v, err := c.GetParameter(context.Background(), " /formbot/bot_token ")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", v)

	_, err = c.GetParameter(context.Background(), "/formbot/missing")
	require.ErrorContains(t, err, "missing value")

	_, err = c.GetParameter(context.Background(), "  ")
	require.Error(t, err)
}

func TestGetParameterWrapsAPIError(t *testing.T) {
	boom := errors.New("access denied")
	c, err := New(&fakeSSM{err: boom})
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/x")
	require.ErrorIs(t, err, boom)
}

func TestResolveFillsOnlyEmptyFields(t *testing.T) {
	api := &fakeSSM{values: map[string]string{
		"/formbot/bot_token":       " 123:abc\n",
		"/formbot/weather_api_key": "from-ssm",
	}}
	c, err := New(api)
	require.NoError(t, err)

	token := ""
	weatherKey := "from-env"
	err = Resolve(context.Background(), c, "/formbot/", time.Second,
		Target{Name: "bot_token", Dest: &token},
		Target{Name: "weather_api_key", Dest: &weatherKey},
		Target{Name: "ignored", Dest: nil},
	)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", token)
	assert.Equal(t, "from-env", weatherKey)
	assert.Equal(t, []string{"/formbot/bot_token"}, api.calls)
}

func TestResolveStopsOnError(t *testing.T) {
	c, err := New(&fakeSSM{err: errors.New("throttled")})
	require.NoError(t, err)

	a, b := "", ""
	err = Resolve(context.Background(), c, "/p/", 0,
		Target{Name: "a", Dest: &a},
		Target{Name: "b", Dest: &b},
	)
	require.ErrorContains(t, err, "throttled")
	assert.Empty(t, a)
	assert.Empty(t, b)
}

func TestResolveNilGetter(t *testing.T) {
	require.Error(t, Resolve(context.Background(), nil, "", time.Second))
}
