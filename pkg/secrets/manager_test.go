package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	secretsmanageriface.SecretsManagerAPI
	values map[string]string
	calls  []string
	err    error
}

func (f *fakeSecretsAPI) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.StringValue(in.SecretId)
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[id]
	if !ok {
		return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "no such secret", nil)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestNewManager_Backends(t *testing.T) {
	m, err := NewManager(Config{Backend: "env"}, clockwork.NewFakeClock(), logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, EnvironmentManager{}, m)

	_, err = NewManager(Config{Backend: "vault"}, clockwork.NewFakeClock(), logger.Nop())
	assert.Error(t, err)
}

func TestEnvironmentManager(t *testing.T) {
	t.Setenv("BIOFORGE_TEST_SECRET", "s3cret")

	v, err := EnvironmentManager{}.GetSecret(context.Background(), "BIOFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = EnvironmentManager{}.GetSecret(context.Background(), "BIOFORGE_TEST_UNSET")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAWSSecretsManager_CachesWithPrefix(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"bioforge/prod/JWT_SECRET": "from-aws"}}
	clock := clockwork.NewFakeClock()
	m := newAWSSecretsManager(api, Config{Prefix: "bioforge/prod/", CacheDuration: time.Minute}, clock, logger.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := m.GetSecret(ctx, "JWT_SECRET")
		require.NoError(t, err)
		assert.Equal(t, "from-aws", v)
	}
	assert.Len(t, api.calls, 1)

	clock.Advance(time.Minute)
	_, err := m.GetSecret(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, []string{"bioforge/prod/JWT_SECRET", "bioforge/prod/JWT_SECRET"}, api.calls)
}

func TestAWSSecretsManager_Errors(t *testing.T) {
	ctx := context.Background()

	missing := newAWSSecretsManager(&fakeSecretsAPI{}, DefaultConfig(), clockwork.NewFakeClock(), logger.Nop())
	_, err := missing.GetSecret(ctx, "STRIPE_SECRET_KEY")
	assert.ErrorIs(t, err, ErrNotFound)

	broken := newAWSSecretsManager(&fakeSecretsAPI{err: errors.New("throttled")}, DefaultConfig(), clockwork.NewFakeClock(), logger.Nop())
	_, err = broken.GetSecret(ctx, "STRIPE_SECRET_KEY")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOverlay(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"JWT_SECRET": "from-aws"}}
	m := newAWSSecretsManager(api, DefaultConfig(), clockwork.NewFakeClock(), logger.Nop())
	ctx := context.Background()

	jwt, stripeKey := "from-env", "sk_env"
	require.NoError(t, Overlay(ctx, m, map[string]*string{
		"JWT_SECRET":        &jwt,
		"STRIPE_SECRET_KEY": &stripeKey,
	}, "JWT_SECRET"))
	assert.Equal(t, "from-aws", jwt)
	assert.Equal(t, "sk_env", stripeKey)

	empty := ""
	err := Overlay(ctx, m, map[string]*string{"OPENAI_API_KEY": &empty}, "OPENAI_API_KEY")
	assert.Error(t, err)

	broken := newAWSSecretsManager(&fakeSecretsAPI{err: errors.New("throttled")}, DefaultConfig(), clockwork.NewFakeClock(), logger.Nop())
	err = Overlay(ctx, broken, map[string]*string{"JWT_SECRET": &jwt})
	assert.ErrorContains(t, err, "throttled")
}

func TestLoadString(t *testing.T) {
	m := newAWSSecretsManager(&fakeSecretsAPI{values: map[string]string{"A": "1"}}, DefaultConfig(), clockwork.NewFakeClock(), logger.Nop())
	ctx := context.Background()

	assert.Equal(t, "1", LoadString(ctx, m, "A", "fallback"))
	assert.Equal(t, "fallback", LoadString(ctx, m, "B", "fallback"))

	_, err := LoadStringRequired(ctx, m, "B")
	assert.Error(t, err)
}
