package cfg

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// ParameterGetter is the subset of the SSM client used to resolve secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NeedsSecrets reports whether any secret is configured to come from SSM
// and has not already been supplied directly.
func (c App) NeedsSecrets() bool {
	return (c.AuthSecret == "" && c.AuthSecretSSMParam != "") ||
		(c.RevalidateSecret == "" && c.RevalidateSecretSSMParam != "")
}

// ResolveSecrets fills secrets that are empty but have an SSM parameter
// configured. A secret passed via flag or env always wins.
func ResolveSecrets(ctx context.Context, c *App, client ParameterGetter) error {
	if c.AuthSecret == "" && c.AuthSecretSSMParam != "" {
		v, err := getParameter(ctx, client, c.AuthSecretSSMParam)
		if err != nil {
			return xerrors.Wrap(err, "resolve auth-secret")
		}
		c.AuthSecret = v
	}
	if c.RevalidateSecret == "" && c.RevalidateSecretSSMParam != "" {
		v, err := getParameter(ctx, client, c.RevalidateSecretSSMParam)
		if err != nil {
			return xerrors.Wrap(err, "resolve revalidate-secret")
		}
		c.RevalidateSecret = v
	}
	return nil
}

func getParameter(ctx context.Context, client ParameterGetter, name string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}
