package cfg

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values map[string]string
	err    error
	calls  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[name]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestResolveSecrets_FillsFromSSM(t *testing.T) {
	f := &fakeSSM{values: map[string]string{
		"/edge/auth":       "  auth-from-ssm \n",
		"/edge/revalidate": "reval-from-ssm",
	}}
	c := App{AuthSecretSSMParam: "/edge/auth", RevalidateSecretSSMParam: "/edge/revalidate"}
	if !c.NeedsSecrets() {
		t.Fatal("NeedsSecrets: want true")
	}
	if err := ResolveSecrets(context.Background(), &c, f); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	if c.AuthSecret != "auth-from-ssm" {
		t.Errorf("AuthSecret=%q", c.AuthSecret)
	}
	if c.RevalidateSecret != "reval-from-ssm" {
		t.Errorf("RevalidateSecret=%q", c.RevalidateSecret)
	}
}

func TestResolveSecrets_DirectValueWins(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/edge/auth": "ssm"}}
	c := App{AuthSecret: "direct", AuthSecretSSMParam: "/edge/auth"}
	if c.NeedsSecrets() {
		t.Fatal("NeedsSecrets: want false when value supplied")
	}
	if err := ResolveSecrets(context.Background(), &c, f); err != nil {
		t.Fatal(err)
	}
	if c.AuthSecret != "direct" || len(f.calls) != 0 {
		t.Fatalf("AuthSecret=%q calls=%v", c.AuthSecret, f.calls)
	}
}

func TestResolveSecrets_Errors(t *testing.T) {
	c := App{RevalidateSecretSSMParam: "/edge/missing"}
	err := ResolveSecrets(context.Background(), &c, &fakeSSM{})
	wantErrContains(t, err, "has no value")

	boom := errors.New("throttled")
	c = App{AuthSecretSSMParam: "/edge/auth"}
	err = ResolveSecrets(context.Background(), &c, &fakeSSM{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped ssm error, got %v", err)
	}
	if !strings.Contains(err.Error(), "resolve auth-secret") {
		t.Fatalf("missing context: %v", err)
	}
}
