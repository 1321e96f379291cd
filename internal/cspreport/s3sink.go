package cspreport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

// PutObjectAPI is the subset of the S3 client the sink uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes each batch as one JSON object under
// <prefix>/YYYY/MM/DD/<unix-nanos>-<random>.json.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

func NewS3Sink(client PutObjectAPI, bucket, prefix string) (*S3Sink, error) {
	if client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("bucket is required")
	}
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

type archived struct {
	ReceivedAt time.Time   `json:"received_at"`
	Violations []Violation `json:"violations"`
}

func (s *S3Sink) Store(ctx context.Context, at time.Time, vs []Violation) error {
	body, err := json.Marshal(archived{ReceivedAt: at.UTC(), Violations: vs})
	if err != nil {
		return xerrors.Wrap(err, "encode csp reports")
	}
	key := s.key(at)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return nil
}

func (s *S3Sink) key(at time.Time) string {
	var rnd [4]byte
	_, _ = rand.Read(rnd[:])
	at = at.UTC()
	name := fmt.Sprintf("%s/%d-%s.json", at.Format("2006/01/02"), at.UnixNano(), hex.EncodeToString(rnd[:]))
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
