// Package archive keeps raw report payloads in S3 (or an S3-compatible
// store such as MinIO) so imports can be audited and replayed.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/klauspost/compress/zstd"

	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/logger"
)

const (
	objectSuffix = ".zst"
	autoTool     = "auto"

	// maxObjectSize bounds a single archived payload once decompressed.
	maxObjectSize = 256 << 20
)

// objectAPI is the subset of the S3 client used by the archive.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ArchivedReport describes one stored payload.
type ArchivedReport struct {
	Key          string    `json:"key"`
	Workspace    string    `json:"workspace"`
	JobID        string    `json:"job_id"`
	Tool         string    `json:"tool,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// S3Archive stores zstd-compressed report payloads under
// <prefix>/<workspace>/<job id>/<tool>.zst.
type S3Archive struct {
	client  objectAPI
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *logger.Logger
}

var _ ingest.Archive = (*S3Archive)(nil)

// NewS3Archive builds an S3 client from configuration. Static keys take
// precedence; with a role ARN the credentials are obtained through STS.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig, log *logger.Logger) (*S3Archive, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Region))
	}

	switch {
	case cfg.AccessKeyID != "":
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case cfg.RoleARN != "":
		baseCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		creds := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "scanmerge-archive"
		})
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(creds)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	})

	return newS3Archive(client, cfg.Bucket, cfg.Prefix, log)
}

func newS3Archive(client objectAPI, bucket, prefix string, log *logger.Logger) (*S3Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: archive bucket is required", shared.ErrValidation)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &S3Archive{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		encoder: enc,
		decoder: dec,
		logger:  log.With("component", "archive"),
	}, nil
}

// Close releases the zstd decoder.
func (a *S3Archive) Close() {
	a.decoder.Close()
}

// Key returns the object key of an archived payload.
func (a *S3Archive) Key(workspace, jobID, tool string) string {
	if tool == "" {
		tool = autoTool
	}
	return path.Join(a.prefix, workspace, jobID, tool+objectSuffix)
}

// Put stores a payload and returns its object key.
func (a *S3Archive) Put(ctx context.Context, workspace, jobID, tool string, payload []byte) (string, error) {
	key := a.Key(workspace, jobID, tool)
	body := a.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/4))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"workspace": workspace,
			"job-id":    jobID,
			"tool":      tool,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put %s: %w", key, err)
	}
	return key, nil
}

// Get downloads and inflates one payload.
func (a *S3Archive) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(raw) > maxObjectSize {
		return nil, fmt.Errorf("%w: archived object %s is too large", shared.ErrValidation, key)
	}

	payload, err := a.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate %s: %w", key, err)
	}
	return payload, nil
}

// List returns a workspace's archived payloads, oldest first. An empty
// workspace lists every workspace.
func (a *S3Archive) List(ctx context.Context, workspace string) ([]ArchivedReport, error) {
	prefix := a.prefix
	if workspace != "" {
		prefix = path.Join(prefix, workspace)
	}
	if prefix != "" {
		prefix += "/"
	}

	var reports []ArchivedReport
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			report, err := a.parseKey(key)
			if err != nil {
				a.logger.Debug("skipping foreign object", "key", key)
				continue
			}
			report.Size = aws.ToInt64(obj.Size)
			report.LastModified = aws.ToTime(obj.LastModified)
			reports = append(reports, report)
		}
	}

	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].LastModified.Equal(reports[j].LastModified) {
			return reports[i].LastModified.Before(reports[j].LastModified)
		}
		return reports[i].Key < reports[j].Key
	})
	return reports, nil
}

var errForeignKey = errors.New("not an archived report key")

func (a *S3Archive) parseKey(key string) (ArchivedReport, error) {
	rel := key
	if a.prefix != "" {
		if !strings.HasPrefix(key, a.prefix+"/") {
			return ArchivedReport{}, errForeignKey
		}
		rel = strings.TrimPrefix(key, a.prefix+"/")
	}

	parts := strings.Split(rel, "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], objectSuffix) {
		return ArchivedReport{}, errForeignKey
	}
	tool := strings.TrimSuffix(parts[2], objectSuffix)
	if tool == autoTool {
		tool = ""
	}
	return ArchivedReport{Key: key, Workspace: parts[0], JobID: parts[1], Tool: tool}, nil
}
