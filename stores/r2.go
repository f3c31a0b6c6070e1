// stores/r2.go
package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"fms-api/models"
)

const r2ObjectKey = "simulation/current.json"

// R2Config locates the bucket holding the simulation snapshot. Endpoint
// overrides the Cloudflare endpoint derived from AccountID, which lets the
// driver talk to any S3-compatible server.
type R2Config struct {
	AccountID       string `yaml:"account_id"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
}

func (c R2Config) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

// Validate reports the first missing setting.
func (c R2Config) Validate() error {
	switch {
	case c.Bucket == "":
		return fmt.Errorf("R2_BUCKET_NAME environment variable not set")
	case c.AccountID == "" && c.Endpoint == "":
		return fmt.Errorf("CLOUDFLARE_ACCOUNT_ID environment variable not set")
	case c.AccessKeyID == "" || c.AccessKeySecret == "":
		return fmt.Errorf("R2_ACCESS_KEY_ID and R2_ACCESS_KEY_SECRET must be set")
	}
	return nil
}

// objectAPI is the part of *s3.Client the store needs.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// R2Store keeps the simulation as a JSON object in a Cloudflare R2 bucket.
// Object storage has no transactions, so updates are serialised in process;
// a single service instance owns the bucket key.
type R2Store struct {
	mu     sync.Mutex
	client objectAPI
	bucket string
	key    string
	now    func() time.Time
}

// OpenR2 builds an S3 client for the R2 account in cfg.
func OpenR2(ctx context.Context, cfg R2Config) (*R2Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.endpoint())
		o.UsePathStyle = cfg.Endpoint != ""
	})
	return NewR2Store(client, cfg.Bucket), nil
}

func NewR2Store(client objectAPI, bucket string) *R2Store {
	return &R2Store{
		client: client,
		bucket: bucket,
		key:    r2ObjectKey,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (r *R2Store) get(ctx context.Context) (*models.Simulation, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from R2: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read from R2: %w", err)
	}
	var sim models.Simulation
	if err := json.Unmarshal(raw, &sim); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulation: %w", err)
	}
	return &sim, nil
}

func (r *R2Store) put(ctx context.Context, sim *models.Simulation) error {
	raw, err := json.Marshal(sim)
	if err != nil {
		return fmt.Errorf("failed to marshal simulation: %w", err)
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}
	return nil
}

func (r *R2Store) FindCurrent(ctx context.Context) (*models.Simulation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(ctx)
}

func (r *R2Store) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}
	return nil
}

func (r *R2Store) Create(ctx context.Context, sim *models.Simulation) (*models.Simulation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := sim.Clone()
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := r.put(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *R2Store) Update(ctx context.Context, name string, upd models.SimulationUpdate) (*models.Simulation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Name != name {
		return nil, ErrNotFound
	}
	upd.Apply(current)
	current.UpdatedAt = r.now()
	if err := r.put(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}
