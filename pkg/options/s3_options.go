package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the object store firmware images are released to.
type S3Options struct {
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string        `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string        `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool          `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string        `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string        `json:"region" mapstructure:"region"`
	PresignExpiry   time.Duration `json:"presign-expiry" mapstructure:"presign-expiry"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:      "localhost:9000",
		UseSSL:        false,
		BucketName:    "firmware",
		Region:        "us-east-1",
		PresignExpiry: 24 * time.Hour,
	}
}

func (o *S3Options) Validate() []error {
	errors := []error{}

	if o.Endpoint == "" {
		errors = append(errors, fmt.Errorf("s3.endpoint is required"))
	}
	if o.BucketName == "" {
		errors = append(errors, fmt.Errorf("s3.bucket-name is required"))
	}
	// minio rejects presigned URLs valid for more than seven days
	if o.PresignExpiry <= 0 || o.PresignExpiry > 7*24*time.Hour {
		errors = append(errors, fmt.Errorf("s3.presign-expiry must be between 1s and 168h"))
	}

	return errors
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for firmware storage")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.DurationVar(&o.PresignExpiry, "s3.presign-expiry", o.PresignExpiry, "Validity of the presigned download URL")
}
