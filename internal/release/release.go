// Package release publishes firmware images and builds the update commands
// that point nodes at them.
package release

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/sensornode/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/sensornode/pkg/log"
	mqtttopic "github.com/autopeer-io/sensornode/pkg/mqtt/topic"
)

// Image describes a firmware file on disk.
type Image struct {
	Path string
	Size uint64
	MD5  string
}

// Inspect computes the size and MD5 of the image at p.
func Inspect(fs afero.Fs, p string) (*Image, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", p, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s is empty", p)
	}
	return &Image{Path: p, Size: uint64(n), MD5: hex.EncodeToString(h.Sum(nil))}, nil
}

// Command is an update command as understood by the node.
type Command struct {
	RequestID string
	URL       string
	Size      uint64
	MD5       string
	Restart   bool
}

func (c *Command) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"requestId": c.RequestID,
		"update": map[string]any{
			"url":     c.URL,
			"size":    float64(c.Size),
			"md5":     c.MD5,
			"restart": c.Restart,
		},
	})
}

func (c *Command) JSON() ([]byte, error) {
	s, err := c.Struct()
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true}.Marshal(s)
}

type Releaser struct {
	fs       afero.Fs
	provider Provider
	expiry   time.Duration
	newID    func() string
}

func NewReleaser(fs afero.Fs, provider Provider, expiry time.Duration) *Releaser {
	return &Releaser{fs: fs, provider: provider, expiry: expiry, newID: uuid.NewString}
}

// Release uploads the image under key (its base name when empty) and returns
// the command that installs it.
func (r *Releaser) Release(ctx context.Context, imagePath, key string, restart bool) (*Command, error) {
	img, err := Inspect(r.fs, imagePath)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = path.Base(imagePath)
	}

	if err := r.provider.CheckBucket(ctx); err != nil {
		return nil, err
	}

	f, err := r.fs.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := r.provider.Upload(ctx, key, f, int64(img.Size)); err != nil {
		return nil, err
	}

	url, err := r.provider.GeneratePresignedURL(ctx, key, r.expiry)
	if err != nil {
		return nil, err
	}

	cmd := &Command{
		RequestID: r.newID(),
		URL:       url,
		Size:      img.Size,
		MD5:       img.MD5,
		Restart:   restart,
	}
	log.Info("Firmware released", "key", key, "size", img.Size, "md5", img.MD5, "requestId", cmd.RequestID)
	return cmd, nil
}

// Publisher is satisfied by every server link client.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

// Publish sends cmd to the command topic of each node.
func Publish(ctx context.Context, pub Publisher, topics *mqtttopic.Builder, cmd *Command, nodeIDs ...string) error {
	s, err := cmd.Struct()
	if err != nil {
		return err
	}
	payload, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	for _, id := range nodeIDs {
		topic := topics.Build(paths.Command, id)
		if err := pub.Publish(ctx, topic, 1, false, payload); err != nil {
			return fmt.Errorf("publish to %s: %w", id, err)
		}
		log.Info("Update command published", "node", id, "topic", topic, "requestId", cmd.RequestID)
	}
	return nil
}
