package release

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"

	mqtttopic "github.com/autopeer-io/sensornode/pkg/mqtt/topic"
)

type fakeProvider struct {
	checked  bool
	uploaded map[string][]byte
	expiry   time.Duration
	failPut  error
}

func (p *fakeProvider) CheckBucket(context.Context) error {
	p.checked = true
	return nil
}

func (p *fakeProvider) Upload(_ context.Context, key string, r io.Reader, size int64) error {
	if p.failPut != nil {
		return p.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	if p.uploaded == nil {
		p.uploaded = make(map[string][]byte)
	}
	p.uploaded[key] = data
	return nil
}

func (p *fakeProvider) GeneratePresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	p.expiry = expiry
	return "https://s3.local/firmware/" + key + "?sig=x", nil
}

func writeImage(t *testing.T, fs afero.Fs, p string, data string) {
	t.Helper()
	if err := afero.WriteFile(fs, p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInspect(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/img/fw.bin", "hello world")

	img, err := Inspect(fs, "/img/fw.bin")
	if err != nil {
		t.Fatal(err)
	}
	if img.Size != 11 || img.MD5 != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("image = %+v", img)
	}

	writeImage(t, fs, "/img/empty.bin", "")
	if _, err := Inspect(fs, "/img/empty.bin"); err == nil {
		t.Error("empty image accepted")
	}
	if _, err := Inspect(fs, "/img/missing.bin"); err == nil {
		t.Error("missing image accepted")
	}
}

func TestRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/img/fw-1.2.bin", "hello world")
	p := &fakeProvider{}
	r := NewReleaser(fs, p, time.Hour)
	r.newID = func() string { return "req-1" }

	cmd, err := r.Release(context.Background(), "/img/fw-1.2.bin", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.checked || string(p.uploaded["fw-1.2.bin"]) != "hello world" || p.expiry != time.Hour {
		t.Errorf("provider = %+v", p)
	}
	want := Command{RequestID: "req-1", URL: "https://s3.local/firmware/fw-1.2.bin?sig=x", Size: 11, MD5: "5eb63bbbe01eeed093cb22bb8f5acdc3", Restart: true}
	if *cmd != want {
		t.Errorf("command = %+v, want %+v", *cmd, want)
	}

	p.failPut = errors.New("denied")
	if _, err := r.Release(context.Background(), "/img/fw-1.2.bin", "k", false); !errors.Is(err, p.failPut) {
		t.Errorf("err = %v", err)
	}
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, topic string, _ int, retain bool, payload []byte) error {
	if retain {
		return errors.New("commands must not be retained")
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func TestPublish(t *testing.T) {
	pub := &fakePublisher{}
	cmd := &Command{RequestID: "r1", URL: "http://h/f", Size: 1000, MD5: "0123456789abcdef0123456789abcdef"}
	if err := Publish(context.Background(), pub, mqtttopic.NewBuilder("node/v1"), cmd, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if len(pub.topics) != 2 || pub.topics[0] != "node/v1/command/a" || pub.topics[1] != "node/v1/command/b" {
		t.Errorf("topics = %v", pub.topics)
	}

	var got struct {
		RequestID string `json:"requestId"`
		Update    struct {
			URL     string  `json:"url"`
			Size    float64 `json:"size"`
			MD5     string  `json:"md5"`
			Restart bool    `json:"restart"`
		} `json:"update"`
	}
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "r1" || got.Update.Size != 1000 || got.Update.URL != "http://h/f" || got.Update.Restart {
		t.Errorf("payload = %+v", got)
	}
}
