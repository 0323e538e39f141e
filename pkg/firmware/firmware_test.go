package firmware

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/security"
	"github.com/thinger-io/thinger-ota/pkg/storage"
)

func writeBuild(t *testing.T, dir, env string, data []byte) string {
	t.Helper()
	buildDir := filepath.Join(dir, ".pio", "build", env)
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	path := filepath.Join(buildDir, "firmware.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "esp32dev.bin")
	require.NoError(t, os.WriteFile(path, []byte("image"), 0644))

	img, err := (&FileProvider{Path: path, Version: "1.0.0"}).Firmware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "esp32dev", img.Environment)
	assert.Equal(t, "1.0.0", img.Version)
	assert.Equal(t, 5, img.Size())
	assert.Len(t, img.SHA256, 64)

	_, err = (&FileProvider{Path: filepath.Join(dir, "missing.bin")}).Firmware(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPlatformIOSingleEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeBuild(t, dir, "esp32dev", []byte{0xE9})

	img, err := (&PlatformIOProvider{ProjectDir: dir}).Firmware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "esp32dev", img.Environment)
	assert.Equal(t, path, img.Path)
}

func TestPlatformIOSeveralEnvironments(t *testing.T) {
	dir := t.TempDir()
	writeBuild(t, dir, "esp32dev", []byte{1})
	writeBuild(t, dir, "nodemcuv2", []byte{2, 2})

	envs, err := Environments(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"esp32dev", "nodemcuv2"}, envs)

	_, err = (&PlatformIOProvider{ProjectDir: dir}).Firmware(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "esp32dev, nodemcuv2")

	img, err := (&PlatformIOProvider{ProjectDir: dir, Environment: "nodemcuv2"}).Firmware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 2}, img.Data)

	_, err = (&PlatformIOProvider{ProjectDir: dir, Environment: "uno"}).Firmware(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPlatformIONoBuild(t *testing.T) {
	_, err := (&PlatformIOProvider{ProjectDir: t.TempDir()}).Firmware(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPlatformIOBuildFailure(t *testing.T) {
	p := &PlatformIOProvider{
		ProjectDir: t.TempDir(),
		Build:      true,
		Command:    filepath.Join(t.TempDir(), "no-such-pio"),
	}
	_, err := p.Firmware(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PlatformIO build failed")
}

type bucket map[string][]byte

func (b bucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b bucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key := range b {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func TestS3Provider(t *testing.T) {
	client := storage.NewClientWithAPI(bucket{
		"esp32/1.0.0.bin": {1},
		"esp32/1.1.0.bin": {1, 1},
	}, "firmware", nil)

	img, err := (&S3Provider{Client: client, Key: "esp32/"}).Firmware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "esp32", img.Environment)
	assert.Equal(t, "1.1.0", img.Version)
	assert.Equal(t, "s3://esp32/1.1.0.bin", img.Path)

	img, err = (&S3Provider{Client: client, Key: "esp32/1.0.0.bin", Version: "custom"}).Firmware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "custom", img.Version)

	_, err = (&S3Provider{Client: client, Key: "esp8266/"}).Firmware(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

type staticProvider struct{ img *Image }

func (p staticProvider) Firmware(context.Context) (*Image, error) { return p.img, nil }

func TestLoadValidates(t *testing.T) {
	v := security.NewValidator(4, 1, 1024, nil)

	_, err := Load(context.Background(), staticProvider{NewImage([]byte("12345"), "env", "", "")}, v)
	assert.Error(t, err)

	_, err = Load(context.Background(), staticProvider{NewImage([]byte("1234"), "env", "latest", "")}, v)
	assert.Error(t, err)

	img, err := Load(context.Background(), staticProvider{NewImage([]byte("1234"), "env", "1.0.0", "")}, v)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", img.Version)
}
