// Package buildpack builds images locally with the pack CLI and pushes them
// with the Docker engine.
//
// The pack CLI is downloaded once into the configuration bin directory.
// The local build is only used when the Docker engine answers a ping.
package buildpack

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/registry"
)

// Pack CLI and builder defaults.
const (
	PackVersion     = "v0.29.0"
	DefaultBuilder  = "mcr.microsoft.com/oryx/builder:builder-dotnet-7.0"
	DownloadBaseURL = "https://github.com/buildpacks/pack/releases/download"

	packExecName        = "pack"
	packExecNameWindows = "pack.exe"
	maxPackArchiveBytes = 200 * 1024 * 1024
	noDetectionMessage  = "No buildpack groups passed detection"
	downloadTimeout     = 5 * time.Minute
)

// Errors.
var (
	ErrUnsupportedOS     = errors.New("unsupported host OS for the pack CLI")
	ErrPackNotInArchive  = errors.New("pack executable not found in release archive")
	ErrDockerNotRunning  = errors.New("docker is not running")
	ErrPackBuildFailed   = errors.New("pack build failed")
	ErrPackConfigFailed  = errors.New("pack config failed")
	ErrPackInstallFailed = errors.New("the pack CLI could not be installed")
)

// Runner executes external commands, streaming stdout to out.
type Runner interface {
	Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. Stderr is returned in the error.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return apperrors.FromContext(ctx.Err())
		}
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// DockerClient is the subset of the Docker SDK used here.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

// Builder builds images with buildpacks.
type Builder struct {
	binDir     string
	builder    string
	goos       string
	baseURL    string
	runner     Runner
	docker     DockerClient
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(b *Builder) {
		b.runner = r
	}
}

// WithDocker injects the Docker client.
func WithDocker(d DockerClient) Option {
	return func(b *Builder) {
		b.docker = d
	}
}

// WithOS overrides the host OS used to pick the pack release.
func WithOS(goos string) Option {
	return func(b *Builder) {
		b.goos = goos
	}
}

// WithDownloadURL overrides the pack release base URL.
func WithDownloadURL(base string, c *http.Client) Option {
	return func(b *Builder) {
		b.baseURL = base
		b.httpClient = c
	}
}

// WithNow replaces the clock used for image tags.
func WithNow(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// New creates a buildpack builder keeping the pack CLI in binDir.
func New(binDir string, logger *zap.Logger, opts ...Option) *Builder {
	b := &Builder{
		binDir:     binDir,
		builder:    DefaultBuilder,
		goos:       runtime.GOOS,
		baseURL:    DownloadBaseURL,
		runner:     ExecRunner{},
		httpClient: &http.Client{Timeout: downloadTimeout},
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) dockerClient() (DockerClient, error) {
	if b.docker != nil {
		return b.docker, nil
	}
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	b.docker = c
	return c, nil
}

// DockerRunning reports whether the Docker engine answers a ping.
func (b *Builder) DockerRunning(ctx context.Context) bool {
	d, err := b.dockerClient()
	if err != nil {
		b.logger.Debug("Docker client unavailable", zap.Error(err))
		return false
	}
	if _, err := d.Ping(ctx); err != nil {
		b.logger.Debug("Docker ping failed", zap.Error(err))
		return false
	}
	return true
}

// Available reports whether a local buildpack build can run.
func (b *Builder) Available(ctx context.Context) bool {
	if !b.DockerRunning(ctx) {
		return false
	}
	if _, err := b.PackPath(ctx); err != nil {
		b.logger.Warn("Pack CLI unavailable, falling back to a remote build", zap.Error(err))
		return false
	}
	return true
}

// releaseAsset returns the archive name and executable name for goos.
func releaseAsset(goos string) (string, string, error) {
	prefix := "pack-" + PackVersion
	switch goos {
	case "linux":
		return prefix + "-linux.tgz", packExecName, nil
	case "darwin":
		return prefix + "-macos.tgz", packExecName, nil
	case "windows":
		return prefix + "-windows.zip", packExecNameWindows, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedOS, goos)
	}
}

// PackPath returns the pack executable, downloading it when missing.
func (b *Builder) PackPath(ctx context.Context) (string, error) {
	asset, execName, err := releaseAsset(b.goos)
	if err != nil {
		return "", err
	}
	path := filepath.Join(b.binDir, execName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	url := b.baseURL + "/" + PackVersion + "/" + asset
	b.logger.Info("Downloading pack CLI", zap.String("url", url))
	data, err := b.download(ctx, url)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPackInstallFailed, err)
	}

	var exe []byte
	if strings.HasSuffix(asset, ".zip") {
		exe, err = extractZip(data, execName)
	} else {
		exe, err = extractTarGz(data, execName)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPackInstallFailed, err)
	}

	if err := os.MkdirAll(b.binDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPackInstallFailed, err)
	}
	if err := os.WriteFile(path, exe, 0o755); err != nil { //nolint:gosec // the pack CLI must be executable
		return "", fmt.Errorf("%w: %v", ErrPackInstallFailed, err)
	}
	return path, nil
}

func (b *Builder) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.FromContext(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s returned status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPackArchiveBytes))
}

func extractTarGz(data []byte, execName string) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrPackNotInArchive
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg && strings.HasSuffix(hdr.Name, execName) {
			return io.ReadAll(io.LimitReader(tr, maxPackArchiveBytes))
		}
	}
}

func extractZip(data []byte, execName string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, execName) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, maxPackArchiveBytes))
	}
	return nil, ErrPackNotInArchive
}

// Build runs pack build for req and pushes the image. It returns the
// pushed image reference.
func (b *Builder) Build(ctx context.Context, req registry.BuildRequest) (string, error) {
	if req.Registry == nil || req.Registry.Server == "" {
		return "", apperrors.Validation("a buildpack build requires a registry server")
	}
	docker, err := b.dockerClient()
	if err != nil || !b.DockerRunning(ctx) {
		return "", apperrors.Validation("%v, please start Docker to use buildpacks", ErrDockerNotRunning)
	}
	pack, err := b.PackPath(ctx)
	if err != nil {
		return "", apperrors.Validation("%v", err)
	}

	ref := registry.TaggedImage(strings.ToLower(req.Image), strings.ToLower(req.Registry.Server), b.now())
	b.logger.Info("Building image with buildpacks",
		zap.String("image", ref),
		zap.String("builder", b.builder),
	)

	if err := b.runner.Run(ctx, "", io.Discard, pack, "config", "default-builder", b.builder); err != nil {
		return "", apperrors.Validation("%v: unable to set the default builder: %v", ErrPackConfigFailed, err)
	}

	args := []string{"build", ref, "--builder", b.builder, "--path", req.SourceDir}
	if req.TargetPort > 0 {
		args = append(args, "--env", "PORT="+strconv.Itoa(int(req.TargetPort)))
	}
	out := &lineLogger{logger: b.logger}
	runErr := b.runner.Run(ctx, req.SourceDir, out, pack, args...)
	out.flush()
	if out.undetected {
		return "", apperrors.Validation("current buildpacks do not support the platform targeted in the provided source code")
	}
	if runErr != nil {
		if apperrors.KindOf(runErr) == apperrors.KindCancelled {
			return "", runErr
		}
		return "", apperrors.RemoteFailed("PackBuildFailed", fmt.Sprintf("%v: %v", ErrPackBuildFailed, runErr))
	}

	if err := b.push(ctx, docker, ref, req.Registry); err != nil {
		return "", err
	}
	return ref, nil
}

func (b *Builder) push(ctx context.Context, docker DockerClient, ref string, reg *registry.Registry) error {
	b.logger.Warn("Built image locally using buildpacks, pushing to the registry", zap.String("image", ref))
	auth, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      reg.Username,
		Password:      reg.Password,
		ServerAddress: reg.Server,
	})
	if err != nil {
		return apperrors.Internal("failed to encode registry credentials: %v", err)
	}
	rc, err := docker.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return apperrors.RemoteFailed("DockerPushFailed", fmt.Sprintf("unable to push %s: %v", ref, err))
	}
	defer rc.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return apperrors.RemoteFailed("DockerPushFailed", fmt.Sprintf("unable to push %s: %v", ref, err))
	}
	b.logger.Debug("Pushed image", zap.String("image", ref))
	return nil
}

// lineLogger forwards pack output line by line and notices failed
// detection.
type lineLogger struct {
	logger     *zap.Logger
	buf        bytes.Buffer
	undetected bool
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			return len(p), nil
		}
		l.line(line)
	}
}

func (l *lineLogger) flush() {
	sc := bufio.NewScanner(&l.buf)
	for sc.Scan() {
		l.line(sc.Text())
	}
}

func (l *lineLogger) line(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	if strings.Contains(s, noDetectionMessage) {
		l.undetected = true
	}
	l.logger.Info(s, zap.String("source", "pack"))
}
