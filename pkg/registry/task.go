package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Task defaults.
const (
	// DefaultTargetPort is the port the generated Dockerfile binds.
	DefaultTargetPort = 80
	// OryxTag is the Oryx CLI image used to generate Dockerfiles.
	OryxTag = "20230208.1"

	taskTemplateName   = "task.yaml.tmpl"
	runTypeEncodedTask = "EncodedTaskRunRequest"
	runPlatformLinux   = "Linux"
	runTimeoutSeconds  = 3600
	buildTimeout       = 28800
	pushTimeout        = 1800
	tagTimeLayout      = "20060102150405.000000"
	headerBlobType     = "x-ms-blob-type"
	blobTypeBlockBlob  = "BlockBlob"
	dockerfileName     = "Dockerfile"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var taskTemplate = template.Must(template.New(taskTemplateName).Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/"+taskTemplateName))

// archiveSkipDirs are never uploaded.
var archiveSkipDirs = map[string]bool{".git": true, "node_modules": true, "__pycache__": true}

// TaskData fills the task template.
type TaskData struct {
	Image      string
	TargetPort int32
	// Dockerfile is the Dockerfile path inside the source; empty generates
	// one with Oryx.
	Dockerfile string
}

// RenderTask renders the registry task file.
func RenderTask(data TaskData) (string, error) {
	if data.TargetPort == 0 {
		data.TargetPort = DefaultTargetPort
	}
	var buf bytes.Buffer
	err := taskTemplate.Execute(&buf, map[string]any{
		"Image":        data.Image,
		"TargetPort":   data.TargetPort,
		"Dockerfile":   data.Dockerfile,
		"OryxTag":      OryxTag,
		"BuildTimeout": buildTimeout,
		"PushTimeout":  pushTimeout,
	})
	if err != nil {
		return "", apperrors.Internal("failed to render registry task: %v", err)
	}
	return buf.String(), nil
}

// TaggedImage qualifies image with server and, when it has no tag, tags
// it with the time so existing images are not overwritten.
func TaggedImage(image, server string, now time.Time) string {
	segments := strings.Split(image, registryPathDivider)
	if !strings.Contains(segments[len(segments)-1], ":") {
		image += ":" + strings.ReplaceAll(now.Format(tagTimeLayout), ".", "")
	}
	if server != "" && !strings.HasPrefix(image, server) {
		image = server + registryPathDivider + image
	}
	return image
}

// Archive packs dir as a gzipped tarball with slash separated paths.
func Archive(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && archiveSkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, apperrors.Validation("failed to archive source %q: %v", dir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Uploader writes a build context to a pre-signed upload URL.
type Uploader interface {
	Upload(ctx context.Context, url string, body []byte) error
}

type blobUploader struct {
	client *http.Client
}

func (u blobUploader) Upload(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(headerBlobType, blobTypeBlockBlob)
	resp, err := u.client.Do(req)
	if err != nil {
		return apperrors.FromContext(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.RemoteFailed("SourceUploadFailed", fmt.Sprintf("uploading build context failed with status %d: %s", resp.StatusCode, msg))
	}
	return nil
}

// BuildRequest describes a source build.
type BuildRequest struct {
	SourceDir  string
	Image      string
	TargetPort int32
	Registry   *Registry
}

// TaskBuilder builds images with registry task runs.
type TaskBuilder struct {
	registries *clients.Registries
	uploader   Uploader
	now        func() time.Time
	logger     *zap.Logger
}

// TaskOption configures a TaskBuilder.
type TaskOption func(*TaskBuilder)

// WithUploader replaces the build context uploader.
func WithUploader(u Uploader) TaskOption {
	return func(b *TaskBuilder) {
		b.uploader = u
	}
}

// WithNow replaces the clock used for image tags.
func WithNow(now func() time.Time) TaskOption {
	return func(b *TaskBuilder) {
		b.now = now
	}
}

// NewTaskBuilder creates a task builder.
func NewTaskBuilder(registries *clients.Registries, logger *zap.Logger, opts ...TaskOption) *TaskBuilder {
	b := &TaskBuilder{
		registries: registries,
		uploader:   blobUploader{client: http.DefaultClient},
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build uploads the source, runs the task and returns the pushed image.
func (b *TaskBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	if req.Registry == nil || !req.Registry.IsACR() || req.Registry.ResourceGroup == "" {
		return "", apperrors.Validation("a registry task build requires an Azure container registry")
	}
	reg := req.Registry
	image := TaggedImage(req.Image, "", b.now())

	dockerfile := ""
	if _, err := os.Stat(filepath.Join(req.SourceDir, dockerfileName)); err == nil {
		dockerfile = dockerfileName
	}

	archive, err := Archive(req.SourceDir)
	if err != nil {
		return "", err
	}
	upload, err := b.registries.GetBuildSourceUploadURL(ctx, reg.ResourceGroup, reg.Name)
	if err != nil {
		return "", err
	}
	b.logger.Info("Uploading build context",
		zap.String("registry", reg.Name),
		zap.Int("bytes", len(archive)),
	)
	if err := b.uploader.Upload(ctx, upload.UploadURL, archive); err != nil {
		return "", err
	}

	task, err := RenderTask(TaskData{Image: image, TargetPort: req.TargetPort, Dockerfile: dockerfile})
	if err != nil {
		return "", err
	}
	run, err := b.registries.ScheduleRun(ctx, reg.ResourceGroup, reg.Name, &envelope.EncodedTaskRunRequest{
		Type:               runTypeEncodedTask,
		EncodedTaskContent: base64.StdEncoding.EncodeToString([]byte(task)),
		Platform:           envelope.RunPlatform{OS: runPlatformLinux},
		SourceLocation:     upload.RelativePath,
		Timeout:            runTimeoutSeconds,
	})
	if err != nil {
		return "", err
	}
	runID := run.Name
	if run.Properties != nil && run.Properties.RunID != "" {
		runID = run.Properties.RunID
	}
	b.logger.Info("Running registry build", zap.String("registry", reg.Name), zap.String("runId", runID))

	if _, err := b.registries.WaitRun(ctx, reg.ResourceGroup, reg.Name, runID); err != nil {
		b.logger.Error("Failed to build a container from source, consider adding a Dockerfile",
			zap.String("runId", runID),
			zap.Error(err),
		)
		return "", err
	}
	return TaggedImage(image, reg.Server, b.now()), nil
}
