// Package host answers companion requests from the document folders.
package host

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cbnote/cbnote/internal/filetypes"
	"github.com/cbnote/cbnote/internal/locale"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/metrics"
	"github.com/cbnote/cbnote/internal/repository"
	"github.com/cbnote/cbnote/internal/thumb"
	"github.com/cbnote/cbnote/internal/transport"
	"github.com/cbnote/cbnote/pkg/protocol"
)

// Error messages carried in protocol.ErrorResponse.
const (
	MsgInvalidDirectory = "Invalid directory"
	MsgCouldNotLoad     = "Could not load image"
	MsgCouldNotProcess  = "Could not process image"
	MsgCouldNotDecode   = "Could not decode request"
)

const maxPreviewRunes = 200

// FileRepository is the part of the repository the connector reads from.
type FileRepository interface {
	Directories(ctx context.Context) []repository.DocumentDir
	Resolve(ctx context.Context, id string) (repository.DocumentDir, error)
	ListFiles(ctx context.Context, dir repository.DocumentDir) (pinned, unpinned []repository.FileRef, err error)
	ReadText(ctx context.Context, dir repository.DocumentDir, name string) (string, error)
	ReadBytes(ctx context.Context, dir repository.DocumentDir, name string) ([]byte, error)
}

// Options configures a Connector.
type Options struct {
	Localizer    *locale.Localizer
	ImageWorkers int
}

// Connector resolves requests against a FileRepository. It never writes
// to the repository and is safe for concurrent use.
type Connector struct {
	repo   FileRepository
	loc    *locale.Localizer
	images *semaphore.Weighted
}

var _ transport.MessageHandler = (*Connector)(nil)

// New creates a Connector.
func New(repo FileRepository, opts Options) *Connector {
	if opts.Localizer == nil {
		opts.Localizer = locale.New()
	}
	if opts.ImageWorkers < 1 {
		opts.ImageWorkers = 2
	}
	return &Connector{
		repo:   repo,
		loc:    opts.Localizer,
		images: semaphore.NewWeighted(int64(opts.ImageWorkers)),
	}
}

// HandleMessage decodes one inbound payload, handles it and replies exactly
// once. An undecodable payload is answered with an error response; a
// response that cannot be encoded is logged and left unanswered.
func (c *Connector) HandleMessage(ctx context.Context, payload []byte, reply transport.ReplyFunc) {
	log := logging.WithContext(ctx)

	var resp protocol.Response
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		metrics.RecordUndecodablePayload()
		log.Warn("undecodable request", zap.Int("bytes", len(payload)), zap.Error(err))
		resp = protocol.ErrorResponse{Message: MsgCouldNotDecode}
	} else {
		resp = c.Handle(ctx, req)
	}

	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		metrics.RecordUnencodableResponse()
		log.Error("failed to encode response", zap.String("response", resp.Tag()), zap.Error(err))
		return
	}
	reply(data)
}

// Handle maps a request to its response. Every failure becomes an
// ErrorResponse.
func (c *Connector) Handle(ctx context.Context, req protocol.Request) protocol.Response {
	start := time.Now()
	var resp protocol.Response
	switch r := req.(type) {
	case protocol.GetDirectoryList:
		resp = c.directoryList(ctx)
	case protocol.GetFileList:
		resp = c.fileList(ctx, r.Directory)
	case protocol.GetFileContent:
		resp = c.fileContent(ctx, r.Directory, r.FileName)
	default:
		resp = protocol.ErrorResponse{Message: MsgCouldNotDecode}
	}

	tag := "unknown"
	if req != nil {
		tag = req.Tag()
	}
	outcome := resp.Tag()
	if fc, ok := resp.(protocol.FileContentResponse); ok {
		outcome = fc.Content.Kind()
	}
	metrics.RecordRequest(tag, outcome, time.Since(start))
	logging.WithContext(ctx).Debug("request handled",
		zap.String("request", tag),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)))
	return resp
}

func (c *Connector) directoryList(ctx context.Context) protocol.Response {
	dirs := c.repo.Directories(ctx)
	refs := make([]protocol.DirectoryRef, 0, len(dirs))
	for _, d := range dirs {
		refs = append(refs, protocol.DirectoryRef{
			ID:   string(d),
			Name: c.loc.String(d.NameKey()),
			Icon: d.Icon(),
		})
	}
	return protocol.DirectoryList{Directories: refs}
}

func (c *Connector) fileList(ctx context.Context, id string) protocol.Response {
	dir, err := c.repo.Resolve(ctx, id)
	if err != nil {
		return protocol.ErrorResponse{Message: MsgInvalidDirectory}
	}

	pinned, unpinned, err := c.repo.ListFiles(ctx, dir)
	if err != nil {
		// An unreadable folder lists as empty.
		logging.WithContext(ctx).Warn("list files failed", zap.String("directory", id), zap.Error(err))
		pinned, unpinned = nil, nil
	}
	return protocol.FileList{
		Pinned:   c.summaries(ctx, pinned, true),
		Unpinned: c.summaries(ctx, unpinned, false),
	}
}

func (c *Connector) summaries(ctx context.Context, files []repository.FileRef, pinned bool) []protocol.FileSummary {
	out := make([]protocol.FileSummary, 0, len(files))
	for _, f := range files {
		s := protocol.FileSummary{
			ID:       f.ID(),
			Name:     f.Name,
			Icon:     filetypes.Icon(f.Name),
			IsPinned: pinned,
		}
		if filetypes.IsEditableText(f.Name) {
			if text, err := c.repo.ReadText(ctx, f.Dir, f.Name); err == nil {
				if p, ok := Preview(text); ok {
					s.Preview = &p
				}
			}
		}
		out = append(out, s)
	}
	return out
}

func (c *Connector) fileContent(ctx context.Context, id, name string) protocol.Response {
	dir, err := c.repo.Resolve(ctx, id)
	if err != nil {
		return protocol.ErrorResponse{Message: MsgInvalidDirectory}
	}

	if filetypes.IsPreviewableImage(name) {
		return c.imageContent(ctx, dir, name)
	}

	text, err := c.repo.ReadText(ctx, dir, name)
	if err != nil {
		if !errors.Is(err, repository.ErrNotText) {
			logging.WithContext(ctx).Debug("read failed, reporting unsupported",
				zap.String("name", name), zap.Error(err))
		}
		return protocol.FileContentResponse{Content: protocol.UnsupportedContent{}}
	}
	return protocol.FileContentResponse{Content: protocol.TextContent{Text: text}}
}

func (c *Connector) imageContent(ctx context.Context, dir repository.DocumentDir, name string) protocol.Response {
	log := logging.WithContext(ctx)

	data, err := c.repo.ReadBytes(ctx, dir, name)
	if err != nil {
		log.Warn("read image failed", zap.String("name", name), zap.Error(err))
		return protocol.ErrorResponse{Message: MsgCouldNotLoad}
	}

	if err := c.images.Acquire(ctx, 1); err != nil {
		return protocol.ErrorResponse{Message: MsgCouldNotProcess}
	}
	out, err := thumb.Downscale(data)
	c.images.Release(1)

	switch {
	case errors.Is(err, thumb.ErrDecode):
		log.Warn("decode image failed", zap.String("name", name), zap.Error(err))
		return protocol.ErrorResponse{Message: MsgCouldNotLoad}
	case err != nil:
		log.Error("encode image failed", zap.String("name", name), zap.Error(err))
		return protocol.ErrorResponse{Message: MsgCouldNotProcess}
	}
	return protocol.FileContentResponse{Content: protocol.ImageContent{Data: out}}
}

// Preview returns the first line of text, capped at 200 runes. It reports
// false when that line is empty.
func Preview(text string) (string, bool) {
	if i := strings.IndexFunc(text, isNewline); i >= 0 {
		text = text[:i]
	}
	if text == "" {
		return "", false
	}
	if utf8.RuneCountInString(text) > maxPreviewRunes {
		runes := []rune(text)
		text = string(runes[:maxPreviewRunes])
	}
	return text, true
}

func isNewline(r rune) bool {
	switch r {
	case '\n', '\v', '\f', '\r', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
