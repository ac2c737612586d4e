package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned when a message tag or Go value is not one of
// the declared variants.
var ErrUnknownVariant = errors.New("unknown message variant")

type wireRequest struct {
	Type      string `json:"type"`
	Directory string `json:"directory,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

type wireResponse struct {
	Type        string         `json:"type"`
	Directories []DirectoryRef `json:"directories,omitempty"`
	Pinned      []FileSummary  `json:"pinned,omitempty"`
	Unpinned    []FileSummary  `json:"unpinned,omitempty"`
	Content     *wireContent   `json:"content,omitempty"`
	Message     string         `json:"message,omitempty"`
}

type wireContent struct {
	Kind string  `json:"kind"`
	Text *string `json:"text,omitempty"`
	Data []byte  `json:"data,omitempty"`
}

type wireNotification struct {
	Type      string `json:"type"`
	Directory string `json:"directory,omitempty"`
}

// EncodeRequest serializes a request.
func EncodeRequest(req Request) ([]byte, error) {
	var w wireRequest
	switch r := req.(type) {
	case GetDirectoryList:
		w.Type = TagGetDirectoryList
	case GetFileList:
		w.Type = TagGetFileList
		w.Directory = r.Directory
	case GetFileContent:
		w.Type = TagGetFileContent
		w.Directory = r.Directory
		w.FileName = r.FileName
	default:
		return nil, fmt.Errorf("encode request %T: %w", req, ErrUnknownVariant)
	}
	return json.Marshal(w)
}

// DecodeRequest parses a request payload.
func DecodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch w.Type {
	case TagGetDirectoryList:
		return GetDirectoryList{}, nil
	case TagGetFileList:
		return GetFileList{Directory: w.Directory}, nil
	case TagGetFileContent:
		return GetFileContent{Directory: w.Directory, FileName: w.FileName}, nil
	default:
		return nil, fmt.Errorf("decode request %q: %w", w.Type, ErrUnknownVariant)
	}
}

// EncodeResponse serializes a response.
func EncodeResponse(resp Response) ([]byte, error) {
	var w wireResponse
	switch r := resp.(type) {
	case DirectoryList:
		w.Type = TagDirectoryList
		w.Directories = r.Directories
	case FileList:
		w.Type = TagFileList
		w.Pinned = r.Pinned
		w.Unpinned = r.Unpinned
	case FileContentResponse:
		c, err := encodeContent(r.Content)
		if err != nil {
			return nil, err
		}
		w.Type = TagFileContent
		w.Content = c
	case ErrorResponse:
		w.Type = TagError
		w.Message = r.Message
	default:
		return nil, fmt.Errorf("encode response %T: %w", resp, ErrUnknownVariant)
	}
	return json.Marshal(w)
}

// DecodeResponse parses a response payload. Empty sequences decode as empty,
// non-nil slices.
func DecodeResponse(data []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch w.Type {
	case TagDirectoryList:
		return DirectoryList{Directories: nonNil(w.Directories)}, nil
	case TagFileList:
		return FileList{Pinned: nonNil(w.Pinned), Unpinned: nonNil(w.Unpinned)}, nil
	case TagFileContent:
		if w.Content == nil {
			return nil, fmt.Errorf("decode response: file content missing")
		}
		c, err := decodeContent(*w.Content)
		if err != nil {
			return nil, err
		}
		return FileContentResponse{Content: c}, nil
	case TagError:
		return ErrorResponse{Message: w.Message}, nil
	default:
		return nil, fmt.Errorf("decode response %q: %w", w.Type, ErrUnknownVariant)
	}
}

func encodeContent(content FileContent) (*wireContent, error) {
	switch c := content.(type) {
	case TextContent:
		text := c.Text
		return &wireContent{Kind: KindText, Text: &text}, nil
	case ImageContent:
		return &wireContent{Kind: KindImage, Data: c.Data}, nil
	case UnsupportedContent:
		return &wireContent{Kind: KindUnsupported}, nil
	default:
		return nil, fmt.Errorf("encode content %T: %w", content, ErrUnknownVariant)
	}
}

func decodeContent(w wireContent) (FileContent, error) {
	switch w.Kind {
	case KindText:
		if w.Text == nil {
			return TextContent{}, nil
		}
		return TextContent{Text: *w.Text}, nil
	case KindImage:
		return ImageContent{Data: w.Data}, nil
	case KindUnsupported:
		return UnsupportedContent{}, nil
	default:
		return nil, fmt.Errorf("decode content %q: %w", w.Kind, ErrUnknownVariant)
	}
}

// EncodeNotification serializes a notification.
func EncodeNotification(n Notification) ([]byte, error) {
	switch v := n.(type) {
	case DirectoryChanged:
		return json.Marshal(wireNotification{Type: TagDirectoryChanged, Directory: v.Directory})
	default:
		return nil, fmt.Errorf("encode notification %T: %w", n, ErrUnknownVariant)
	}
}

// DecodeNotification parses a notification payload.
func DecodeNotification(data []byte) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	switch w.Type {
	case TagDirectoryChanged:
		return DirectoryChanged{Directory: w.Directory}, nil
	default:
		return nil, fmt.Errorf("decode notification %q: %w", w.Type, ErrUnknownVariant)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
