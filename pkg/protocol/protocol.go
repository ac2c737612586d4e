// Package protocol defines the messages exchanged between the host and the
// companion. Requests, responses, file content and notifications are sealed
// sum types: only the variants declared here implement them.
package protocol

// Request tags.
const (
	TagGetDirectoryList = "getDirectoryList"
	TagGetFileList      = "getFileList"
	TagGetFileContent   = "getFileContent"
)

// Response tags.
const (
	TagDirectoryList = "directoryList"
	TagFileList      = "fileList"
	TagFileContent   = "fileContent"
	TagError         = "error"
)

// Content kinds.
const (
	KindText        = "text"
	KindImage       = "image"
	KindUnsupported = "unsupported"
)

// Notification tags.
const (
	TagDirectoryChanged = "directoryChanged"
)

// DirectoryRef identifies a storage root on the host.
type DirectoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// FileSummary is a display-oriented projection of one file.
type FileSummary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Icon     string  `json:"icon"`
	Preview  *string `json:"preview,omitempty"`
	IsPinned bool    `json:"isPinned"`
}

// ─── Requests ───────────────────────────────────────────────────────────────

// Request is one of GetDirectoryList, GetFileList or GetFileContent.
type Request interface {
	Tag() string
	isRequest()
}

// GetDirectoryList asks for every storage root the host can resolve.
type GetDirectoryList struct{}

// GetFileList asks for the pinned and unpinned files of a directory.
type GetFileList struct {
	Directory string
}

// GetFileContent asks for the content of one file.
type GetFileContent struct {
	Directory string
	FileName  string
}

func (GetDirectoryList) Tag() string { return TagGetDirectoryList }
func (GetFileList) Tag() string      { return TagGetFileList }
func (GetFileContent) Tag() string   { return TagGetFileContent }

func (GetDirectoryList) isRequest() {}
func (GetFileList) isRequest()      {}
func (GetFileContent) isRequest()   {}

// ─── Responses ──────────────────────────────────────────────────────────────

// Response is one of DirectoryList, FileList, FileContentResponse or
// ErrorResponse.
type Response interface {
	Tag() string
	isResponse()
}

// DirectoryList answers GetDirectoryList.
type DirectoryList struct {
	Directories []DirectoryRef
}

// FileList answers GetFileList. A file appears in at most one of the two
// sequences.
type FileList struct {
	Pinned   []FileSummary
	Unpinned []FileSummary
}

// FileContentResponse answers GetFileContent.
type FileContentResponse struct {
	Content FileContent
}

// ErrorResponse carries a human-readable failure.
type ErrorResponse struct {
	Message string
}

func (DirectoryList) Tag() string       { return TagDirectoryList }
func (FileList) Tag() string            { return TagFileList }
func (FileContentResponse) Tag() string { return TagFileContent }
func (ErrorResponse) Tag() string       { return TagError }

func (DirectoryList) isResponse()       {}
func (FileList) isResponse()            {}
func (FileContentResponse) isResponse() {}
func (ErrorResponse) isResponse()       {}

// ─── File content ───────────────────────────────────────────────────────────

// FileContent is one of TextContent, ImageContent or UnsupportedContent.
type FileContent interface {
	Kind() string
	isFileContent()
}

// TextContent is a file decoded as UTF-8. Empty text is valid.
type TextContent struct {
	Text string
}

// ImageContent holds re-encoded image bytes, never the raw file.
type ImageContent struct {
	Data []byte
}

// UnsupportedContent marks a file that is neither text nor a supported
// image. It is not an error.
type UnsupportedContent struct{}

func (TextContent) Kind() string        { return KindText }
func (ImageContent) Kind() string       { return KindImage }
func (UnsupportedContent) Kind() string { return KindUnsupported }

func (TextContent) isFileContent()        {}
func (ImageContent) isFileContent()       {}
func (UnsupportedContent) isFileContent() {}

// ─── Notifications ──────────────────────────────────────────────────────────

// Notification is a host-initiated message with no reply.
type Notification interface {
	Tag() string
	isNotification()
}

// DirectoryChanged reports that the files of a directory changed on the host.
type DirectoryChanged struct {
	Directory string
}

func (DirectoryChanged) Tag() string     { return TagDirectoryChanged }
func (DirectoryChanged) isNotification() {}
